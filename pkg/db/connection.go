package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"

	"github.com/hashicorp/go-multierror"

	"github.com/umputun/dbx/pkg/dberr"
	"github.com/umputun/dbx/pkg/field"
)

// precondition errors of connections and transactions, all of them are connection errors
var (
	ErrNotConnected         = dberr.New(dberr.ErrConnection, "not connected")
	ErrAlreadyInTransaction = dberr.New(dberr.ErrConnection, "already in transaction")
	ErrNotInTransaction     = dberr.New(dberr.ErrConnection, "not in transaction")
)

// State of a connection
type State int

// enum of connection states
const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Connection is a single physical connection to a backend. It is not safe for concurrent use,
// the Database facade gives every session its own connection.
type Connection struct {
	backend Backend
	params  Params
	state   State
	gen     int // incremented on every connect, statements prepared on an older handle are stale
	inTx    bool
	txName  string

	db   *sql.DB   // limited to one physical connection
	conn *sql.Conn // pinned connection all the work goes through

	prepared map[io.Closer]struct{} // native statements bound to conn, closed before it

	lastErr      error
	rowsAffected int64
	lastInsertID int64
}

// NewConnection makes a disconnected connection.
func NewConnection(backend Backend, params Params) *Connection {
	return &Connection{backend: backend, params: params}
}

// Connect opens the native handle and prepares it with the backend setup. Connecting a connected
// connection does nothing.
func (c *Connection) Connect(ctx context.Context) error {
	if c.state == Connected {
		return nil
	}
	c.state = Connecting
	log.Printf("[DEBUG] connect to %s %s", c.backend.Name(), c.params)

	db, err := c.backend.Open(ctx, c.params)
	if err != nil {
		c.state = Disconnected
		return dberr.Wrap(dberr.ErrConnection, err, fmt.Sprintf("can't open %s", c.backend.Name()))
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		c.state = Disconnected
		return dberr.Wrap(dberr.ErrConnection, err, fmt.Sprintf("can't connect to %s %s", c.backend.Name(), c.params))
	}
	if err := c.backend.Setup(ctx, conn); err != nil {
		_ = conn.Close()
		_ = db.Close()
		c.state = Disconnected
		return dberr.Wrap(dberr.ErrConnection, err, fmt.Sprintf("can't set up %s connection", c.backend.Name()))
	}

	c.db, c.conn = db, conn
	c.state, c.inTx, c.txName = Connected, false, ""
	c.gen++
	log.Printf("[INFO] connected to %s %s", c.backend.Name(), c.params)
	return nil
}

// Disconnect closes the native handle. An open transaction is left to the server to roll back.
// Disconnecting a disconnected connection does nothing.
func (c *Connection) Disconnect() error {
	if c.state != Connected {
		return nil
	}
	if c.inTx {
		log.Printf("[WARN] disconnect from %s with open transaction %q", c.backend.Name(), c.txName)
	}
	errs := new(multierror.Error)
	// statements are bound to the native connection and must be released while it is alive
	for r := range c.prepared {
		errs = multierror.Append(errs, r.Close())
	}
	c.prepared = nil
	errs = multierror.Append(errs, c.conn.Close())
	errs = multierror.Append(errs, c.db.Close())
	c.db, c.conn = nil, nil
	c.state, c.inTx, c.txName = Disconnected, false, ""
	log.Printf("[DEBUG] disconnected from %s %s", c.backend.Name(), c.params)
	return dberr.Wrap(dberr.ErrConnection, errs.ErrorOrNil(), "can't disconnect")
}

// Ping checks the connection is alive.
func (c *Connection) Ping(ctx context.Context) error {
	conn, err := c.handle()
	if err != nil {
		return err
	}
	return dberr.Wrap(dberr.ErrConnection, conn.PingContext(ctx), "connection lost")
}

// State returns the connection state.
func (c *Connection) State() State { return c.state }

// IsConnected reports whether the connection is connected.
func (c *Connection) IsConnected() bool { return c.state == Connected }

// IsInTransaction reports whether a transaction is open.
func (c *Connection) IsInTransaction() bool { return c.inTx }

// TransactionName returns the name of the open transaction, empty for the unnamed one.
func (c *Connection) TransactionName() string { return c.txName }

// Backend returns the backend of the connection.
func (c *Connection) Backend() Backend { return c.backend }

// Formatter returns the literal writer of the backend.
func (c *Connection) Formatter() field.Formatter { return c.backend.Formatter() }

// Params returns the connection parameters, Database follows SelectDatabase.
func (c *Connection) Params() Params { return c.params }

// LastError returns the backend failure of the last direct ExecuteUpdate or ExecuteSelect, nil if it succeeded.
func (c *Connection) LastError() error { return c.lastErr }

// RowsAffected returns the rows affected by the last direct ExecuteUpdate.
func (c *Connection) RowsAffected() int64 { return c.rowsAffected }

// LastInsertID returns the id generated by the last direct ExecuteUpdate, if the backend reports it.
func (c *Connection) LastInsertID() int64 { return c.lastInsertID }

// BeginTransaction opens a transaction. Backends without named transactions use the name as a savepoint
// or ignore it, an empty name is the single unnamed transaction.
func (c *Connection) BeginTransaction(ctx context.Context, name string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if c.inTx {
		return fmt.Errorf("%w %q", ErrAlreadyInTransaction, c.txName)
	}
	if err := c.runTx(ctx, TxBegin, name); err != nil {
		return err
	}
	c.inTx, c.txName = true, name
	log.Printf("[DEBUG] transaction %q started", name)
	return nil
}

// Commit commits the open transaction.
func (c *Connection) Commit(ctx context.Context) error {
	if err := c.checkTx(); err != nil {
		return err
	}
	if err := c.runTx(ctx, TxCommit, c.txName); err != nil {
		return err
	}
	log.Printf("[DEBUG] transaction %q committed", c.txName)
	c.inTx, c.txName = false, ""
	return nil
}

// RollBack rolls the open transaction back.
func (c *Connection) RollBack(ctx context.Context) error {
	if err := c.checkTx(); err != nil {
		return err
	}
	if err := c.runTx(ctx, TxRollback, c.txName); err != nil {
		return err
	}
	log.Printf("[DEBUG] transaction %q rolled back", c.txName)
	c.inTx, c.txName = false, ""
	return nil
}

func (c *Connection) checkTx() error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if !c.inTx {
		return ErrNotInTransaction
	}
	return nil
}

// runTx executes the backend primitive of a transaction operation, the state is changed by the caller on success
func (c *Connection) runTx(ctx context.Context, op TxOp, name string) error {
	stmts, err := c.backend.TxStatements(op, name)
	if err != nil {
		return dberr.Wrap(dberr.ErrConnection, err, fmt.Sprintf("can't %s transaction %q", op, name))
	}
	for _, q := range stmts {
		if _, err := c.conn.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%w: can't %s transaction %q: %w", dberr.ErrConnection, op, name, err)
		}
	}
	return nil
}

// CreateDatabase creates a database on the server.
func (c *Connection) CreateDatabase(ctx context.Context, name string) error {
	conn, err := c.handle()
	if err != nil {
		return err
	}
	if err := c.backend.CreateDatabase(ctx, conn, c.params, name); err != nil {
		return dberr.Wrap(dberr.ErrConnection, err, fmt.Sprintf("can't create database %q", name))
	}
	log.Printf("[INFO] database %q created", name)
	return nil
}

// DestroyDatabase drops a database from the server.
func (c *Connection) DestroyDatabase(ctx context.Context, name string) error {
	conn, err := c.handle()
	if err != nil {
		return err
	}
	if err := c.backend.DestroyDatabase(ctx, conn, c.params, name); err != nil {
		return dberr.Wrap(dberr.ErrConnection, err, fmt.Sprintf("can't destroy database %q", name))
	}
	log.Printf("[INFO] database %q destroyed", name)
	return nil
}

// SelectDatabase makes name the current database. Backends which can't switch an open connection
// get reconnected, statements prepared before that become stale. Not allowed inside a transaction.
func (c *Connection) SelectDatabase(ctx context.Context, name string) error {
	conn, err := c.handle()
	if err != nil {
		return err
	}
	if c.inTx {
		return fmt.Errorf("%w %q, can't select database %q", ErrAlreadyInTransaction, c.txName, name)
	}
	reopen, err := c.backend.SelectDatabase(ctx, conn, name)
	if err != nil {
		return dberr.Wrap(dberr.ErrConnection, err, fmt.Sprintf("can't select database %q", name))
	}
	if !reopen {
		c.params.Database = name
		log.Printf("[DEBUG] database %q selected", name)
		return nil
	}

	prev := c.params
	if err := c.Disconnect(); err != nil {
		log.Printf("[WARN] %v", err)
	}
	c.params.Database = name
	if err := c.Connect(ctx); err != nil {
		c.params = prev
		if rerr := c.Connect(ctx); rerr != nil {
			log.Printf("[WARN] can't reconnect to %q: %v", prev.Database, rerr)
		}
		return dberr.Wrap(dberr.ErrConnection, err, fmt.Sprintf("can't select database %q", name))
	}
	log.Printf("[DEBUG] database %q selected, connection reopened", name)
	return nil
}

// NewStatement makes a prepared statement for query. Parameters are created next, then it gets initialized.
func (c *Connection) NewStatement(query string) *Statement {
	return &Statement{command: newCommand(c, query)}
}

// NewQuery makes a text query for query, parameters are substituted as literals.
func (c *Connection) NewQuery(query string) *Query {
	return &Query{command: newCommand(c, query)}
}

// ExecuteUpdate runs a statement without parameters. Backend failures are logged, kept in LastError
// and reported as false. Errors are returned for preconditions and invalid query text only.
func (c *Connection) ExecuteUpdate(ctx context.Context, query string) (bool, error) {
	q := c.NewQuery(query)
	defer q.Cleanup() //nolint:errcheck // queries hold no native handles
	if err := q.Initialize(ctx); err != nil {
		return false, err
	}
	ok, err := q.ExecuteUpdate(ctx)
	c.lastErr, c.rowsAffected, c.lastInsertID = q.LastError(), q.RowsAffected(), q.LastInsertID()
	return ok, err
}

// ExecuteSelect runs a query without parameters and fetches its rows. Backend failures are logged,
// kept in LastError and reported as nil result.
func (c *Connection) ExecuteSelect(ctx context.Context, query string) (*Result, error) {
	q := c.NewQuery(query)
	defer q.Cleanup() //nolint:errcheck // queries hold no native handles
	if err := q.Initialize(ctx); err != nil {
		return nil, err
	}
	res, err := q.ExecuteSelect(ctx)
	c.lastErr = q.LastError()
	return res, err
}

// track registers native statements to close on disconnect
func (c *Connection) track(r io.Closer) {
	if c.prepared == nil {
		c.prepared = map[io.Closer]struct{}{}
	}
	c.prepared[r] = struct{}{}
}

// release closes statements of r unless the connection they belong to is gone,
// Disconnect has closed them already in that case
func (c *Connection) release(r io.Closer, gen int) error {
	if _, ok := c.prepared[r]; !ok || gen != c.gen {
		return nil
	}
	delete(c.prepared, r)
	return r.Close()
}

func (c *Connection) handle() (*sql.Conn, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}
