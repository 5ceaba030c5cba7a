package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/go-pkgz/stringutils"

	"github.com/umputun/dbx/pkg/dberr"
	"github.com/umputun/dbx/pkg/field"
	"github.com/umputun/dbx/pkg/sqltext"
)

const maxLoggedQuery = 120

type cmdState int

const (
	cmdCreated cmdState = iota
	cmdIdle
	cmdExecuting
	cmdDisposed
)

// command is the part shared by Statement and Query: parameters, the compiled plan and execution
// results. Lifecycle is created -> idle (after Initialize) <-> executing -> disposed (after Cleanup).
type command struct {
	conn   *Connection
	query  string
	params []*Parameter
	state  cmdState
	gen    int // connection generation the plan was made for

	plan *plan
	run  runner

	lastErr      error
	rowsAffected int64
	lastInsertID int64
}

func newCommand(c *Connection, query string) command {
	return command{conn: c, query: query}
}

// CreateParameter adds the next parameter, in placeholder order. OUT and INOUT parameters need
// a plain identifier name unique within the statement, it names the session variable they are bound to.
// Parameters can be created only before Initialize.
func (c *command) CreateParameter(infos field.Infos, dir Direction) (*Parameter, error) {
	if c.state != cmdCreated {
		return nil, dberr.New(dberr.ErrStatement, "can't create parameter %q after initialization", infos.Name)
	}
	switch dir {
	case In:
	case Out, InOut:
		if !sqltext.IsIdent(infos.Name) {
			return nil, dberr.New(dberr.ErrParameter, "invalid name %q of %s parameter", infos.Name, dir)
		}
		for _, p := range c.params {
			if p.Direction() != In && strings.EqualFold(p.Name(), infos.Name) {
				return nil, dberr.New(dberr.ErrParameter, "duplicate %s parameter %q", dir, infos.Name)
			}
		}
	default:
		return nil, dberr.New(dberr.ErrParameter, "invalid direction %s of parameter %q", dir, infos.Name)
	}

	p, err := newParameter(infos, len(c.params)+1, dir, c.conn.Formatter())
	if err != nil {
		return nil, err
	}
	c.params = append(c.params, p)
	return p, nil
}

// initialize compiles the plan and makes the runner, it runs once
func (c *command) initialize(ctx context.Context, placeholder func(int) string,
	prepare func(ctx context.Context, conn *sql.Conn, pl *plan) (runner, error)) error {
	switch c.state {
	case cmdCreated:
	case cmdDisposed:
		return dberr.New(dberr.ErrStatement, "statement is disposed")
	default:
		return dberr.New(dberr.ErrStatement, "statement is already initialized")
	}
	conn, err := c.conn.handle()
	if err != nil {
		return err
	}
	pl, err := buildPlan(c.conn.backend, c.query, c.params, placeholder)
	if err != nil {
		return dberr.Wrap(dberr.ErrStatement, err, fmt.Sprintf("can't compile %q", c.short()))
	}
	r, err := prepare(ctx, conn, pl)
	if err != nil {
		return err
	}
	if cl, ok := r.(io.Closer); ok {
		c.conn.track(cl)
	}
	c.plan, c.run, c.gen, c.state = pl, r, c.conn.gen, cmdIdle
	log.Printf("[DEBUG] initialized %q, %d parameters, %d companions", c.short(), len(c.params), len(pl.inits))
	return nil
}

// ready checks execution preconditions
func (c *command) ready() error {
	switch c.state {
	case cmdCreated:
		return dberr.New(dberr.ErrStatement, "statement is not initialized")
	case cmdExecuting:
		return dberr.New(dberr.ErrStatement, "statement is executing")
	case cmdDisposed:
		return dberr.New(dberr.ErrStatement, "statement is disposed")
	}
	if !c.conn.IsConnected() {
		return ErrNotConnected
	}
	if c.conn.gen != c.gen {
		return dberr.New(dberr.ErrConnection, "connection was reopened after %q was initialized", c.short())
	}
	return nil
}

// ExecuteUpdate executes the statement with current parameter values. OUT and INOUT parameters
// receive their values after a successful execution. Backend failures are logged, kept in LastError
// and reported as false, errors are returned for broken preconditions.
func (c *command) ExecuteUpdate(ctx context.Context) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	c.begin()
	defer c.end()

	err := c.plan.before(ctx, c.run)
	if err == nil {
		var res sql.Result
		if res, err = c.run.exec(ctx, c.plan.text, c.plan.args()); err == nil {
			c.collect(res)
			err = c.plan.after(ctx, c.run)
		}
	}
	if err != nil {
		c.fail(err)
		return false, nil
	}
	return true, nil
}

// ExecuteSelect executes the statement and fetches all rows. Backend failures are logged,
// kept in LastError and reported as nil result.
func (c *command) ExecuteSelect(ctx context.Context) (*Result, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	c.begin()
	defer c.end()

	res, err := c.selectRows(ctx)
	if err != nil {
		c.fail(err)
		return nil, nil
	}
	return res, nil
}

func (c *command) selectRows(ctx context.Context) (*Result, error) {
	if err := c.plan.before(ctx, c.run); err != nil {
		return nil, err
	}
	rows, err := c.run.query(ctx, c.plan.text, c.plan.args())
	if err != nil {
		return nil, err
	}
	res, err := newResult(c.conn.backend, c.conn.Formatter(), rows)
	if err != nil {
		return nil, err
	}
	if err := c.plan.after(ctx, c.run); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *command) begin() {
	c.state = cmdExecuting
	c.lastErr, c.rowsAffected, c.lastInsertID = nil, 0, 0
}

func (c *command) end() {
	if c.state == cmdExecuting {
		c.state = cmdIdle
	}
}

// collect keeps counters of res, backends not reporting them leave zeros
func (c *command) collect(res sql.Result) {
	if n, err := res.RowsAffected(); err == nil {
		c.rowsAffected = n
	}
	if id, err := res.LastInsertId(); err == nil {
		c.lastInsertID = id
	}
}

func (c *command) fail(err error) {
	c.lastErr = dberr.Wrap(dberr.ErrGeneric, err, fmt.Sprintf("%q failed", c.short()))
	log.Printf("[WARN] %v", c.lastErr)
}

// Cleanup releases native statement handles. The statement can't be used after that,
// repeated calls do nothing. Handles of a disconnected or reopened connection are already released.
func (c *command) Cleanup() error {
	if c.state == cmdDisposed {
		return nil
	}
	c.state = cmdDisposed
	var err error
	if cl, ok := c.run.(io.Closer); ok {
		err = c.conn.release(cl, c.gen)
	}
	c.plan, c.run = nil, nil
	return dberr.Wrap(dberr.ErrStatement, err, fmt.Sprintf("can't clean up %q", c.short()))
}

// Parameter returns the parameter by its 1-based index.
func (c *command) Parameter(i int) (*Parameter, error) {
	if i < 1 || i > len(c.params) {
		return nil, dberr.New(dberr.ErrParameter, "no parameter #%d, statement has %d", i, len(c.params))
	}
	return c.params[i-1], nil
}

// ParameterByName returns the first parameter with the name, case-insensitive.
func (c *command) ParameterByName(name string) (*Parameter, error) {
	for _, p := range c.params {
		if strings.EqualFold(p.Name(), name) {
			return p, nil
		}
	}
	return nil, dberr.New(dberr.ErrParameter, "no parameter %q", name)
}

// Parameters returns all parameters in placeholder order.
func (c *command) Parameters() []*Parameter { return c.params }

// SetParameterValue assigns v to the parameter with 1-based index i.
func (c *command) SetParameterValue(i int, v any) error {
	p, err := c.Parameter(i)
	if err != nil {
		return err
	}
	return p.Set(v)
}

// SetParameterNull makes the parameter with 1-based index i null.
func (c *command) SetParameterNull(i int) error {
	p, err := c.Parameter(i)
	if err != nil {
		return err
	}
	p.SetNull()
	return nil
}

// LastError returns the backend failure of the last execution, nil if it succeeded.
func (c *command) LastError() error { return c.lastErr }

// RowsAffected returns the rows affected by the last ExecuteUpdate.
func (c *command) RowsAffected() int64 { return c.rowsAffected }

// LastInsertID returns the id generated by the last ExecuteUpdate, zero if the backend doesn't report it.
func (c *command) LastInsertID() int64 { return c.lastInsertID }

// Query returns the query text as given.
func (c *command) Query() string { return c.query }

// Text returns the compiled main statement text, empty before Initialize.
func (c *command) Text() string {
	if c.plan == nil {
		return ""
	}
	return c.plan.text
}

// IsInitialized reports whether the statement can be executed.
func (c *command) IsInitialized() bool { return c.state == cmdIdle || c.state == cmdExecuting }

func (c *command) short() string {
	return stringutils.Truncate(strings.Join(strings.Fields(c.query), " "), maxLoggedQuery)
}
