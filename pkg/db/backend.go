// Package db implements uniform database access on top of backends: connections with transactions,
// per-session connection affinity, prepared statements and text queries with IN, OUT and INOUT parameters,
// and typed results.
//
// OUT and INOUT parameters are emulated with session variables. A statement with such parameters is
// compiled into a pipeline: companion statements initializing the variables, the main statement referencing
// them, and a read-back select copying variables into the parameters after the main statement.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/umputun/dbx/pkg/dberr"
	"github.com/umputun/dbx/pkg/field"
	"github.com/umputun/dbx/pkg/sqltext"
)

// Backend is a database engine. Backends speak canonical SQL with "?" placeholders and "@name"
// session variables, the ones without native session variables translate them in Translate.
type Backend interface {
	// Name returns the name the backend is registered with
	Name() string
	// Formatter returns the literal writer of the backend
	Formatter() field.Formatter
	// Scanner returns the SQL text scanner matching the backend quoting rules
	Scanner() sqltext.Scanner
	// Placeholder returns the n-th (1-based) input placeholder
	Placeholder(n int) string
	// Open makes a native handle for params, the caller limits it to a single physical connection
	Open(ctx context.Context, params Params) (*sql.DB, error)
	// Setup prepares a freshly opened connection, i.e. creates session variable storage
	Setup(ctx context.Context, conn *sql.Conn) error
	// Translate rewrites canonical session variable syntax into the backend dialect
	Translate(query string) (string, error)
	// TxStatements returns the statements of a transaction operation, name is empty for the unnamed transaction
	TxStatements(op TxOp, name string) ([]string, error)
	// CreateDatabase creates a database, DestroyDatabase drops it
	CreateDatabase(ctx context.Context, conn *sql.Conn, params Params, name string) error
	DestroyDatabase(ctx context.Context, conn *sql.Conn, params Params, name string) error
	// SelectDatabase switches conn to the database, reopen is true if the connection has to be reopened instead
	SelectDatabase(ctx context.Context, conn *sql.Conn, name string) (reopen bool, err error)
	// ColumnInfos maps a native column type to field infos
	ColumnInfos(ct *sql.ColumnType) field.Infos
}

// dynamicTyper is implemented by backends storing any value in any column, their declared
// column types are only a preference
type dynamicTyper interface {
	DynamicTyping() bool
}

// Dialer makes network connections for backends, i.e. through an ssh tunnel.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Params defines how to connect. Server is host[:port] for network backends and a directory for sqlite.
type Params struct {
	Server   string
	User     string
	Password string
	Database string
	Options  map[string]string // backend specific options, i.e. tls or sslmode
	Dialer   Dialer            // optional
}

func (p Params) String() string {
	return fmt.Sprintf("%s@%s/%s", p.User, p.Server, p.Database)
}

// TxOp is a transaction operation.
type TxOp int

// enum of transaction operations
const (
	TxBegin TxOp = iota
	TxCommit
	TxRollback
)

func (op TxOp) String() string {
	switch op {
	case TxBegin:
		return "begin"
	case TxCommit:
		return "commit"
	case TxRollback:
		return "rollback"
	}
	return fmt.Sprintf("txop(%d)", int(op))
}

var (
	backendsMu sync.RWMutex
	backends   = map[string]Backend{}
)

// Register makes a backend available by its name. Backends register themselves in init,
// registering the same name twice panics.
func Register(b Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if b == nil {
		panic("db: register nil backend")
	}
	if _, dup := backends[b.Name()]; dup {
		panic("db: register called twice for backend " + b.Name())
	}
	backends[b.Name()] = b
}

// Lookup returns a registered backend.
func Lookup(name string) (Backend, error) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	b, ok := backends[name]
	if !ok {
		return nil, dberr.New(dberr.ErrConnection, "unknown backend %q (forgotten import?)", name)
	}
	return b, nil
}

// Backends returns sorted names of registered backends.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	res := make([]string, 0, len(backends))
	for name := range backends {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}

// Open makes a database facade for a registered backend. Nothing is connected yet.
func Open(name string, params Params) (*Database, error) {
	b, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return New(b, params), nil
}
