package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/umputun/dbx/pkg/field"
	"github.com/umputun/dbx/pkg/sqltext"
)

// fakeServer is an in-test database recording every statement it gets
type fakeServer struct {
	mu     sync.Mutex
	log    []string
	args   map[string][]driver.NamedValue
	opened int
	// statements closed while their connection is open and after it was closed
	stmtsClosed, lateCloses int
	// handle returns rows for a query, nil rows means an empty result
	handle func(query string, args []driver.NamedValue) (*fakeRows, error)
}

func newFakeServer() *fakeServer {
	return &fakeServer{args: map[string][]driver.NamedValue{}}
}

func (s *fakeServer) run(query string, args []driver.NamedValue) (*fakeRows, error) {
	s.mu.Lock()
	s.log = append(s.log, query)
	s.args[query] = args
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return &fakeRows{}, nil
	}
	rows, err := h(query, args)
	if rows == nil && err == nil {
		rows = &fakeRows{}
	}
	return rows, err
}

func (s *fakeServer) queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.log...)
}

func (s *fakeServer) argsOf(query string) []driver.NamedValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.args[query]
}

func (s *fakeServer) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = nil
}

func (s *fakeServer) closes() (closed, late int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stmtsClosed, s.lateCloses
}

func (s *fakeServer) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

type fakeConnector struct{ srv *fakeServer }

func (c *fakeConnector) Connect(context.Context) (driver.Conn, error) {
	c.srv.mu.Lock()
	c.srv.opened++
	c.srv.mu.Unlock()
	return &fakeConn{srv: c.srv}, nil
}

func (c *fakeConnector) Driver() driver.Driver { return fakeDriver{} }

type fakeDriver struct{}

func (fakeDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("fakeDriver.Open should not be called")
}

type fakeConn struct {
	srv    *fakeServer
	closed bool
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{conn: c, query: query}, nil
}

func (c *fakeConn) Close() error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Begin() (driver.Tx, error)  { return nil, errors.New("not supported") }
func (c *fakeConn) Ping(context.Context) error { return nil }

func (c *fakeConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if _, err := c.srv.run(query, args); err != nil {
		return nil, err
	}
	return fakeResult{rows: 1, id: 42}, nil
}

func (c *fakeConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	return c.srv.run(query, args)
}

type fakeStmt struct {
	conn  *fakeConn
	query string
}

func (s *fakeStmt) Close() error {
	s.conn.srv.mu.Lock()
	defer s.conn.srv.mu.Unlock()
	if s.conn.closed {
		s.conn.srv.lateCloses++
		return nil
	}
	s.conn.srv.stmtsClosed++
	return nil
}

func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec([]driver.Value) (driver.Result, error) {
	return nil, errors.New("fakeStmt.Exec should not be called")
}

func (s *fakeStmt) Query([]driver.Value) (driver.Rows, error) {
	return nil, errors.New("fakeStmt.Query should not be called")
}

func (s *fakeStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	return s.conn.ExecContext(ctx, s.query, args)
}

func (s *fakeStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return s.conn.QueryContext(ctx, s.query, args)
}

type fakeResult struct{ rows, id int64 }

func (r fakeResult) LastInsertId() (int64, error) { return r.id, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, nil }

// fakeRows serves values as driver.Rows and as rowSource
type fakeRows struct {
	cols []string
	vals [][]any
	pos  int
	cur  []any
}

func (r *fakeRows) Columns() []string { return r.cols }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.vals) {
		return io.EOF
	}
	for i, v := range r.vals[r.pos] {
		dest[i] = v
	}
	r.pos++
	return nil
}

// mockRows is a rowSource without column types
type mockRows struct {
	fakeRows
	closed bool
}

func (r *mockRows) Columns() ([]string, error) { return r.cols, nil }

func (r *mockRows) Next() bool {
	if r.pos >= len(r.vals) {
		return false
	}
	r.cur = r.vals[r.pos]
	r.pos++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	if len(dest) != len(r.cur) {
		return errors.New("wrong number of destinations")
	}
	for i, v := range r.cur {
		*(dest[i].(*any)) = v
	}
	return nil
}

func (r *mockRows) Err() error { return nil }

func (r *mockRows) Close() error {
	r.closed = true
	return nil
}

// fakeBackend speaks canonical SQL over fakeServer
type fakeBackend struct {
	srv         *fakeServer
	placeholder func(n int) string
	translate   func(query string) (string, error)
	reopen      bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{srv: newFakeServer()}
}

func (b *fakeBackend) Name() string               { return "fake" }
func (b *fakeBackend) Formatter() field.Formatter { return field.DefaultFormatter{} }
func (b *fakeBackend) Scanner() sqltext.Scanner   { return sqltext.ANSI }

func (b *fakeBackend) ColumnInfos(ct *sql.ColumnType) field.Infos {
	return field.NewInfos(ct.Name(), field.Null)
}

func (b *fakeBackend) Placeholder(n int) string {
	if b.placeholder != nil {
		return b.placeholder(n)
	}
	return "?"
}

func (b *fakeBackend) Open(context.Context, Params) (*sql.DB, error) {
	return sql.OpenDB(&fakeConnector{srv: b.srv}), nil
}

func (b *fakeBackend) Setup(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, "SETUP")
	return err
}

func (b *fakeBackend) Translate(query string) (string, error) {
	if b.translate != nil {
		return b.translate(query)
	}
	return query, nil
}

func (b *fakeBackend) TxStatements(op TxOp, name string) ([]string, error) {
	res := strings.ToUpper(op.String())
	if name != "" {
		res += " " + name
	}
	return []string{res}, nil
}

func (b *fakeBackend) CreateDatabase(ctx context.Context, conn *sql.Conn, _ Params, name string) error {
	_, err := conn.ExecContext(ctx, "CREATE DATABASE "+name)
	return err
}

func (b *fakeBackend) DestroyDatabase(ctx context.Context, conn *sql.Conn, _ Params, name string) error {
	_, err := conn.ExecContext(ctx, "DROP DATABASE "+name)
	return err
}

func (b *fakeBackend) SelectDatabase(ctx context.Context, conn *sql.Conn, name string) (bool, error) {
	if b.reopen {
		return true, nil
	}
	_, err := conn.ExecContext(ctx, "USE "+name)
	return false, err
}
