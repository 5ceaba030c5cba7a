package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/umputun/dbx/pkg/dberr"
	"github.com/umputun/dbx/pkg/field"
)

// Statement is a prepared statement with "?" placeholders. It is prepared once by Initialize
// and can be executed any number of times with different parameter values.
type Statement struct {
	command
}

// Initialize checks the parameters match the placeholders and prepares the statement
// and its companions on the connection.
func (s *Statement) Initialize(ctx context.Context) error {
	return s.initialize(ctx, s.conn.backend.Placeholder, prepareStatements)
}

// stmtRunner executes prepared statements, one per distinct plan text
type stmtRunner struct {
	stmts map[string]*sql.Stmt
}

func prepareStatements(ctx context.Context, conn *sql.Conn, pl *plan) (runner, error) {
	r := &stmtRunner{stmts: map[string]*sql.Stmt{}}
	for _, text := range pl.texts() {
		st, err := conn.PrepareContext(ctx, text)
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("%w: can't prepare %q: %w", dberr.ErrStatement, text, err)
		}
		r.stmts[text] = st
	}
	return r, nil
}

func (r *stmtRunner) stmt(text string) (*sql.Stmt, error) {
	st, ok := r.stmts[text]
	if !ok {
		return nil, dberr.New(dberr.ErrStatement, "statement %q is not prepared", text)
	}
	return st, nil
}

func (r *stmtRunner) exec(ctx context.Context, text string, args []*field.Value) (sql.Result, error) {
	st, err := r.stmt(text)
	if err != nil {
		return nil, err
	}
	return st.ExecContext(ctx, bindArgs(args)...)
}

func (r *stmtRunner) query(ctx context.Context, text string, args []*field.Value) (rowSource, error) {
	st, err := r.stmt(text)
	if err != nil {
		return nil, err
	}
	return st.QueryContext(ctx, bindArgs(args)...)
}

// Close closes all prepared statements
func (r *stmtRunner) Close() error {
	errs := new(multierror.Error)
	for text, st := range r.stmts {
		errs = multierror.Append(errs, st.Close())
		delete(r.stmts, text)
	}
	return errs.ErrorOrNil()
}

// bindArgs passes values as driver.Valuer, null values bind as NULL
func bindArgs(values []*field.Value) []any {
	res := make([]any, len(values))
	for i, v := range values {
		res[i] = v
	}
	return res
}
