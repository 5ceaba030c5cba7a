package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/umputun/dbx/pkg/dberr"
	"github.com/umputun/dbx/pkg/field"
	"github.com/umputun/dbx/pkg/sqltext"
)

// Query is a text query. Parameter values are written into the query text as literals
// on every execution, nothing is prepared on the server.
type Query struct {
	command
}

// Initialize checks the parameters match the placeholders and compiles the query.
func (q *Query) Initialize(ctx context.Context) error {
	return q.initialize(ctx, func(int) string { return "?" }, func(_ context.Context, conn *sql.Conn, _ *plan) (runner, error) {
		return &textRunner{conn: conn, scanner: q.conn.backend.Scanner()}, nil
	})
}

// textRunner substitutes literals for placeholders and executes the resulting text
type textRunner struct {
	conn    *sql.Conn
	scanner sqltext.Scanner
}

func (r *textRunner) exec(ctx context.Context, text string, args []*field.Value) (sql.Result, error) {
	q, err := substitute(r.scanner, text, args)
	if err != nil {
		return nil, err
	}
	return r.conn.ExecContext(ctx, q)
}

func (r *textRunner) query(ctx context.Context, text string, args []*field.Value) (rowSource, error) {
	q, err := substitute(r.scanner, text, args)
	if err != nil {
		return nil, err
	}
	return r.conn.QueryContext(ctx, q)
}

// substitute replaces "?" placeholders of text with literals of args, in order
func substitute(s sqltext.Scanner, text string, args []*field.Value) (string, error) {
	if len(args) == 0 {
		return text, nil
	}
	segs, err := s.Split(text)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	k := 0
	for _, seg := range segs {
		if seg.Kind != sqltext.Placeholder {
			b.WriteString(seg.Text)
			continue
		}
		if k >= len(args) {
			return "", dberr.New(dberr.ErrStatement, "more placeholders than %d values in %q", len(args), text)
		}
		lit, err := args[k].Literal()
		if err != nil {
			return "", err
		}
		b.WriteString(lit)
		k++
	}
	if k != len(args) {
		return "", dberr.New(dberr.ErrStatement, "%d placeholders for %d values in %q", k, len(args), text)
	}
	return b.String(), nil
}
