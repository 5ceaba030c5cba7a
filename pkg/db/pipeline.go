package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/umputun/dbx/pkg/dberr"
	"github.com/umputun/dbx/pkg/field"
	"github.com/umputun/dbx/pkg/sqltext"
)

// runner executes statement texts of a plan on one connection, args are bound to the text placeholders in order
type runner interface {
	exec(ctx context.Context, text string, args []*field.Value) (sql.Result, error)
	query(ctx context.Context, text string, args []*field.Value) (rowSource, error)
}

// rowSource is the part of *sql.Rows results are fetched from
type rowSource interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// companion is a statement executed before the main one. It either pushes the value of an INOUT
// parameter into its session variable via the param mirror, or resets the variable of an OUT one.
type companion struct {
	text   string
	param  *Parameter // IN mirror of source bound to the only placeholder, nil for OUT parameters
	source *Parameter
}

// plan is a compiled statement: companions, the main statement and the read-back select.
// All texts are translated to the backend dialect.
type plan struct {
	text     string
	ins      []*Parameter // bound to the main statement, in placeholder order
	inits    []companion
	readback string
	outs     []*Parameter
}

// buildPlan compiles query with its parameters. Placeholders of IN parameters are renumbered
// with placeholder, OUT and INOUT ones are replaced by the session variable of the parameter name.
func buildPlan(b Backend, query string, params []*Parameter, placeholder func(n int) string) (*plan, error) {
	segs, err := b.Scanner().Split(query)
	if err != nil {
		return nil, err
	}
	count := 0
	for _, seg := range segs {
		if seg.Kind == sqltext.Placeholder {
			count++
		}
	}
	if count != len(params) {
		return nil, dberr.New(dberr.ErrStatement, "query has %d placeholders, %d parameters created", count, len(params))
	}

	res := &plan{}
	var main strings.Builder
	k := 0
	for _, seg := range segs {
		if seg.Kind != sqltext.Placeholder {
			main.WriteString(seg.Text)
			continue
		}
		p := params[k]
		k++
		switch p.Direction() {
		case In:
			res.ins = append(res.ins, p)
			main.WriteString(placeholder(len(res.ins)))
		case Out:
			main.WriteString("@" + p.Name())
			res.inits = append(res.inits, companion{text: "SET @" + p.Name() + " = NULL", source: p})
			res.outs = append(res.outs, p)
		case InOut:
			main.WriteString("@" + p.Name())
			mirror, err := newParameter(p.Infos(), 1, In, p.Formatter())
			if err != nil {
				return nil, err
			}
			res.inits = append(res.inits, companion{text: "SET @" + p.Name() + " = " + placeholder(1), param: mirror, source: p})
			res.outs = append(res.outs, p)
		default:
			return nil, dberr.New(dberr.ErrParameter, "parameter #%d has invalid direction %s", p.Index(), p.Direction())
		}
	}

	if len(res.outs) > 0 {
		cols := make([]string, 0, len(res.outs))
		for _, p := range res.outs {
			cols = append(cols, "@"+p.Name()+" AS "+b.Formatter().WriteName(p.Name()))
		}
		res.readback = "SELECT " + strings.Join(cols, ", ")
	}

	if res.text, err = b.Translate(main.String()); err != nil {
		return nil, err
	}
	for i := range res.inits {
		if res.inits[i].text, err = b.Translate(res.inits[i].text); err != nil {
			return nil, err
		}
	}
	if res.readback != "" {
		if res.readback, err = b.Translate(res.readback); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// texts returns all distinct statement texts of the plan
func (p *plan) texts() []string {
	res := []string{p.text}
	seen := map[string]bool{p.text: true}
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			res = append(res, s)
		}
	}
	for _, c := range p.inits {
		add(c.text)
	}
	add(p.readback)
	return res
}

// args returns the values bound to the main statement
func (p *plan) args() []*field.Value {
	res := make([]*field.Value, 0, len(p.ins))
	for _, in := range p.ins {
		res = append(res, in.Value)
	}
	return res
}

// before initializes session variables of OUT and INOUT parameters
func (p *plan) before(ctx context.Context, r runner) error {
	for _, c := range p.inits {
		var args []*field.Value
		if c.param != nil {
			if err := c.param.CopyFrom(c.source.Value); err != nil {
				return fmt.Errorf("can't bind parameter %s: %w", c.source.Name(), err)
			}
			args = []*field.Value{c.param.Value}
		}
		if _, err := r.exec(ctx, c.text, args); err != nil {
			return fmt.Errorf("can't initialize variable @%s: %w", c.source.Name(), err)
		}
	}
	return nil
}

// after copies session variables back into OUT and INOUT parameters. Fields missing from the read-back
// row and values which can't be converted are logged, the parameter keeps its value then.
func (p *plan) after(ctx context.Context, r runner) error {
	if p.readback == "" {
		return nil
	}
	rows, err := r.query(ctx, p.readback, nil)
	if err != nil {
		return fmt.Errorf("can't read back parameters: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only single row

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("can't read back parameters: %w", err)
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("can't read back parameters: %w", err)
		}
		log.Printf("[WARN] read back of parameters returned no rows")
		return nil
	}
	raw := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return fmt.Errorf("can't read back parameters: %w", err)
	}

	for _, out := range p.outs {
		idx := columnIndex(cols, out.Name())
		if idx < 0 {
			log.Printf("[WARN] no field %q in read back, parameter #%d keeps its value", out.Name(), out.Index())
			continue
		}
		if err := out.Set(raw[idx]); err != nil {
			log.Printf("[WARN] can't read back parameter #%d %s: %v", out.Index(), out.Name(), err)
		}
	}
	return rows.Err()
}

func columnIndex(cols []string, name string) int {
	for i, c := range cols {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}
