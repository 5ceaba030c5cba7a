package db

import (
	"database/sql"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/umputun/dbx/pkg/dberr"
	"github.com/umputun/dbx/pkg/field"
)

// Result is a fully fetched result set. Columns and fields are 0-based.
type Result struct {
	columns []field.Infos
	rows    []*Row
}

// Row is one fetched row.
type Row struct {
	fields []*Field
}

// Field is a value of a row with the infos of its column.
type Field struct {
	*field.Value
	infos field.Infos
}

type columnTyper interface {
	ColumnTypes() ([]*sql.ColumnType, error)
}

// newResult fetches all rows and closes rows. Column infos come from the backend type mapping,
// columns the backend can't type are typed after the first non-null value. Inferred columns and
// columns of dynamically typed backends are widened when a later value doesn't fit their type.
func newResult(b Backend, f field.Formatter, rows rowSource) (*Result, error) {
	defer rows.Close() //nolint:errcheck // all rows are fetched or the error is reported

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("can't get columns: %w", err)
	}
	dynamic := false
	if dt, ok := b.(dynamicTyper); ok {
		dynamic = dt.DynamicTyping()
	}
	res := &Result{columns: make([]field.Infos, len(names))}
	loose := make([]bool, len(names))
	for i, name := range names {
		res.columns[i] = field.NewInfos(name, field.Null)
		loose[i] = dynamic
	}
	if ct, ok := rows.(columnTyper); ok {
		types, err := ct.ColumnTypes()
		if err != nil {
			return nil, fmt.Errorf("can't get column types: %w", err)
		}
		for i, t := range types {
			infos := b.ColumnInfos(t)
			infos.Name = names[i]
			if infos.Validate() != nil {
				infos = field.NewInfos(names[i], field.Null)
			}
			res.columns[i] = infos
		}
	}
	for i, c := range res.columns {
		if c.Type == field.Null {
			loose[i] = true
		}
	}

	raw := make([]any, len(names))
	dest := make([]any, len(names))
	for i := range raw {
		dest[i] = &raw[i]
	}
	var fetched [][]any // native values of fetched rows, kept to retype columns
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("can't scan row %d: %w", len(res.rows)+1, err)
		}
		vals := slices.Clone(raw)
		row := &Row{fields: make([]*Field, len(vals))}
		for i, v := range vals {
			if v != nil && res.columns[i].Type == field.Null {
				if err := res.retype(i, typeOf(v), fetched, f); err != nil {
					return nil, err
				}
			}
			fv, err := res.fetch(i, v, f)
			if err != nil && loose[i] {
				if rerr := res.retype(i, widen(res.columns[i].Type, v), fetched, f); rerr != nil {
					return nil, rerr
				}
				fv, err = res.fetch(i, v, f)
			}
			if err != nil {
				return nil, fmt.Errorf("can't fetch column %q of row %d: %w", names[i], len(res.rows)+1, err)
			}
			row.fields[i] = &Field{Value: fv, infos: res.columns[i]}
		}
		res.rows = append(res.rows, row)
		fetched = append(fetched, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// fetch makes a value of column i holding the native value v
func (r *Result) fetch(i int, v any, f field.Formatter) (*field.Value, error) {
	fv, err := field.NewValue(r.columns[i], f)
	if err != nil {
		return nil, err
	}
	if err := fv.Set(v); err != nil {
		return nil, err
	}
	return fv, nil
}

// retype changes the type of column i and sets fields fetched so far again from their native values
func (r *Result) retype(i int, t field.Type, fetched [][]any, f field.Formatter) error {
	log.Printf("[DEBUG] column %q retyped from %s to %s", r.columns[i].Name, r.columns[i].Type, t)
	r.columns[i].SetType(t)
	for k, row := range r.rows {
		fv, err := r.fetch(i, fetched[k][i], f)
		if err != nil {
			return fmt.Errorf("can't retype column %q of row %d: %w", r.columns[i].Name, k+1, err)
		}
		row.fields[i] = &Field{Value: fv, infos: r.columns[i]}
	}
	return nil
}

// widen returns the type holding both values of t and v, floats for numbers and text for the rest
func widen(t field.Type, v any) field.Type {
	switch v.(type) {
	case float64, float32:
		if t.IsInteger() || t == field.Fixed || t == field.Bit {
			return field.Float64
		}
	}
	return field.Text
}

func typeOf(v any) field.Type {
	switch v.(type) {
	case int64, int32, int:
		return field.Int64
	case uint64:
		return field.UInt64
	case float64:
		return field.Float64
	case float32:
		return field.Float32
	case bool:
		return field.Bit
	case []byte:
		return field.Blob
	case time.Time:
		return field.DateTime
	}
	return field.Text
}

// Columns returns infos of the result columns.
func (r *Result) Columns() []field.Infos { return r.columns }

// ColumnIndex returns the index of the column with the name, case-insensitive, -1 if there is none.
func (r *Result) ColumnIndex(name string) int {
	for i, c := range r.columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// Len returns the number of rows.
func (r *Result) Len() int { return len(r.rows) }

// Rows returns all rows.
func (r *Result) Rows() []*Row { return r.rows }

// Row returns the i-th row.
func (r *Result) Row(i int) (*Row, error) {
	if i < 0 || i >= len(r.rows) {
		return nil, dberr.New(dberr.ErrParameter, "no row %d, result has %d", i, len(r.rows))
	}
	return r.rows[i], nil
}

// Len returns the number of fields.
func (r *Row) Len() int { return len(r.fields) }

// Fields returns all fields of the row.
func (r *Row) Fields() []*Field { return r.fields }

// Field returns the i-th field.
func (r *Row) Field(i int) (*Field, error) {
	if i < 0 || i >= len(r.fields) {
		return nil, dberr.New(dberr.ErrParameter, "no field %d, row has %d", i, len(r.fields))
	}
	return r.fields[i], nil
}

// FieldByName returns the field of the column with the name, case-insensitive.
func (r *Row) FieldByName(name string) (*Field, error) {
	for _, f := range r.fields {
		if strings.EqualFold(f.infos.Name, name) {
			return f, nil
		}
	}
	return nil, dberr.New(dberr.ErrParameter, "no field %q", name)
}

// Name returns the column name.
func (f *Field) Name() string { return f.infos.Name }

// Infos returns the column infos.
func (f *Field) Infos() field.Infos { return f.infos }
