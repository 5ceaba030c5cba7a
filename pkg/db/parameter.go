package db

import (
	"fmt"
	"strings"

	"github.com/umputun/dbx/pkg/dberr"
	"github.com/umputun/dbx/pkg/field"
)

// Direction of a parameter
type Direction int

// enum of parameter directions
const (
	In Direction = iota
	Out
	InOut
)

func (d Direction) String() string {
	switch d {
	case In:
		return "in"
	case Out:
		return "out"
	case InOut:
		return "inout"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// ParseDirection returns the direction by its name, case-insensitive.
func ParseDirection(s string) (Direction, error) {
	for _, d := range []Direction{In, Out, InOut} {
		if strings.EqualFold(strings.TrimSpace(s), d.String()) {
			return d, nil
		}
	}
	return In, dberr.New(dberr.ErrParameter, "unknown parameter direction %q", s)
}

// Parameter is a statement parameter: a value with its infos, 1-based index in placeholder order
// and direction. OUT and INOUT parameters are bound to the session variable of their name.
// Index, direction and name never change, the value is set before and read after every execution.
type Parameter struct {
	*field.Value
	name  string
	index int
	dir   Direction
}

func newParameter(infos field.Infos, index int, dir Direction, f field.Formatter) (*Parameter, error) {
	v, err := field.NewValue(infos, f)
	if err != nil {
		return nil, err
	}
	return &Parameter{Value: v, name: infos.Name, index: index, dir: dir}, nil
}

// Index returns the 1-based position of the parameter placeholder.
func (p *Parameter) Index() int { return p.index }

// Direction returns the parameter direction.
func (p *Parameter) Direction() Direction { return p.dir }

// Name returns the parameter name, the session variable name of OUT and INOUT parameters.
func (p *Parameter) Name() string { return p.name }

// Infos returns the parameter name with the current type and shape of its value.
func (p *Parameter) Infos() field.Infos {
	res := field.NewInfos(p.name, p.Type())
	switch {
	case p.Type() == field.Fixed:
		res = res.WithShape(p.Precision(), p.Decimals())
	case p.Type().HasLimit():
		res.Limit = p.Limit()
	}
	return res
}

func (p *Parameter) String() string {
	return fmt.Sprintf("#%d %s %s = %s", p.index, p.dir, p.Infos(), p.Value)
}
