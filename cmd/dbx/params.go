package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/umputun/dbx/pkg/db"
	"github.com/umputun/dbx/pkg/field"
)

// paramSpec is a parameter given on the command line
type paramSpec struct {
	infos field.Infos
	dir   db.Direction
	value string
	null  bool
}

// parseParams parses parameters of "name:type[(n[,d])][:dir][=value]" form. A parameter without
// "=value" is NULL, OUT parameters never take a value.
func parseParams(params []string) ([]paramSpec, error) {
	res := make([]paramSpec, 0, len(params))
	for _, p := range params {
		spec, err := parseParam(p)
		if err != nil {
			return nil, fmt.Errorf("invalid parameter %q: %w", p, err)
		}
		res = append(res, spec)
	}
	return res, nil
}

func parseParam(s string) (paramSpec, error) {
	decl, value, hasValue := strings.Cut(s, "=")
	elems := strings.Split(decl, ":")
	if len(elems) < 2 || len(elems) > 3 {
		return paramSpec{}, fmt.Errorf("expected name:type[:direction]")
	}

	res := paramSpec{value: value, null: !hasValue}
	typeName, shape, hasShape := strings.Cut(strings.TrimSpace(elems[1]), "(")
	t, err := field.ParseType(typeName)
	if err != nil {
		return paramSpec{}, err
	}
	res.infos = field.NewInfos(strings.TrimSpace(elems[0]), t)

	if hasShape {
		if res.infos, err = applyShape(res.infos, shape); err != nil {
			return paramSpec{}, err
		}
	}

	if len(elems) == 3 {
		if res.dir, err = db.ParseDirection(elems[2]); err != nil {
			return paramSpec{}, err
		}
	}
	if res.dir == db.Out && hasValue {
		return paramSpec{}, fmt.Errorf("out parameter can't have a value")
	}
	return res, nil
}

// applyShape sets limit or precision and decimals from "n)" or "p,d)"
func applyShape(infos field.Infos, shape string) (field.Infos, error) {
	shape, ok := strings.CutSuffix(strings.TrimSpace(shape), ")")
	if !ok {
		return infos, fmt.Errorf("unclosed type size")
	}
	ps, ds, hasDecimals := strings.Cut(shape, ",")
	n, err := strconv.Atoi(strings.TrimSpace(ps))
	if err != nil {
		return infos, fmt.Errorf("invalid type size %q", shape)
	}
	if !hasDecimals {
		if infos.Type == field.Fixed {
			return infos.WithShape(n, 0), nil
		}
		return infos.WithLimit(n), nil
	}
	d, err := strconv.Atoi(strings.TrimSpace(ds))
	if err != nil {
		return infos, fmt.Errorf("invalid type decimals %q", shape)
	}
	return infos.WithShape(n, d), nil
}

// command is the part of db.Statement and db.Query the cli needs
type command interface {
	CreateParameter(infos field.Infos, dir db.Direction) (*db.Parameter, error)
	SetParameterValue(i int, v any) error
	SetParameterNull(i int) error
	Initialize(ctx context.Context) error
	ExecuteUpdate(ctx context.Context) (bool, error)
	ExecuteSelect(ctx context.Context) (*db.Result, error)
	Parameters() []*db.Parameter
	LastError() error
	RowsAffected() int64
	Cleanup() error
}

// createParams creates parameters of cmd, it goes before Initialize
func createParams(cmd command, specs []paramSpec) error {
	for _, spec := range specs {
		if _, err := cmd.CreateParameter(spec.infos, spec.dir); err != nil {
			return fmt.Errorf("can't create parameter %q: %w", spec.infos.Name, err)
		}
	}
	return nil
}

// setParams assigns parameter values, OUT parameters are reset to NULL
func setParams(cmd command, specs []paramSpec) error {
	for i, spec := range specs {
		if spec.null || spec.dir == db.Out {
			if err := cmd.SetParameterNull(i + 1); err != nil {
				return err
			}
			continue
		}
		if err := cmd.SetParameterValue(i+1, spec.value); err != nil {
			return fmt.Errorf("invalid value of parameter %q: %w", spec.infos.Name, err)
		}
	}
	return nil
}
