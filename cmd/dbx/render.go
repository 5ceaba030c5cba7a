package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/umputun/dbx/pkg/db"
)

// renderResult prints rows of res as a table
func renderResult(w io.Writer, res *db.Result) {
	if res.Len() == 0 {
		fmt.Fprintln(w, "(no results)")
		return
	}

	table := tablewriter.NewWriter(w)
	header := make([]string, 0, len(res.Columns()))
	for _, col := range res.Columns() {
		header = append(header, col.Name)
	}
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)

	rows := make([][]string, 0, res.Len())
	for _, r := range res.Rows() {
		row := make([]string, 0, r.Len())
		for _, f := range r.Fields() {
			row = append(row, f.String())
		}
		rows = append(rows, row)
	}
	table.AppendBulk(rows)
	table.Render()

	if res.Len() == 1 {
		fmt.Fprintln(w, "(1 row)")
		return
	}
	fmt.Fprintf(w, "(%d rows)\n", res.Len())
}

// renderOutParams prints OUT and INOUT parameters, nothing if there are none
func renderOutParams(w io.Writer, params []*db.Parameter) {
	rows := [][]string{}
	for _, p := range params {
		if p.Direction() == db.In {
			continue
		}
		typ := strings.TrimPrefix(p.Infos().String(), p.Name()+" ")
		rows = append(rows, []string{p.Name(), typ, p.Direction().String(), p.Value.String()})
	}
	if len(rows) == 0 {
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Parameter", "Type", "Direction", "Value"})
	table.SetAutoFormatHeaders(false)
	table.SetBorder(false)
	table.AppendBulk(rows)
	table.Render()
}

// renderUpdate prints the outcome of a statement returning no rows
func renderUpdate(w io.Writer, rowsAffected int64) {
	if rowsAffected == 1 {
		fmt.Fprintln(w, "1 row affected")
		return
	}
	fmt.Fprintf(w, "%d rows affected\n", rowsAffected)
}

// returnsRows guesses whether query makes a result set by its leading keyword
func returnsRows(query string) bool {
	q := strings.TrimSpace(query)
	for {
		switch {
		case strings.HasPrefix(q, "--"), strings.HasPrefix(q, "#"):
			_, rest, _ := strings.Cut(q, "\n")
			q = strings.TrimSpace(rest)
		case strings.HasPrefix(q, "/*"):
			_, rest, ok := strings.Cut(q, "*/")
			if !ok {
				return false
			}
			q = strings.TrimSpace(rest)
		case strings.HasPrefix(q, "("):
			q = strings.TrimSpace(q[1:])
		default:
			word := q
			if i := strings.IndexFunc(q, func(r rune) bool { return !isWordRune(r) }); i >= 0 {
				word = q[:i]
			}
			switch strings.ToUpper(word) {
			case "SELECT", "WITH", "SHOW", "PRAGMA", "EXPLAIN", "DESCRIBE", "DESC", "VALUES", "TABLE":
				return true
			}
			return false
		}
	}
}

func isWordRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
