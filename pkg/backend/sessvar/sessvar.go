// Package sessvar emulates MySQL-style "@name" session variables for backends without them.
// A Translator rewrites "SET @a = expr, @b := expr" into a backend statement storing the values
// and every "@name" reference into a backend expression reading the value back.
// Variable names are case-insensitive and stored lowercased.
package sessvar

import (
	"strings"

	"github.com/umputun/dbx/pkg/dberr"
	"github.com/umputun/dbx/pkg/sqltext"
)

// Assignment is one "@name = expr" of a SET statement. Expr is already translated.
type Assignment struct {
	Name string
	Expr string
}

// Translator rewrites canonical session variable syntax with backend specific storage.
type Translator struct {
	Scanner sqltext.Scanner
	Ref     func(name string) string     // expression reading the variable
	Assign  func(as []Assignment) string // statement storing all assignments
}

// Translate rewrites query. SET statements assigning session variables become Assign statements,
// in any other statement variable references are replaced with Ref expressions.
func (t Translator) Translate(query string) (string, error) {
	as, ok, err := t.ParseSet(query)
	if err != nil {
		return "", err
	}
	if !ok {
		return t.Scanner.ReplaceVariables(query, t.ref)
	}
	for i := range as {
		if as[i].Expr, err = t.Scanner.ReplaceVariables(as[i].Expr, t.ref); err != nil {
			return "", err
		}
	}
	return t.Assign(as), nil
}

func (t Translator) ref(name string) string { return t.Ref(strings.ToLower(name)) }

// ParseSet splits "SET @a = e1, @b := e2" into assignments. ok is false for any other statement,
// including SET of server settings. A SET mixing variables with anything else is a statement error.
func (t Translator) ParseSet(query string) (as []Assignment, ok bool, err error) {
	q := strings.TrimSpace(query)
	q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	if len(q) < 4 || !strings.EqualFold(q[:3], "SET") || !isSpace(q[3]) {
		return nil, false, nil
	}
	rest := strings.TrimSpace(q[3:])
	if !strings.HasPrefix(rest, "@") || strings.HasPrefix(rest, "@@") {
		return nil, false, nil
	}

	parts, err := t.Scanner.SplitList(rest)
	if err != nil {
		return nil, false, err
	}
	for _, part := range parts {
		a, err := parseAssignment(part)
		if err != nil {
			return nil, false, err
		}
		as = append(as, a)
	}
	return as, true, nil
}

func parseAssignment(part string) (Assignment, error) {
	if !strings.HasPrefix(part, "@") {
		return Assignment{}, dberr.New(dberr.ErrStatement, "can't mix session variables with other settings in %q", part)
	}
	end := 1
	for end < len(part) && isIdentByte(part[end]) {
		end++
	}
	name := part[1:end]
	if !sqltext.IsIdent(name) {
		return Assignment{}, dberr.New(dberr.ErrStatement, "invalid session variable in %q", part)
	}
	tail := strings.TrimSpace(part[end:])
	switch {
	case strings.HasPrefix(tail, ":="):
		tail = tail[2:]
	case strings.HasPrefix(tail, "="):
		tail = tail[1:]
	default:
		return Assignment{}, dberr.New(dberr.ErrStatement, "missing assignment of @%s", name)
	}
	expr := strings.TrimSpace(tail)
	if expr == "" {
		return Assignment{}, dberr.New(dberr.ErrStatement, "missing value of @%s", name)
	}
	return Assignment{Name: strings.ToLower(name), Expr: expr}, nil
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
