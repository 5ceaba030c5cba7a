// Package sqltext scans SQL text for "?" placeholders and "@name" session variable references.
// Quoted strings, quoted identifiers, comments and PostgreSQL dollar-quoted blocks are skipped,
// so a "?" or "@x" inside them is never taken for a placeholder or a variable.
package sqltext

import (
	"strings"

	"github.com/umputun/dbx/pkg/dberr"
)

// Kind of segment
type Kind int

// enum of segment kinds
const (
	Text        Kind = iota // verbatim SQL, may include quoted text and comments
	Placeholder             // "?"
	Variable                // "@name"
)

// Segment is a piece of SQL text. Name is set for variables only, without the leading "@".
type Segment struct {
	Kind Kind
	Text string
	Name string
}

// Scanner splits SQL text. The zero value follows standard SQL quoting.
type Scanner struct {
	BackslashEscapes bool // backslash escapes the next character inside quoted strings
	HashComments     bool // "#" starts a line comment
	DollarQuotes     bool // $$...$$ and $tag$...$tag$ blocks are quoted text
}

// predefined scanners
var (
	ANSI       = Scanner{}
	MySQL      = Scanner{BackslashEscapes: true, HashComments: true}
	PostgreSQL = Scanner{DollarQuotes: true}
)

// Split returns the segments of query in order. Joining segment texts gives back the query.
// Unterminated quotes and block comments are statement errors.
func (s Scanner) Split(query string) ([]Segment, error) {
	var res []Segment
	last := 0
	flush := func(end int) {
		if end > last {
			res = append(res, Segment{Kind: Text, Text: query[last:end]})
		}
	}

	for i := 0; i < len(query); {
		j, skipped, err := s.skip(query, i)
		if err != nil {
			return nil, err
		}
		if skipped {
			i = j
			continue
		}

		switch c := query[i]; {
		case c == '?':
			flush(i)
			res = append(res, Segment{Kind: Placeholder, Text: "?"})
			i++
			last = i
			continue
		case c == '@' && hasPrefix(query[i:], "@@"):
			// system variable like @@autocommit, not a session one
			_, end := parseIdent(query, i+2)
			i = end
			continue
		case c == '@' && (i == 0 || !isIdentByte(query[i-1])):
			if name, end := parseIdent(query, i+1); name != "" {
				flush(i)
				res = append(res, Segment{Kind: Variable, Text: query[i:end], Name: name})
				i = end
				last = i
				continue
			}
		}
		i++
	}
	flush(len(query))
	return res, nil
}

// Count returns the number of placeholders in query.
func (s Scanner) Count(query string) (int, error) {
	segs, err := s.Split(query)
	if err != nil {
		return 0, err
	}
	res := 0
	for _, seg := range segs {
		if seg.Kind == Placeholder {
			res++
		}
	}
	return res, nil
}

// ReplaceVariables replaces every "@name" reference by fn(name).
func (s Scanner) ReplaceVariables(query string, fn func(name string) string) (string, error) {
	segs, err := s.Split(query)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(len(query))
	for _, seg := range segs {
		if seg.Kind == Variable {
			b.WriteString(fn(seg.Name))
			continue
		}
		b.WriteString(seg.Text)
	}
	return b.String(), nil
}

// SplitList splits text at top level commas, ignoring commas inside parentheses,
// quotes and comments. Parts are trimmed.
func (s Scanner) SplitList(text string) ([]string, error) {
	var res []string
	depth, last := 0, 0
	for i := 0; i < len(text); {
		j, skipped, err := s.skip(text, i)
		if err != nil {
			return nil, err
		}
		if skipped {
			i = j
			continue
		}
		switch text[i] {
		case '(':
			depth++
		case ')':
			if depth == 0 {
				return nil, dberr.New(dberr.ErrStatement, "unbalanced parenthesis at %d in %q", i, text)
			}
			depth--
		case ',':
			if depth == 0 {
				res = append(res, strings.TrimSpace(text[last:i]))
				last = i + 1
			}
		}
		i++
	}
	if depth != 0 {
		return nil, dberr.New(dberr.ErrStatement, "unbalanced parenthesis in %q", text)
	}
	return append(res, strings.TrimSpace(text[last:])), nil
}

// SplitScript splits text into statements at top level semicolons. Statements are trimmed,
// the ones holding nothing but comments and blanks are dropped.
func (s Scanner) SplitScript(text string) ([]string, error) {
	var res []string
	last, code := 0, false
	flush := func(end int) {
		if code {
			res = append(res, strings.TrimSpace(text[last:end]))
		}
		last, code = end+1, false
	}
	for i := 0; i < len(text); {
		c := text[i]
		j, skipped, err := s.skip(text, i)
		if err != nil {
			return nil, err
		}
		if skipped {
			if c != '-' && c != '#' && c != '/' {
				code = true // quoted text
			}
			i = j
			continue
		}
		switch {
		case c == ';':
			flush(i)
		case c != ' ' && c != '\t' && c != '\n' && c != '\r':
			code = true
		}
		i++
	}
	flush(len(text))
	return res, nil
}

// Join concatenates segment texts.
func Join(segs []Segment) string {
	var b strings.Builder
	for _, seg := range segs {
		b.WriteString(seg.Text)
	}
	return b.String()
}

// IsIdent reports whether name is a plain identifier, [A-Za-z_][A-Za-z0-9_]*.
func IsIdent(name string) bool {
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !isIdentByte(name[i]) {
			return false
		}
	}
	return true
}

// skip returns the position after a quoted string, identifier, comment or dollar-quoted block
// starting at i. skipped is false if there is none at i.
func (s Scanner) skip(text string, i int) (next int, skipped bool, err error) {
	switch c := text[i]; {
	case c == '\'' || c == '"':
		j, err := s.skipQuoted(text, i+1, c, s.BackslashEscapes)
		return j, true, err
	case c == '`':
		j, err := s.skipQuoted(text, i+1, c, false)
		return j, true, err
	case c == '-' && hasPrefix(text[i:], "--"), c == '#' && s.HashComments:
		return skipLineComment(text, i+1), true, nil
	case c == '/' && hasPrefix(text[i:], "/*"):
		end := strings.Index(text[i+2:], "*/")
		if end < 0 {
			return 0, true, dberr.New(dberr.ErrStatement, "unterminated block comment at %d", i)
		}
		return i + 2 + end + 2, true, nil
	case c == '$' && s.DollarQuotes && (i == 0 || !isIdentByte(text[i-1])):
		// "$" inside an identifier like a$b$ doesn't open a block
		return skipDollarQuoted(text, i)
	}
	return i, false, nil
}

func (s Scanner) skipQuoted(text string, i int, quote byte, backslash bool) (int, error) {
	start := i - 1
	for i < len(text) {
		switch c := text[i]; {
		case backslash && c == '\\':
			i += 2
			continue
		case c == quote:
			if i+1 < len(text) && text[i+1] == quote {
				i += 2
				continue
			}
			return i + 1, nil
		}
		i++
	}
	return 0, dberr.New(dberr.ErrStatement, "unterminated %c-quoted text at %d", quote, start)
}

func skipLineComment(text string, i int) int {
	if end := strings.IndexByte(text[i:], '\n'); end >= 0 {
		return i + end + 1
	}
	return len(text)
}

// skipDollarQuoted handles $$...$$ and $tag$...$tag$ blocks. A "$" not opening a block, like in "$1", is not skipped.
func skipDollarQuoted(text string, i int) (int, bool, error) {
	j := i + 1
	for j < len(text) && isIdentByte(text[j]) && !(j == i+1 && text[j] >= '0' && text[j] <= '9') {
		j++
	}
	if j >= len(text) || text[j] != '$' {
		return i, false, nil
	}
	tag := text[i : j+1]
	end := strings.Index(text[j+1:], tag)
	if end < 0 {
		return 0, true, dberr.New(dberr.ErrStatement, "unterminated %s block at %d", tag, i)
	}
	return j + 1 + end + len(tag), true, nil
}

func parseIdent(text string, i int) (string, int) {
	start := i
	for i < len(text) && isIdentByte(text[i]) {
		i++
	}
	return text[start:i], i
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func hasPrefix(s, p string) bool { return len(s) >= len(p) && s[:len(p)] == p }
