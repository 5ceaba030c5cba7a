package mysql

import (
	"strings"

	"github.com/umputun/dbx/pkg/field"
)

var textEscaper = strings.NewReplacer(
	"\\", "\\\\",
	"'", "\\'",
	"\x00", "\\0",
	"\n", "\\n",
	"\r", "\\r",
	"\x1a", "\\Z",
)

// Formatter writes MySQL literals: backslash escaped text and backtick quoted names.
type Formatter struct {
	field.DefaultFormatter
}

// WriteText quotes s escaping backslashes, quotes and control characters.
func (Formatter) WriteText(s string) string { return "'" + textEscaper.Replace(s) + "'" }

// WriteNText writes a national character literal.
func (f Formatter) WriteNText(s string) string { return "N" + f.WriteText(s) }

// WriteName quotes an identifier with backticks.
func (Formatter) WriteName(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
