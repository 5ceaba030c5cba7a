package field

import (
	"database/sql/driver"
	"encoding/hex"
	"strings"
	"time"
)

// Formatter writes literals the way a backend wants them. Every connection carries one,
// values use it to render themselves as query text and to pick the statement representation of dates.
type Formatter interface {
	WriteText(s string) string
	WriteNText(s string) string
	WriteBinary(b []byte) string
	WriteName(name string) string
	WriteBool(b bool) string
	WriteNull() string
	WriteDate(t time.Time) string
	WriteTime(t time.Time) string
	WriteDateTime(t time.Time) string

	// StmtDate, StmtTime and StmtDateTime return the value bound to a prepared statement placeholder
	StmtDate(t time.Time) driver.Value
	StmtTime(t time.Time) driver.Value
	StmtDateTime(t time.Time) driver.Value
}

// DefaultFormatter writes standard SQL literals. Backends embed it and override what differs.
type DefaultFormatter struct{}

// WriteText quotes s with single quotes, doubling embedded quotes.
func (DefaultFormatter) WriteText(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// WriteNText quotes s as a national character literal.
func (f DefaultFormatter) WriteNText(s string) string {
	return "N" + f.WriteText(s)
}

// WriteBinary writes b as a hex literal.
func (DefaultFormatter) WriteBinary(b []byte) string {
	return "X'" + hex.EncodeToString(b) + "'"
}

// WriteName quotes an identifier with double quotes.
func (DefaultFormatter) WriteName(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// WriteBool writes TRUE or FALSE.
func (DefaultFormatter) WriteBool(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// WriteNull writes NULL.
func (DefaultFormatter) WriteNull() string { return "NULL" }

// WriteDate writes a DATE literal.
func (DefaultFormatter) WriteDate(t time.Time) string { return "DATE '" + t.Format(DateLayout) + "'" }

// WriteTime writes a TIME literal.
func (DefaultFormatter) WriteTime(t time.Time) string { return "TIME '" + t.Format(TimeLayout) + "'" }

// WriteDateTime writes a TIMESTAMP literal.
func (DefaultFormatter) WriteDateTime(t time.Time) string {
	return "TIMESTAMP '" + t.Format(DateTimeLayout) + "'"
}

// StmtDate binds dates as time.Time.
func (DefaultFormatter) StmtDate(t time.Time) driver.Value { return t }

// StmtTime binds time of day as text, drivers have no native type for it.
func (DefaultFormatter) StmtTime(t time.Time) driver.Value { return t.Format(TimeLayout) }

// StmtDateTime binds datetimes as time.Time.
func (DefaultFormatter) StmtDateTime(t time.Time) driver.Value { return t }
