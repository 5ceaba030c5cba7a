package sqlite

import (
	"database/sql/driver"
	"time"

	"github.com/umputun/dbx/pkg/field"
)

// Formatter writes SQLite literals. SQLite has no boolean, date or national text types,
// booleans are integers and temporal values are text in the layouts its date functions understand.
type Formatter struct {
	field.DefaultFormatter
}

// WriteBool writes 1 or 0.
func (Formatter) WriteBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// WriteNText writes plain text, all sqlite text is unicode.
func (f Formatter) WriteNText(s string) string { return f.WriteText(s) }

// WriteDate writes the date as text.
func (f Formatter) WriteDate(t time.Time) string { return f.WriteText(t.Format(field.DateLayout)) }

// WriteTime writes the time of day as text.
func (f Formatter) WriteTime(t time.Time) string { return f.WriteText(t.Format(field.TimeLayout)) }

// WriteDateTime writes the datetime as text.
func (f Formatter) WriteDateTime(t time.Time) string {
	return f.WriteText(t.Format(field.DateTimeLayout))
}

// StmtDate binds dates as text.
func (Formatter) StmtDate(t time.Time) driver.Value { return t.Format(field.DateLayout) }

// StmtDateTime binds datetimes as text without zone.
func (Formatter) StmtDateTime(t time.Time) driver.Value { return t.Format(field.DateTimeLayout) }
