package postgres

import (
	"encoding/hex"

	"github.com/umputun/dbx/pkg/field"
)

// Formatter writes PostgreSQL literals, standard SQL except for binary strings.
type Formatter struct {
	field.DefaultFormatter
}

// WriteBinary writes b as a bytea in hex format. X'..' is a bit string in postgres.
func (Formatter) WriteBinary(b []byte) string {
	return `'\x` + hex.EncodeToString(b) + `'::bytea`
}
