// Package sqlite implements the embedded SQLite backend on top of modernc.org/sqlite.
// A database is a file in the server directory, session variables are kept in a per-connection
// temp table and named transactions are savepoints.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-pkgz/fileutils"
	lite "modernc.org/sqlite" // registers "sqlite" driver
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/umputun/dbx/pkg/backend/sessvar"
	"github.com/umputun/dbx/pkg/db"
	"github.com/umputun/dbx/pkg/dberr"
	"github.com/umputun/dbx/pkg/field"
	"github.com/umputun/dbx/pkg/sqltext"
)

// Name of the backend in the db registry
const Name = "sqlite"

// Memory is the database name of a private in-memory database
const Memory = ":memory:"

// default file extension and connection pragmas
const (
	ext           = ".db"
	busyTimeoutMs = 5000
)

const setupVars = "CREATE TEMP TABLE IF NOT EXISTS session_vars (name TEXT PRIMARY KEY, value)"

func init() {
	db.Register(New())
}

// Backend is the SQLite backend.
type Backend struct {
	tr sessvar.Translator
}

// New makes the backend. Use db.Open(sqlite.Name, ...) unless a private instance is needed.
func New() *Backend {
	return &Backend{tr: sessvar.Translator{
		Scanner: sqltext.ANSI,
		Ref: func(name string) string {
			return "(SELECT value FROM temp.session_vars WHERE name = '" + name + "')"
		},
		Assign: func(as []sessvar.Assignment) string {
			values := make([]string, 0, len(as))
			for _, a := range as {
				values = append(values, "('"+a.Name+"', "+a.Expr+")")
			}
			return "INSERT OR REPLACE INTO temp.session_vars (name, value) VALUES " + strings.Join(values, ", ")
		},
	}}
}

// Name returns the registry name.
func (b *Backend) Name() string { return Name }

// Formatter returns the SQLite literal writer.
func (b *Backend) Formatter() field.Formatter { return Formatter{} }

// Scanner returns the standard SQL scanner.
func (b *Backend) Scanner() sqltext.Scanner { return sqltext.ANSI }

// Placeholder returns "?".
func (b *Backend) Placeholder(int) string { return "?" }

// Translate rewrites session variables into the temp table access.
func (b *Backend) Translate(query string) (string, error) { return b.tr.Translate(query) }

// Path returns the file of the database name. Relative names are resolved in the server directory,
// names without extension get ".db".
func Path(params db.Params, name string) string {
	if name == Memory || name == "" {
		return Memory
	}
	if filepath.Ext(name) == "" {
		name += ext
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(params.Server, name)
}

// dsn makes the driver data source for path. Options are passed as query parameters,
// i.e. "_txlock": "immediate" or "_pragma": "journal_mode(wal)".
func dsn(path string, opts map[string]string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout("+strconv.Itoa(busyTimeoutMs)+")")
	q.Add("_pragma", "foreign_keys(1)")
	for k, v := range opts {
		if k == "create" {
			continue
		}
		q.Add(k, v)
	}
	return "file:" + path + "?" + q.Encode()
}

// Open opens the database file. A missing file is an error unless options has "create": "true".
func (b *Backend) Open(ctx context.Context, params db.Params) (*sql.DB, error) {
	path := Path(params, params.Database)
	if path != Memory && !fileutils.IsFile(path) && params.Options["create"] != "true" {
		return nil, dberr.New(dberr.ErrConnection, "database file %s not found", path)
	}
	res, err := sql.Open(Name, dsn(path, params.Options))
	if err != nil {
		return nil, describe(err)
	}
	if err := res.PingContext(ctx); err != nil {
		_ = res.Close()
		return nil, describe(err)
	}
	return res, nil
}

// Setup creates the session variables table of the connection.
func (b *Backend) Setup(ctx context.Context, conn *sql.Conn) error {
	if _, err := conn.ExecContext(ctx, setupVars); err != nil {
		return fmt.Errorf("can't create session variables: %w", describe(err))
	}
	return nil
}

// TxStatements maps the unnamed transaction to BEGIN/COMMIT/ROLLBACK and named ones to savepoints.
func (b *Backend) TxStatements(op db.TxOp, name string) ([]string, error) {
	if name == "" {
		switch op {
		case db.TxBegin:
			return []string{"BEGIN"}, nil
		case db.TxCommit:
			return []string{"COMMIT"}, nil
		case db.TxRollback:
			return []string{"ROLLBACK"}, nil
		}
		return nil, dberr.New(dberr.ErrUnimplemented, "transaction operation %s", op)
	}
	sp := Formatter{}.WriteName(name)
	switch op {
	case db.TxBegin:
		return []string{"SAVEPOINT " + sp}, nil
	case db.TxCommit:
		return []string{"RELEASE SAVEPOINT " + sp}, nil
	case db.TxRollback:
		return []string{"ROLLBACK TO SAVEPOINT " + sp, "RELEASE SAVEPOINT " + sp}, nil
	}
	return nil, dberr.New(dberr.ErrUnimplemented, "transaction operation %s", op)
}

// CreateDatabase creates an empty database file.
func (b *Backend) CreateDatabase(ctx context.Context, _ *sql.Conn, params db.Params, name string) error {
	path := Path(params, name)
	if path == Memory {
		return dberr.New(dberr.ErrConnection, "can't create in-memory database %q", name)
	}
	if fileutils.IsFile(path) {
		return dberr.New(dberr.ErrConnection, "database file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("can't make directory for %s: %w", path, err)
	}
	h, err := sql.Open(Name, dsn(path, nil))
	if err != nil {
		return describe(err)
	}
	defer h.Close() //nolint:errcheck // nothing written but the header
	if _, err := h.ExecContext(ctx, "PRAGMA user_version = 1"); err != nil {
		return describe(err)
	}
	log.Printf("[DEBUG] sqlite database file %s created", path)
	return nil
}

// DestroyDatabase removes the database file with its journals.
func (b *Backend) DestroyDatabase(_ context.Context, _ *sql.Conn, params db.Params, name string) error {
	path := Path(params, name)
	if path == Memory || !fileutils.IsFile(path) {
		return dberr.New(dberr.ErrConnection, "database file %s not found", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("can't remove %s: %w", path, err)
	}
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("[WARN] can't remove %s%s: %v", path, suffix, err)
		}
	}
	return nil
}

// SelectDatabase always reopens, a connection can't switch files.
func (b *Backend) SelectDatabase(context.Context, *sql.Conn, string) (bool, error) {
	return true, nil
}

// DynamicTyping reports that declared column types are affinities, a column can hold values of any type.
func (b *Backend) DynamicTyping() bool { return true }

// ColumnInfos maps the declared column type. SQLite doesn't enforce declared lengths,
// so fetched text and binary columns are unlimited. Expressions have no declared type.
func (b *Backend) ColumnInfos(ct *sql.ColumnType) field.Infos {
	return declInfos(ct.Name(), ct.DatabaseTypeName())
}

func declInfos(name, decl string) field.Infos {
	base, args := parseDecl(decl)
	res := field.NewInfos(name, field.Null)
	switch base {
	case "":
		return res
	case "BOOL", "BOOLEAN", "BIT":
		res.Type = field.Bit
	case "REAL", "DOUBLE", "DOUBLE PRECISION", "FLOAT":
		res.Type = field.Float64
	case "DECIMAL", "NUMERIC":
		res.Type = field.Float64
		switch {
		case len(args) == 1 && args[0] > 0 && args[0] <= field.DefaultPrecision:
			res = res.WithShape(args[0], 0)
			res.Type = field.Fixed
		case len(args) == 2 && args[0] <= field.DefaultPrecision && args[1] >= 0 && args[1] < args[0]:
			res = res.WithShape(args[0], args[1])
			res.Type = field.Fixed
		}
	case "CHAR", "CHARACTER":
		res.Type = field.Char
	case "VARCHAR", "VARYING CHARACTER":
		res.Type = field.VarChar
	case "NCHAR", "NATIVE CHARACTER":
		res.Type = field.NChar
	case "NVARCHAR":
		res.Type = field.NVarChar
	case "TEXT", "CLOB":
		res.Type = field.Text
	case "BINARY":
		res.Type = field.Binary
	case "VARBINARY":
		res.Type = field.VarBinary
	case "BLOB":
		res.Type = field.Blob
	case "DATE":
		res.Type = field.Date
	case "TIME":
		res.Type = field.Time
	case "DATETIME", "TIMESTAMP":
		res.Type = field.DateTime
	default:
		// affinity rules, any integer is 64-bit whatever the declared width
		switch {
		case strings.Contains(base, "INT"):
			res.Type = field.Int64
		case strings.Contains(base, "CHAR"), strings.Contains(base, "TEXT"), strings.Contains(base, "CLOB"):
			res.Type = field.Text
		case strings.Contains(base, "BLOB"):
			res.Type = field.Blob
		case strings.Contains(base, "REAL"), strings.Contains(base, "FLOA"), strings.Contains(base, "DOUB"):
			res.Type = field.Float64
		}
	}
	return res
}

// parseDecl splits "DECIMAL(10, 2)" into "DECIMAL" and [10 2]
func parseDecl(decl string) (base string, args []int) {
	decl = strings.ToUpper(strings.TrimSpace(decl))
	open := strings.IndexByte(decl, '(')
	if open < 0 {
		return strings.Join(strings.Fields(decl), " "), nil
	}
	base = strings.Join(strings.Fields(decl[:open]), " ")
	inner := strings.TrimSuffix(strings.TrimSpace(decl[open+1:]), ")")
	for _, a := range strings.Split(inner, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(a))
		if err != nil {
			return base, nil
		}
		args = append(args, n)
	}
	return base, args
}

// describe adds the sqlite result code name to driver errors
func describe(err error) error {
	var se *lite.Error
	if !errors.As(err, &se) {
		return err
	}
	if se.Code()&0xff == sqlite3.SQLITE_BUSY {
		return fmt.Errorf("database is busy after %v: %w", time.Duration(busyTimeoutMs)*time.Millisecond, err)
	}
	if desc, ok := lite.ErrorCodeString[se.Code()]; ok {
		return fmt.Errorf("%s: %w", desc, err)
	}
	return err
}
