// Package postgres implements the PostgreSQL backend on top of github.com/lib/pq.
// Session variables are custom settings of the "dbx" namespace, set with set_config and read with current_setting.
// Settings hold text only: expressions reading a variable cast it to the type they need, and an empty
// string reads back as NULL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/umputun/dbx/pkg/backend/sessvar"
	"github.com/umputun/dbx/pkg/db"
	"github.com/umputun/dbx/pkg/dberr"
	"github.com/umputun/dbx/pkg/field"
	"github.com/umputun/dbx/pkg/sqltext"
)

// Name of the backend in the db registry
const Name = "postgres"

const (
	defaultPort = "5432"
	varPrefix   = "dbx."
)

func init() {
	db.Register(New())
}

// Backend is the PostgreSQL backend.
type Backend struct {
	tr sessvar.Translator
}

// New makes the backend. Use db.Open(postgres.Name, ...) unless a private instance is needed.
func New() *Backend {
	return &Backend{tr: sessvar.Translator{
		Scanner: sqltext.PostgreSQL,
		Ref: func(name string) string {
			return "NULLIF(current_setting('" + varPrefix + name + "', true), '')"
		},
		Assign: func(as []sessvar.Assignment) string {
			calls := make([]string, 0, len(as))
			for _, a := range as {
				calls = append(calls, "set_config('"+varPrefix+a.Name+"', COALESCE(("+a.Expr+")::text, ''), false)")
			}
			return "SELECT " + strings.Join(calls, ", ")
		},
	}}
}

// Name returns the registry name.
func (b *Backend) Name() string { return Name }

// Formatter returns the standard SQL literal writer.
func (b *Backend) Formatter() field.Formatter { return Formatter{} }

// Scanner returns the standard SQL scanner, it knows dollar quoting.
func (b *Backend) Scanner() sqltext.Scanner { return sqltext.PostgreSQL }

// Placeholder returns "$n".
func (b *Backend) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

// Translate rewrites session variables into custom settings access.
func (b *Backend) Translate(query string) (string, error) { return b.tr.Translate(query) }

// Open makes a connector for params. Options are connection parameters, i.e. "sslmode": "disable".
func (b *Backend) Open(ctx context.Context, params db.Params) (*sql.DB, error) {
	conn, err := pq.NewConnector(dsn(params))
	if err != nil {
		return nil, dberr.Wrap(dberr.ErrConnection, err, "invalid postgres parameters")
	}
	if params.Dialer != nil {
		conn.Dialer(dialer{params.Dialer})
	}
	res := sql.OpenDB(conn)
	if err := res.PingContext(ctx); err != nil {
		_ = res.Close()
		return nil, describe(err)
	}
	return res, nil
}

// dsn makes the connection url. Server is host[:port] or a unix socket directory.
func dsn(params db.Params) string {
	u := url.URL{Scheme: "postgres", Path: "/" + params.Database}
	if params.User != "" {
		u.User = url.User(params.User)
		if params.Password != "" {
			u.User = url.UserPassword(params.User, params.Password)
		}
	}
	q := url.Values{}
	switch {
	case strings.HasPrefix(params.Server, "/"):
		q.Set("host", params.Server)
	case params.Server == "":
		u.Host = "localhost:" + defaultPort
	default:
		u.Host = params.Server
		if _, _, err := net.SplitHostPort(params.Server); err != nil {
			u.Host = net.JoinHostPort(params.Server, defaultPort)
		}
	}
	for k, v := range params.Options {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// dialer adapts db.Dialer to the driver dialer
type dialer struct {
	d db.Dialer
}

func (d dialer) Dial(network, address string) (net.Conn, error) {
	return d.d.DialContext(context.Background(), network, address)
}

func (d dialer) DialTimeout(network, address string, timeout time.Duration) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return d.d.DialContext(ctx, network, address)
}

func (d dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return d.d.DialContext(ctx, network, address)
}

// Setup makes the session time zone UTC.
func (b *Backend) Setup(ctx context.Context, conn *sql.Conn) error {
	if _, err := conn.ExecContext(ctx, "SET TIME ZONE 'UTC'"); err != nil {
		return fmt.Errorf("can't set session time zone: %w", describe(err))
	}
	return nil
}

// TxStatements returns transaction statements, the name is ignored.
func (b *Backend) TxStatements(op db.TxOp, _ string) ([]string, error) {
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

// CreateDatabase creates a database.
func (b *Backend) CreateDatabase(ctx context.Context, conn *sql.Conn, _ db.Params, name string) error {
	if _, err := conn.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name)); err != nil {
		return describe(err)
	}
	return nil
}

// DestroyDatabase drops a database, it can't be the current one.
func (b *Backend) DestroyDatabase(ctx context.Context, conn *sql.Conn, _ db.Params, name string) error {
	if _, err := conn.ExecContext(ctx, "DROP DATABASE "+pq.QuoteIdentifier(name)); err != nil {
		return describe(err)
	}
	return nil
}

// SelectDatabase always reopens, a connection is bound to its database.
func (b *Backend) SelectDatabase(context.Context, *sql.Conn, string) (bool, error) {
	return true, nil
}

// ColumnInfos maps the driver type name. Text lengths are in characters, so text columns are wide.
func (b *Backend) ColumnInfos(ct *sql.ColumnType) field.Infos {
	length, ok := ct.Length()
	if !ok || length <= 0 || length > math.MaxInt32 {
		length = 0
	}
	precision, scale, ok := ct.DecimalSize()
	if !ok {
		precision, scale = 0, 0
	}
	return typeInfos(ct.Name(), ct.DatabaseTypeName(), int(length), int(precision), int(scale))
}

var namedTypes = map[string]field.Type{
	"BOOL": field.Bit, "INT2": field.Int16, "INT4": field.Int32, "INT8": field.Int64, "OID": field.UInt32,
	"FLOAT4": field.Float32, "FLOAT8": field.Float64,
	"BPCHAR": field.NChar, "VARCHAR": field.NVarChar,
	"TEXT": field.NText, "NAME": field.NText, "UUID": field.NText, "JSON": field.NText, "JSONB": field.NText,
	"XML": field.NText,
	"BYTEA": field.Blob,
	"DATE": field.Date, "TIME": field.Time, "TIMETZ": field.Time, "TIMESTAMP": field.DateTime,
	"TIMESTAMPTZ": field.DateTime,
}

func typeInfos(name, typeName string, length, precision, scale int) field.Infos {
	res := field.NewInfos(name, field.Null)
	typeName = strings.ToUpper(typeName)
	if typeName == "NUMERIC" {
		if precision <= 0 || precision > field.DefaultPrecision || scale < 0 || scale > precision {
			res.Type = field.Text
			return res
		}
		res = res.WithShape(precision, scale)
		res.Type = field.Fixed
		return res
	}
	t, ok := namedTypes[typeName]
	if !ok {
		return res
	}
	res.Type = t
	if t == field.NChar || t == field.NVarChar {
		res = res.WithLimit(length)
	}
	return res
}

// describe adds the condition name of server errors
func describe(err error) error {
	var pe *pq.Error
	if !errors.As(err, &pe) {
		return err
	}
	return fmt.Errorf("%s: %w", pe.Code.Name(), err)
}
