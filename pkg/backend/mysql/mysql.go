// Package mysql implements the MySQL backend on top of github.com/go-sql-driver/mysql.
// MySQL has native session variables, so canonical query text goes to the server as is.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/umputun/dbx/pkg/db"
	"github.com/umputun/dbx/pkg/dberr"
	"github.com/umputun/dbx/pkg/field"
	"github.com/umputun/dbx/pkg/sqltext"
)

// Name of the backend in the db registry
const Name = "mysql"

const defaultPort = "3306"

func init() {
	db.Register(&Backend{})
}

// Backend is the MySQL backend.
type Backend struct{}

// Name returns the registry name.
func (b *Backend) Name() string { return Name }

// Formatter returns the MySQL literal writer.
func (b *Backend) Formatter() field.Formatter { return Formatter{} }

// Scanner returns the scanner for backslash escapes and hash comments.
func (b *Backend) Scanner() sqltext.Scanner { return sqltext.MySQL }

// Placeholder returns "?".
func (b *Backend) Placeholder(int) string { return "?" }

// Translate returns query as is, session variables are native.
func (b *Backend) Translate(query string) (string, error) { return query, nil }

// Open makes a connector for params. Options are driver DSN parameters, i.e. "tls": "skip-verify" or
// "timeout": "5s", a Dialer replaces the network dial.
func (b *Backend) Open(ctx context.Context, params db.Params) (*sql.DB, error) {
	cfg, err := config(params)
	if err != nil {
		return nil, err
	}
	conn, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("can't make connector: %w", err)
	}
	res := sql.OpenDB(conn)
	if err := res.PingContext(ctx); err != nil {
		_ = res.Close()
		return nil, describe(err, params)
	}
	return res, nil
}

// config makes driver config for params. Server is host[:port] or a unix socket path.
func config(params db.Params) (*mysql.Config, error) {
	cfg := mysql.NewConfig()
	cfg.User, cfg.Passwd, cfg.DBName = params.User, params.Password, params.Database
	cfg.Net, cfg.Addr = "tcp", params.Server
	switch {
	case strings.HasPrefix(params.Server, "/"):
		cfg.Net = "unix"
	case params.Server == "":
		cfg.Addr = "localhost:" + defaultPort
	default:
		if _, _, err := net.SplitHostPort(params.Server); err != nil {
			cfg.Addr = net.JoinHostPort(params.Server, defaultPort)
		}
	}
	cfg.ParseTime = true

	if len(params.Options) > 0 {
		q := url.Values{}
		for k, v := range params.Options {
			q.Set(k, v)
		}
		dsn := cfg.FormatDSN()
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		parsed, err := mysql.ParseDSN(dsn + sep + q.Encode())
		if err != nil {
			return nil, dberr.Wrap(dberr.ErrConnection, err, "invalid mysql options")
		}
		cfg = parsed
	}
	if params.Dialer != nil {
		cfg.Net = dialNet(params.Dialer)
	}
	return cfg, nil
}

var (
	dialMu   sync.Mutex
	dialNets = map[db.Dialer]string{}
)

// dialNet registers the dialer with the driver once and returns its network name
func dialNet(d db.Dialer) string {
	dialMu.Lock()
	defer dialMu.Unlock()
	if name, ok := dialNets[d]; ok {
		return name
	}
	name := "dbx-" + uuid.NewString()
	mysql.RegisterDialContext(name, func(ctx context.Context, addr string) (net.Conn, error) {
		return d.DialContext(ctx, "tcp", addr)
	})
	dialNets[d] = name
	log.Printf("[DEBUG] mysql dialer registered as %s", name)
	return name
}

// Setup makes the session time zone UTC, the driver reads datetimes as UTC.
func (b *Backend) Setup(ctx context.Context, conn *sql.Conn) error {
	if _, err := conn.ExecContext(ctx, "SET time_zone = '+00:00'"); err != nil {
		return fmt.Errorf("can't set session time zone: %w", err)
	}
	return nil
}

// TxStatements returns transaction statements. MySQL has no named transactions, the name is ignored.
func (b *Backend) TxStatements(op db.TxOp, _ string) ([]string, error) {
	switch op {
	case db.TxBegin:
		return []string{"START TRANSACTION"}, nil
	case db.TxCommit:
		return []string{"COMMIT"}, nil
	case db.TxRollback:
		return []string{"ROLLBACK"}, nil
	}
	return nil, dberr.New(dberr.ErrUnimplemented, "transaction operation %s", op)
}

// CreateDatabase creates a database.
func (b *Backend) CreateDatabase(ctx context.Context, conn *sql.Conn, _ db.Params, name string) error {
	_, err := conn.ExecContext(ctx, "CREATE DATABASE "+Formatter{}.WriteName(name))
	return err
}

// DestroyDatabase drops a database.
func (b *Backend) DestroyDatabase(ctx context.Context, conn *sql.Conn, _ db.Params, name string) error {
	_, err := conn.ExecContext(ctx, "DROP DATABASE "+Formatter{}.WriteName(name))
	return err
}

// SelectDatabase switches the connection with USE.
func (b *Backend) SelectDatabase(ctx context.Context, conn *sql.Conn, name string) (bool, error) {
	_, err := conn.ExecContext(ctx, "USE "+Formatter{}.WriteName(name))
	return false, err
}

// ColumnInfos maps the driver type name with precision and scale of decimals.
// The driver doesn't report lengths, fetched text and binary columns are unlimited.
func (b *Backend) ColumnInfos(ct *sql.ColumnType) field.Infos {
	precision, scale, ok := ct.DecimalSize()
	if !ok {
		precision, scale = 0, 0
	}
	return typeInfos(ct.Name(), ct.DatabaseTypeName(), int(precision), int(scale))
}

var namedTypes = map[string]field.Type{
	"BIT": field.Bit, "BOOL": field.Bit, "BOOLEAN": field.Bit,
	"TINYINT": field.Int8, "SMALLINT": field.Int16, "MEDIUMINT": field.Int24, "INT": field.Int32,
	"INTEGER": field.Int32, "BIGINT": field.Int64, "YEAR": field.Int16,
	"UNSIGNED TINYINT": field.UInt8, "UNSIGNED SMALLINT": field.UInt16, "UNSIGNED MEDIUMINT": field.UInt24,
	"UNSIGNED INT": field.UInt32, "UNSIGNED BIGINT": field.UInt64,
	"FLOAT": field.Float32, "DOUBLE": field.Float64,
	"CHAR": field.Char, "VARCHAR": field.VarChar, "ENUM": field.VarChar, "SET": field.VarChar,
	"TINYTEXT": field.Text, "TEXT": field.Text, "MEDIUMTEXT": field.Text, "LONGTEXT": field.Text, "JSON": field.Text,
	"BINARY": field.Binary, "VARBINARY": field.VarBinary,
	"TINYBLOB": field.Blob, "BLOB": field.Blob, "MEDIUMBLOB": field.Blob, "LONGBLOB": field.Blob, "GEOMETRY": field.Blob,
	"DATE": field.Date, "TIME": field.Time, "DATETIME": field.DateTime, "TIMESTAMP": field.DateTime,
}

func typeInfos(name, typeName string, precision, scale int) field.Infos {
	res := field.NewInfos(name, field.Null)
	typeName = strings.ToUpper(typeName)
	if typeName == "DECIMAL" {
		// wider decimals don't fit the fixed point, text keeps every digit
		if precision <= 0 || precision > field.DefaultPrecision || scale < 0 || scale > precision {
			res.Type = field.Text
			return res
		}
		res = res.WithShape(precision, scale)
		res.Type = field.Fixed
		return res
	}
	if t, ok := namedTypes[typeName]; ok {
		res.Type = t
	}
	return res
}

// describe explains the common connection failures
func describe(err error, params db.Params) error {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return err
	}
	switch me.Number {
	case 1045:
		return fmt.Errorf("access denied for %q: %w", params.User, err)
	case 1049:
		return fmt.Errorf("unknown database %q: %w", params.Database, err)
	}
	return err
}
