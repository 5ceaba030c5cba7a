package mysql

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/umputun/dbx/pkg/db"
	"github.com/umputun/dbx/pkg/dberr"
	"github.com/umputun/dbx/pkg/field"
)

func TestConfig(t *testing.T) {
	testCases := []struct {
		name     string
		params   db.Params
		wantNet  string
		wantAddr string
		wantErr  bool
	}{
		{name: "host only", params: db.Params{Server: "db.example.com"}, wantNet: "tcp", wantAddr: "db.example.com:3306"},
		{name: "host and port", params: db.Params{Server: "10.0.0.1:3307"}, wantNet: "tcp", wantAddr: "10.0.0.1:3307"},
		{name: "default", params: db.Params{}, wantNet: "tcp", wantAddr: "localhost:3306"},
		{name: "socket", params: db.Params{Server: "/var/run/mysqld/mysqld.sock"}, wantNet: "unix",
			wantAddr: "/var/run/mysqld/mysqld.sock"},
		{name: "options", params: db.Params{Server: "h:1", Options: map[string]string{"timeout": "5s", "charset": "utf8mb4"}},
			wantNet: "tcp", wantAddr: "h:1"},
		{name: "bad option", params: db.Params{Server: "h:1", Options: map[string]string{"timeout": "soon"}}, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.params.User, tc.params.Password, tc.params.Database = "u", "p@ss", "test"
			cfg, err := config(tc.params)
			if tc.wantErr {
				require.ErrorIs(t, err, dberr.ErrConnection)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantNet, cfg.Net)
			assert.Equal(t, tc.wantAddr, cfg.Addr)
			assert.Equal(t, "u", cfg.User)
			assert.Equal(t, "p@ss", cfg.Passwd)
			assert.Equal(t, "test", cfg.DBName)
			assert.True(t, cfg.ParseTime)
		})
	}

	cfg, err := config(db.Params{Server: "h:1", Options: map[string]string{"timeout": "5s"}})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}

type testDialer struct{ calls int }

func (d *testDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d.calls++
	return (&net.Dialer{}).DialContext(ctx, network, addr)
}

func TestConfig_Dialer(t *testing.T) {
	d1, d2 := &testDialer{}, &testDialer{}
	c1, err := config(db.Params{Server: "h", Dialer: d1})
	require.NoError(t, err)
	again, err := config(db.Params{Server: "h", Dialer: d1})
	require.NoError(t, err)
	c2, err := config(db.Params{Server: "h", Dialer: d2})
	require.NoError(t, err)
	assert.Contains(t, c1.Net, "dbx-")
	assert.Equal(t, c1.Net, again.Net, "dialer registered once")
	assert.NotEqual(t, c1.Net, c2.Net)
	assert.Equal(t, "h:3306", c1.Addr)
}

func TestTypeInfos(t *testing.T) {
	testCases := []struct {
		typeName  string
		precision int
		scale     int
		want      field.Type
	}{
		{typeName: "INT", want: field.Int32},
		{typeName: "UNSIGNED INT", want: field.UInt32},
		{typeName: "BIGINT", want: field.Int64},
		{typeName: "UNSIGNED BIGINT", want: field.UInt64},
		{typeName: "TINYINT", want: field.Int8},
		{typeName: "MEDIUMINT", want: field.Int24},
		{typeName: "YEAR", want: field.Int16},
		{typeName: "BIT", want: field.Bit},
		{typeName: "FLOAT", want: field.Float32},
		{typeName: "DOUBLE", want: field.Float64},
		{typeName: "DECIMAL", precision: 10, scale: 2, want: field.Fixed},
		{typeName: "DECIMAL", precision: 30, scale: 2, want: field.Text},
		{typeName: "VARCHAR", want: field.VarChar},
		{typeName: "CHAR", want: field.Char},
		{typeName: "LONGTEXT", want: field.Text},
		{typeName: "JSON", want: field.Text},
		{typeName: "VARBINARY", want: field.VarBinary},
		{typeName: "BLOB", want: field.Blob},
		{typeName: "DATE", want: field.Date},
		{typeName: "TIME", want: field.Time},
		{typeName: "TIMESTAMP", want: field.DateTime},
		{typeName: "datetime", want: field.DateTime},
		{typeName: "NULL", want: field.Null},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%s(%d,%d)", tc.typeName, tc.precision, tc.scale), func(t *testing.T) {
			res := typeInfos("c", tc.typeName, tc.precision, tc.scale)
			assert.Equal(t, "c", res.Name)
			assert.Equal(t, tc.want, res.Type)
			if tc.want == field.Fixed {
				assert.Equal(t, tc.precision, res.Precision)
				assert.Equal(t, tc.scale, res.Decimals)
			}
		})
	}
}

func TestFormatter(t *testing.T) {
	f := Formatter{}
	assert.Equal(t, `'it\'s a \\ \n'`, f.WriteText("it's a \\ \n"))
	assert.Equal(t, `N'\'x\''`, f.WriteNText("'x'"))
	assert.Equal(t, "`a``b`", f.WriteName("a`b"))
	assert.Equal(t, "TRUE", f.WriteBool(true))
	assert.Equal(t, "X'0102'", f.WriteBinary([]byte{1, 2}))
}

func TestBackend_TxStatements(t *testing.T) {
	b := &Backend{}
	res, err := b.TxStatements(db.TxBegin, "named")
	require.NoError(t, err)
	assert.Equal(t, []string{"START TRANSACTION"}, res)
	res, err = b.TxStatements(db.TxCommit, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"COMMIT"}, res)
	res, err = b.TxStatements(db.TxRollback, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"ROLLBACK"}, res)
	_, err = b.TxStatements(db.TxOp(5), "")
	require.ErrorIs(t, err, dberr.ErrUnimplemented)
}

func TestBackend_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping mysql container test in short mode")
	}
	ctx := context.Background()
	params, teardown := startTestContainer(t)
	defer teardown()

	d, err := db.Open(Name, params)
	require.NoError(t, err)
	defer d.Close() //nolint:errcheck // test cleanup
	c, err := d.RetrieveConnection(ctx)
	require.NoError(t, err)

	t.Run("out parameters", func(t *testing.T) {
		st := c.NewStatement("SET ? = ? * 2")
		out, err := st.CreateParameter(field.NewInfos("out", field.Int64), db.Out)
		require.NoError(t, err)
		io, err := st.CreateParameter(field.NewInfos("io", field.Int32), db.InOut)
		require.NoError(t, err)
		require.NoError(t, st.Initialize(ctx))
		defer st.Cleanup() //nolint:errcheck // test cleanup
		require.NoError(t, io.Set(21))
		ok, err := st.ExecuteUpdate(ctx)
		require.NoError(t, err)
		require.True(t, ok, "%v", st.LastError())
		v, err := out.Int64()
		require.NoError(t, err)
		assert.Equal(t, int64(42), v)
	})

	t.Run("text query with out parameter", func(t *testing.T) {
		q := c.NewQuery("SET ? = CONCAT(?, '!')")
		res, err := q.CreateParameter(field.NewInfos("res", field.VarChar).WithLimit(20), db.Out)
		require.NoError(t, err)
		_, err = q.CreateParameter(field.NewInfos("in", field.VarChar), db.In)
		require.NoError(t, err)
		require.NoError(t, q.Initialize(ctx))
		require.NoError(t, q.SetParameterValue(2, `it's \ok`))
		ok, err := q.ExecuteUpdate(ctx)
		require.NoError(t, err)
		require.True(t, ok, "%v", q.LastError())
		s, err := res.Text()
		require.NoError(t, err)
		assert.Equal(t, `it's \ok!`, s)
	})

	t.Run("round trip", func(t *testing.T) {
		ok, err := c.ExecuteUpdate(ctx, `CREATE TABLE items (id INT AUTO_INCREMENT PRIMARY KEY, name VARCHAR(20),
			price DECIMAL(10,2), qty INT UNSIGNED, born DATE, at TIME, data BLOB)`)
		require.NoError(t, err)
		require.True(t, ok, "%v", c.LastError())

		ins := c.NewStatement("INSERT INTO items (name, price, qty, born, at, data) VALUES (?, ?, ?, ?, ?, ?)")
		for _, inf := range []field.Infos{field.NewInfos("name", field.VarChar).WithLimit(20),
			field.NewInfos("price", field.Fixed).WithShape(10, 2), field.NewInfos("qty", field.UInt32),
			field.NewInfos("born", field.Date), field.NewInfos("at", field.Time), field.NewInfos("data", field.Blob)} {
			_, err := ins.CreateParameter(inf, db.In)
			require.NoError(t, err)
		}
		require.NoError(t, ins.Initialize(ctx))
		defer ins.Cleanup() //nolint:errcheck // test cleanup
		vals := []any{"apple", "12.50", 7, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "10:20:30", []byte{1, 2}}
		for i, v := range vals {
			require.NoError(t, ins.SetParameterValue(i+1, v))
		}
		ok, err = ins.ExecuteUpdate(ctx)
		require.NoError(t, err)
		require.True(t, ok, "%v", ins.LastError())
		assert.Equal(t, int64(1), ins.LastInsertID())

		res, err := c.ExecuteSelect(ctx, "SELECT id, name, price, qty, born, at, data FROM items")
		require.NoError(t, err)
		require.NotNil(t, res, "%v", c.LastError())
		require.Equal(t, 1, res.Len())
		types := make([]field.Type, 0, len(res.Columns()))
		for _, col := range res.Columns() {
			types = append(types, col.Type)
		}
		assert.Equal(t, []field.Type{field.Int32, field.VarChar, field.Fixed, field.UInt32, field.Date, field.Time,
			field.Blob}, types)

		row := res.Rows()[0]
		price, err := row.FieldByName("price")
		require.NoError(t, err)
		fx, err := price.Fixed()
		require.NoError(t, err)
		assert.Equal(t, "12.50", fx.String())
		at, err := row.FieldByName("at")
		require.NoError(t, err)
		tm, err := at.Time()
		require.NoError(t, err)
		assert.Equal(t, "10:20:30", tm.Format("15:04:05"))
		born, err := row.FieldByName("born")
		require.NoError(t, err)
		tm, err = born.Time()
		require.NoError(t, err)
		assert.Equal(t, "2024-03-01", tm.Format(field.DateLayout))
	})

	t.Run("transactions", func(t *testing.T) {
		ok, err := c.ExecuteUpdate(ctx, "CREATE TABLE tx (a INT)")
		require.NoError(t, err)
		require.True(t, ok, "%v", c.LastError())
		require.NoError(t, c.BeginTransaction(ctx, "t1"))
		_, err = c.ExecuteUpdate(ctx, "INSERT INTO tx VALUES (1)")
		require.NoError(t, err)
		require.NoError(t, c.RollBack(ctx))
		res, err := c.ExecuteSelect(ctx, "SELECT count(*) AS n FROM tx")
		require.NoError(t, err)
		require.NotNil(t, res)
		f, err := res.Rows()[0].Field(0)
		require.NoError(t, err)
		n, err := f.Int64()
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("databases", func(t *testing.T) {
		require.NoError(t, c.CreateDatabase(ctx, "other"))
		require.ErrorIs(t, c.CreateDatabase(ctx, "other"), dberr.ErrConnection)
		require.NoError(t, c.SelectDatabase(ctx, "other"))
		res, err := c.ExecuteSelect(ctx, "SELECT DATABASE() AS db")
		require.NoError(t, err)
		require.NotNil(t, res)
		f, err := res.Rows()[0].Field(0)
		require.NoError(t, err)
		s, err := f.Text()
		require.NoError(t, err)
		assert.Equal(t, "other", s)
		require.NoError(t, c.SelectDatabase(ctx, params.Database))
		require.NoError(t, c.DestroyDatabase(ctx, "other"))
	})

	t.Run("wrong password", func(t *testing.T) {
		p := params
		p.Password = "bad"
		err := db.NewConnection(&Backend{}, p).Connect(ctx)
		require.ErrorIs(t, err, dberr.ErrConnection)
		assert.Contains(t, err.Error(), "access denied")
	})
}

func startTestContainer(t *testing.T) (params db.Params, teardown func()) {
	t.Helper()
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "mysql:8",
		ExposedPorts: []string{"3306/tcp"},
		Env:          map[string]string{"MYSQL_ROOT_PASSWORD": "password", "MYSQL_DATABASE": "test"},
		WaitingFor:   wait.ForLog("port: 3306  MySQL Community Server - GPL").WithStartupTimeout(time.Minute * 2),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306")
	require.NoError(t, err)

	params = db.Params{Server: fmt.Sprintf("%s:%d", host, port.Int()), User: "root", Password: "password", Database: "test"}
	return params, func() { require.NoError(t, container.Terminate(ctx)) }
}
