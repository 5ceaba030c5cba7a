package secrets

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/umputun/dbx/pkg/backend/mysql"
	_ "github.com/umputun/dbx/pkg/backend/postgres"
	_ "github.com/umputun/dbx/pkg/backend/sqlite"
	"github.com/umputun/dbx/pkg/db"
)

func TestInternalProvider_EncryptionDecryption(t *testing.T) {
	p := &InternalProvider{key: []byte("test_key")}

	er, err := p.encrypt("test_value")
	require.NoError(t, err)
	t.Logf("encrypted value: %s", er)
	dr, err := p.decrypt(er)
	require.NoError(t, err)
	assert.Equal(t, "test_value", dr)

	other := &InternalProvider{key: []byte("other_key")}
	_, err = other.decrypt(er)
	require.EqualError(t, err, "failed to decrypt")

	_, err = p.decrypt("c2hvcnQ=")
	require.EqualError(t, err, "sealed data too short")
}

func TestInternalProvider_SQLite(t *testing.T) {
	params := db.Params{Server: t.TempDir(), Database: "secrets", Options: map[string]string{"create": "true"}}
	provider, err := NewInternalProvider(context.Background(), "sqlite", params, []byte("test_key"))
	require.NoError(t, err)
	defer provider.Close() //nolint:errcheck // test cleanup
	checkProvider(t, provider)

	t.Run("concurrent use", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := fmt.Sprintf("c/%d", i)
				assert.NoError(t, provider.Set(key, key+"-value"))
				v, err := provider.Get(key)
				assert.NoError(t, err)
				assert.Equal(t, key+"-value", v)
			}(i)
		}
		wg.Wait()
		keys, err := provider.List("c/")
		require.NoError(t, err)
		assert.Len(t, keys, 8)
	})

	t.Run("reopen keeps secrets", func(t *testing.T) {
		require.NoError(t, provider.Set("persistent", "value"))
		other, err := NewInternalProvider(context.Background(), "sqlite", params, []byte("test_key"))
		require.NoError(t, err)
		defer other.Close() //nolint:errcheck // test cleanup
		v, err := other.Get("persistent")
		require.NoError(t, err)
		assert.Equal(t, "value", v)
	})

	t.Run("key too long", func(t *testing.T) {
		long := make([]byte, maxKeyLen+1)
		for i := range long {
			long[i] = 'k'
		}
		err := provider.Set(string(long), "v")
		require.ErrorContains(t, err, "invalid value of parameter 1")
	})
}

func TestInternalProvider_Errors(t *testing.T) {
	_, err := NewInternalProvider(context.Background(), "oracle", db.Params{}, []byte("k"))
	require.EqualError(t, err, `unsupported secrets database backend "oracle"`)

	_, err = NewInternalProvider(context.Background(), "sqlite", db.Params{Server: t.TempDir(), Database: "missing"},
		[]byte("k"))
	require.ErrorContains(t, err, "error opening secrets database")
}

func TestInternalProvider_Servers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	pgParams, mysqlParams := setupTestContainers(t)

	testCases := []struct {
		name    string
		backend string
		params  db.Params
	}{
		{name: "PostgreSQL", backend: "postgres", params: pgParams},
		{name: "MySQL", backend: "mysql", params: mysqlParams},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			provider, err := NewInternalProvider(ctx, tc.backend, tc.params, []byte("test_key"))
			require.NoError(t, err)
			defer provider.Close() //nolint:errcheck // test cleanup
			checkProvider(t, provider)
		})
	}
}

func checkProvider(t *testing.T, provider *InternalProvider) {
	t.Helper()

	require.NoError(t, provider.Set("test_key", "test_value"))
	secret, err := provider.Get("test_key")
	require.NoError(t, err)
	assert.Equal(t, "test_value", secret)

	require.NoError(t, provider.Set("test_key", "new value, 'quoted'"), "replaces existing")
	secret, err = provider.Get("test_key")
	require.NoError(t, err)
	assert.Equal(t, "new value, 'quoted'", secret)

	require.NoError(t, provider.Set("app/db", "p1"))
	require.NoError(t, provider.Set("app/api", "p2"))
	keys, err := provider.List("app/")
	require.NoError(t, err)
	assert.Equal(t, []string{"app/api", "app/db"}, keys)
	keys, err = provider.List("*")
	require.NoError(t, err)
	assert.Equal(t, []string{"app/api", "app/db", "test_key"}, keys)

	require.NoError(t, provider.Delete("test_key"))
	_, err = provider.Get("test_key")
	require.EqualError(t, err, "secret not found")
	err = provider.Delete("test_key")
	require.EqualError(t, err, "key not found in the database: test_key")

	require.NoError(t, provider.Delete("app/db"))
	require.NoError(t, provider.Delete("app/api"))
}

func setupTestContainers(t *testing.T) (pgParams, mysqlParams db.Params) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15",
			ExposedPorts: []string{"5432/tcp"},
			Env:          map[string]string{"POSTGRES_PASSWORD": "password"},
			WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })
	pgHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)
	pgParams = db.Params{Server: fmt.Sprintf("%s:%d", pgHost, pgPort.Int()), User: "postgres", Password: "password",
		Database: "postgres", Options: map[string]string{"sslmode": "disable"}}

	mysqlContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mysql:8",
			ExposedPorts: []string{"3306/tcp"},
			Env:          map[string]string{"MYSQL_ROOT_PASSWORD": "password", "MYSQL_DATABASE": "secrets"},
			WaitingFor:   wait.ForLog("port: 3306  MySQL Community Server - GPL"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mysqlContainer.Terminate(ctx) })
	mysqlHost, err := mysqlContainer.Host(ctx)
	require.NoError(t, err)
	mysqlPort, err := mysqlContainer.MappedPort(ctx, "3306")
	require.NoError(t, err)
	mysqlParams = db.Params{Server: fmt.Sprintf("%s:%d", mysqlHost, mysqlPort.Int()), User: "root",
		Password: "password", Database: "secrets"}

	return pgParams, mysqlParams
}

func TestNoOp_Get(t *testing.T) {
	p := &NoOpProvider{}
	_, err := p.Get("test_key")
	require.Error(t, err)
}
