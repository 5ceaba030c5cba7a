package secrets

import (
	"os"
	"path/filepath"
	"testing"

	vault "github.com/sosedoff/ansible-vault-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vaultYaml = `secret: test-secret-data
port: 5432
db:
  prod:
    password: prod-pass
  hosts: [a, b]
`

func makeVault(t *testing.T, content, password string) string {
	t.Helper()
	fname := filepath.Join(t.TempDir(), "vault.yml")
	require.NoError(t, vault.EncryptFile(fname, content, password))
	return fname
}

func TestAnsibleVaultProvider_Get(t *testing.T) {
	p, err := NewAnsibleVaultProvider(makeVault(t, vaultYaml, "password"), "password")
	require.NoError(t, err, "failed to create AnsibleVaultProvider")

	testCases := []struct {
		key     string
		want    string
		wantErr string
	}{
		{key: "secret", want: "test-secret-data"},
		{key: "port", want: "5432"},
		{key: "db.prod.password", want: "prod-pass"},
		{key: "secret-2", wantErr: "not found key: secret-2"},
		{key: "db.stage.password", wantErr: "not found key: db.stage.password"},
		{key: "secret.x", wantErr: "not found key: secret.x"},
		{key: "db.prod", wantErr: "key db.prod is not a scalar"},
		{key: "db.hosts", wantErr: "key db.hosts is not a scalar"},
	}
	for _, tc := range testCases {
		t.Run(tc.key, func(t *testing.T) {
			v, err := p.Get(tc.key)
			if tc.wantErr != "" {
				require.EqualError(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, v)
		})
	}
}

func TestAnsibleVaultProvider_Create(t *testing.T) {
	vaultPath := makeVault(t, vaultYaml, "password")

	t.Run("ansible vault not found", func(t *testing.T) {
		_, err := NewAnsibleVaultProvider("testdata/wrong-test_ansible-vault", "password")
		require.EqualError(t, err, "error get fileinfo of: testdata/wrong-test_ansible-vault")
	})

	t.Run("ansible vault is not a file", func(t *testing.T) {
		dir := t.TempDir()
		_, err := NewAnsibleVaultProvider(dir, "password")
		require.EqualError(t, err, dir+" is not a regular file")
	})

	t.Run("ansible vault wrong password", func(t *testing.T) {
		_, err := NewAnsibleVaultProvider(vaultPath, "password0")
		require.EqualError(t, err, "error decrypting file: "+vaultPath)
	})

	t.Run("ansible vault error unmarshaling yaml", func(t *testing.T) {
		_, err := NewAnsibleVaultProvider(makeVault(t, "key: [unclosed", "password"), "password")
		require.EqualError(t, err, "error during unmarshaling yaml file")
	})

	t.Run("plain file", func(t *testing.T) {
		fname := filepath.Join(t.TempDir(), "plain.yml")
		require.NoError(t, os.WriteFile(fname, []byte(vaultYaml), 0o600))
		_, err := NewAnsibleVaultProvider(fname, "password")
		require.EqualError(t, err, "error decrypting file: "+fname)
	})
}
