package config

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/dbx/pkg/config/mocks"
	"github.com/umputun/dbx/pkg/tunnel"
)

func secretsMock(vals map[string]string) *mocks.SecretProvider {
	return &mocks.SecretProvider{GetFunc: func(key string) (string, error) {
		if v, ok := vals[key]; ok {
			return v, nil
		}
		return "", fmt.Errorf("secret %q not found", key)
	}}
}

func TestConfig_New(t *testing.T) {
	sp := secretsMock(map[string]string{"prod-db": "prod-pass"})

	for _, fname := range []string{"testdata/profiles.yml", "testdata/profiles.toml"} {
		t.Run(fname, func(t *testing.T) {
			c, err := New(fname, nil, sp)
			require.NoError(t, err)
			assert.Equal(t, []string{"local", "prod", "reports"}, c.Names())
			assert.Equal(t, "local", c.Default)

			prod := c.Profiles["prod"]
			assert.Equal(t, "prod", prod.Name)
			assert.Equal(t, "mysql", prod.Backend)
			assert.Equal(t, "prod-pass", prod.Password, "resolved from secrets")
			assert.Equal(t, map[string]string{"tls": "preferred", "timeout": "5s"}, prod.Options)
			require.NotNil(t, prod.Tunnel)
			assert.Equal(t, Tunnel{Host: "bastion.example.com", User: "deploy", Key: "testdata/test_ssh_key",
				Timeout: "10s"}, *prod.Tunnel)

			assert.Equal(t, []string{"prod-pass", "reporter-pass"}, c.AllSecretValues())
		})
	}
	require.Len(t, sp.GetCalls(), 2, "one secret per load")
	assert.Equal(t, "prod-db", sp.GetCalls()[0].Key)

	t.Run("unknown field", func(t *testing.T) {
		_, err := New("testdata/unknown-field.yml", nil, nil)
		require.ErrorContains(t, err, "field hostname not found")
	})

	t.Run("invalid profiles", func(t *testing.T) {
		_, err := New("testdata/invalid.yml", nil, nil)
		require.Error(t, err)
		for _, msg := range []string{
			`default profile "missing" not found`,
			`profile "nobackend": 1 error occurred`, "backend is required",
			`unknown backend "oracle"`,
			`profile "both": password and password_secret are mutually exclusive`,
			"sqlite needs database", "sqlite can't be tunneled", "tunnel key is required", "invalid tunnel timeout",
		} {
			assert.ErrorContains(t, err, msg)
		}
	})

	t.Run("secrets without provider", func(t *testing.T) {
		_, err := New("testdata/profiles.yml", nil, nil)
		require.EqualError(t, err, "secrets are used in profiles (1 secrets), but provider is not set")
	})

	t.Run("missing secret", func(t *testing.T) {
		_, err := New("testdata/profiles.yml", nil, secretsMock(nil))
		require.ErrorContains(t, err, `can't get secret "prod-db" defined in profile "prod"`)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := New("testdata/no-such-file.yml", nil, nil)
		require.ErrorContains(t, err, "can't read profiles file")
	})

	t.Run("unknown format", func(t *testing.T) {
		fname := t.TempDir() + "/profiles.json"
		require.NoError(t, os.WriteFile(fname, []byte(`{}`), 0o600))
		_, err := New(fname, nil, nil)
		require.ErrorContains(t, err, "unknown config format")
	})

	t.Run("empty file", func(t *testing.T) {
		fname := t.TempDir() + "/profiles.yml"
		require.NoError(t, os.WriteFile(fname, nil, 0o600))
		_, err := New(fname, nil, nil)
		require.ErrorContains(t, err, "no profiles defined")
	})

	t.Run("location from env", func(t *testing.T) {
		t.Setenv(profilesEnv, "testdata/single.yml")
		c, err := New("", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"only"}, c.Names())
	})

	t.Run("ad-hoc without file", func(t *testing.T) {
		c, err := New("testdata/no-such-file.yml", &Overrides{Backend: "sqlite", Database: "adhoc"}, nil)
		require.NoError(t, err)
		assert.Empty(t, c.Profiles)
	})
}

func TestConfig_NewFromURL(t *testing.T) {
	data, err := os.ReadFile("testdata/single.yml")
	require.NoError(t, err)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/profiles" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	}))
	defer ts.Close()

	c, err := New(ts.URL+"/profiles", nil, nil)
	require.NoError(t, err)
	p, err := c.Profile("")
	require.NoError(t, err)
	assert.Equal(t, "only", p.Name)
	assert.Equal(t, "localhost:5433", p.Server)

	_, err = New(ts.URL+"/other", nil, nil)
	require.ErrorContains(t, err, "status: 404 Not Found")
}

func TestConfig_Profile(t *testing.T) {
	sp := secretsMock(map[string]string{"prod-db": "prod-pass"})

	testCases := []struct {
		name      string
		fname     string
		overrides *Overrides
		profile   string
		want      Profile
		wantErr   string
	}{
		{
			name: "default from config", fname: "testdata/profiles.yml",
			want: Profile{Name: "local", Backend: "sqlite", Server: "/tmp/dbx", Database: "test",
				Options: map[string]string{"create": "true"}},
		},
		{
			name: "by name", fname: "testdata/profiles.yml", profile: "reports",
			want: Profile{Name: "reports", Backend: "postgres", Server: "pg.example.com", User: "reporter",
				Password: "reporter-pass", Database: "reports", Options: map[string]string{"sslmode": "disable"}},
		},
		{
			name: "overrides", fname: "testdata/profiles.yml", profile: "reports",
			overrides: &Overrides{User: "admin", Password: "secret", Options: map[string]string{"sslmode": "require",
				"connect_timeout": "3"}},
			want: Profile{Name: "reports", Backend: "postgres", Server: "pg.example.com", User: "admin",
				Password: "secret", Database: "reports",
				Options: map[string]string{"sslmode": "require", "connect_timeout": "3"}},
		},
		{
			name: "only profile is default", fname: "testdata/single.yml",
			want: Profile{Name: "only", Backend: "postgres", Server: "localhost:5433", Database: "app"},
		},
		{
			name: "ad-hoc", fname: "testdata/no-such-file.yml",
			overrides: &Overrides{Backend: "mysql", Server: "db:3306", User: "root", Database: "test"},
			want:      Profile{Name: "ad-hoc", Backend: "mysql", Server: "db:3306", User: "root", Database: "test"},
		},
		{
			name: "ad-hoc by name", fname: "testdata/profiles.yml", profile: "ad-hoc",
			overrides: &Overrides{Backend: "sqlite", Server: "/data", Database: "x"},
			want:      Profile{Name: "ad-hoc", Backend: "sqlite", Server: "/data", Database: "x"},
		},
		{
			name: "not found", fname: "testdata/profiles.yml", profile: "staging",
			wantErr: `profile "staging" not found`,
		},
		{
			name: "invalid override", fname: "testdata/profiles.yml", profile: "reports",
			overrides: &Overrides{Backend: "oracle"},
			wantErr:   `profile "reports" is invalid`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := New(tc.fname, tc.overrides, sp)
			require.NoError(t, err)
			p, err := c.Profile(tc.profile)
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, *p)
		})
	}

	t.Run("no default", func(t *testing.T) {
		c := &Config{Profiles: map[string]Profile{
			"a": {Name: "a", Backend: "postgres"},
			"b": {Name: "b", Backend: "mysql"},
		}}
		_, err := c.Profile("")
		require.EqualError(t, err, "no default profile, 2 profiles defined")
	})

	t.Run("copy is detached", func(t *testing.T) {
		c, err := New("testdata/profiles.yml", nil, sp)
		require.NoError(t, err)
		p, err := c.Profile("prod")
		require.NoError(t, err)
		p.Options["tls"] = "skip-verify"
		p.Tunnel.Host = "other"
		assert.Equal(t, "preferred", c.Profiles["prod"].Options["tls"])
		assert.Equal(t, "bastion.example.com", c.Profiles["prod"].Tunnel.Host)
	})
}

func TestProfile_Params(t *testing.T) {
	c, err := New("testdata/profiles.yml", nil, secretsMock(map[string]string{"prod-db": "prod-pass"}))
	require.NoError(t, err)

	t.Run("direct", func(t *testing.T) {
		p, err := c.Profile("reports")
		require.NoError(t, err)
		params, err := p.Params()
		require.NoError(t, err)
		assert.Equal(t, "pg.example.com", params.Server)
		assert.Equal(t, "reporter", params.User)
		assert.Equal(t, "reporter-pass", params.Password)
		assert.Equal(t, "reports", params.Database)
		assert.Equal(t, map[string]string{"sslmode": "disable"}, params.Options)
		assert.Nil(t, params.Dialer)
	})

	t.Run("tunneled", func(t *testing.T) {
		p, err := c.Profile("prod")
		require.NoError(t, err)
		params, err := p.Params()
		require.NoError(t, err)
		assert.Equal(t, "prod-pass", params.Password)
		tn, ok := params.Dialer.(*tunnel.Tunnel)
		require.True(t, ok)
		assert.Equal(t, "deploy@bastion.example.com:22", tn.String())
	})

	t.Run("missing key file", func(t *testing.T) {
		p := Profile{Name: "x", Backend: "mysql", Tunnel: &Tunnel{Host: "h", User: "u", Key: "testdata/no-key"}}
		_, err := p.Params()
		require.ErrorContains(t, err, `can't make tunnel for profile "x"`)
	})

	t.Run("bad timeout", func(t *testing.T) {
		p := Profile{Name: "x", Backend: "mysql", Tunnel: &Tunnel{Host: "h", Key: "testdata/test_ssh_key", Timeout: "1x"}}
		_, err := p.Params()
		require.ErrorContains(t, err, "invalid tunnel timeout")
	})
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, home+"/.ssh/id_ed25519", expandHome("~/.ssh/id_ed25519"))
	assert.Equal(t, "/etc/key", expandHome("/etc/key"))
	assert.Equal(t, "~user/key", expandHome("~user/key"))
}
