// Package config loads connection profiles. A profile names a backend and the parameters to connect with,
// the password inline or as a key of a secrets provider, and an optional ssh tunnel to reach the server.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/go-pkgz/stringutils"
	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/umputun/dbx/pkg/db"
	"github.com/umputun/dbx/pkg/tunnel"
)

// Config defines the top-level profiles file
type Config struct {
	Default  string             `yaml:"default" toml:"default"`   // profile used when no name requested
	Profiles map[string]Profile `yaml:"profiles" toml:"profiles"` // profiles by name

	overrides       *Overrides        // overrides passed from cli
	secrets         map[string]string // all resolved secrets
	secretsProvider SecretsProvider   // secrets provider to use
}

// Profile defines how to connect to a database
type Profile struct {
	Name           string            `yaml:"-" toml:"-"` // name of profile, set from the map key
	Backend        string            `yaml:"backend" toml:"backend"`
	Server         string            `yaml:"server" toml:"server"` // host[:port], unix socket or sqlite directory
	User           string            `yaml:"user" toml:"user"`
	Password       string            `yaml:"password" toml:"password"`
	PasswordSecret string            `yaml:"password_secret" toml:"password_secret"` // key of the password in secrets provider
	Database       string            `yaml:"database" toml:"database"`
	Options        map[string]string `yaml:"options" toml:"options"` // backend specific options
	Tunnel         *Tunnel           `yaml:"tunnel" toml:"tunnel"`
}

// Tunnel defines ssh host used to reach the database server
type Tunnel struct {
	Host    string `yaml:"host" toml:"host"` // host[:port], port 22 by default
	User    string `yaml:"user" toml:"user"`
	Key     string `yaml:"key" toml:"key"`         // private key file
	Timeout string `yaml:"timeout" toml:"timeout"` // duration, i.e. 10s
}

//go:generate moq -out mocks/secrets.go -pkg mocks -skip-ensure -fmt goimports . SecretsProvider:SecretProvider

// SecretsProvider defines interface for secrets providers
type SecretsProvider interface {
	Get(key string) (string, error)
}

// Overrides defines profile fields passed from cli, set fields replace the profile's ones
type Overrides struct {
	Backend  string
	Server   string
	User     string
	Password string
	Database string
	Options  map[string]string
}

const (
	profilesEnv    = "DBX_PROFILES"
	defaultProfile = "default"
	adHocProfile   = "ad-hoc"
	defaultTimeout = 30 * time.Second
)

var knownBackends = []string{"mysql", "postgres", "sqlite"}

// New loads profiles from loc, a file or http url, DBX_PROFILES env is used for empty loc.
// If nothing can be loaded and the overrides set a backend, the config is empty and the ad-hoc profile is made
// from the overrides alone. Passwords kept in the secrets provider are resolved here.
func New(loc string, overrides *Overrides, secProvider SecretsProvider) (res *Config, err error) {
	if loc == "" {
		loc = os.Getenv(profilesEnv)
	}
	log.Printf("[DEBUG] request to load profiles %q", loc)
	res = &Config{overrides: overrides, secretsProvider: secProvider, secrets: map[string]string{}}

	data, err := readLocation(loc)
	if err != nil {
		if overrides != nil && overrides.Backend != "" {
			log.Printf("[DEBUG] no profiles loaded from %q, ad-hoc profile only: %v", loc, err)
			return res, nil
		}
		return nil, err
	}

	if err = unmarshalConfig(loc, data, res); err != nil {
		return nil, fmt.Errorf("can't unmarshal config: %w", err)
	}

	// populate profile names from map keys to be able to use them from caller getting back just a profile
	for k, v := range res.Profiles {
		v.Name = k
		res.Profiles[k] = v
	}

	if err = res.checkConfig(); err != nil {
		return nil, fmt.Errorf("config %s is invalid: %w", loc, err)
	}

	if err = res.loadSecrets(); err != nil {
		return nil, err
	}

	log.Printf("[INFO] config loaded with %d profiles", len(res.Profiles))
	return res, nil
}

// readLocation reads the file or gets the url
func readLocation(loc string) ([]byte, error) {
	if loc == "" {
		return nil, fmt.Errorf("no profiles location")
	}
	if !strings.HasPrefix(loc, "http://") && !strings.HasPrefix(loc, "https://") {
		data, err := os.ReadFile(loc) //nolint:gosec // location is user input
		if err != nil {
			return nil, fmt.Errorf("can't read profiles file: %w", err)
		}
		return data, nil
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(loc)
	if err != nil {
		return nil, fmt.Errorf("can't get profiles from http %s: %w", loc, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read only
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("can't get profiles from http %s, status: %s", loc, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// unmarshalConfig parses yaml or toml, by extension of the location. Locations without extension are yaml.
func unmarshalConfig(loc string, data []byte, res *Config) error {
	ext := strings.ToLower(filepath.Ext(strings.SplitN(loc, "?", 2)[0]))
	switch {
	case ext == ".yml" || ext == ".yaml" || ext == "":
		yamlDecoder := yaml.NewDecoder(bytes.NewReader(data))
		yamlDecoder.KnownFields(true) // strict mode, fail on unknown fields
		if err := yamlDecoder.Decode(res); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("can't unmarshal yaml profiles %s: %w", loc, err)
		}
	case ext == ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(res); err != nil {
			return fmt.Errorf("can't unmarshal toml profiles %s: %w", loc, err)
		}
	default:
		return fmt.Errorf("unknown config format %s", loc)
	}
	return nil
}

// checkConfig validates all profiles and reports every problem found
func (c *Config) checkConfig() error {
	errs := new(multierror.Error)
	if len(c.Profiles) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("no profiles defined"))
	}
	if c.Default != "" {
		if _, ok := c.Profiles[c.Default]; !ok {
			errs = multierror.Append(errs, fmt.Errorf("default profile %q not found", c.Default))
		}
	}
	for _, name := range c.names() {
		if strings.EqualFold(name, adHocProfile) {
			errs = multierror.Append(errs, fmt.Errorf("profile name %q is reserved", adHocProfile))
			continue
		}
		p := c.Profiles[name]
		if p.Password != "" && p.PasswordSecret != "" {
			errs = multierror.Append(errs, fmt.Errorf("profile %q: password and password_secret are mutually exclusive", name))
		}
		if err := p.validate(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("profile %q: %w", name, err))
		}
	}
	return errs.ErrorOrNil()
}

func (p *Profile) validate() error {
	errs := new(multierror.Error)
	switch {
	case p.Backend == "":
		errs = multierror.Append(errs, fmt.Errorf("backend is required"))
	case !stringutils.Contains(p.Backend, knownBackends):
		errs = multierror.Append(errs, fmt.Errorf("unknown backend %q, expected one of %s",
			p.Backend, strings.Join(knownBackends, ", ")))
	}
	if p.Backend == "sqlite" && p.Database == "" {
		errs = multierror.Append(errs, fmt.Errorf("sqlite needs database"))
	}
	if p.Tunnel != nil {
		if p.Backend == "sqlite" {
			errs = multierror.Append(errs, fmt.Errorf("sqlite can't be tunneled"))
		}
		if p.Tunnel.Host == "" {
			errs = multierror.Append(errs, fmt.Errorf("tunnel host is required"))
		}
		if p.Tunnel.Key == "" {
			errs = multierror.Append(errs, fmt.Errorf("tunnel key is required"))
		}
		if p.Tunnel.Timeout != "" {
			if _, err := time.ParseDuration(p.Tunnel.Timeout); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("invalid tunnel timeout: %w", err))
			}
		}
	}
	return errs.ErrorOrNil()
}

// loadSecrets resolves password_secret keys to passwords
func (c *Config) loadSecrets() error {
	keys := 0
	for _, p := range c.Profiles {
		if p.PasswordSecret != "" {
			keys++
		}
	}
	if keys == 0 {
		return nil
	}
	if c.secretsProvider == nil {
		return fmt.Errorf("secrets are used in profiles (%d secrets), but provider is not set", keys)
	}

	for _, name := range c.names() {
		p := c.Profiles[name]
		if p.PasswordSecret == "" {
			continue
		}
		val, err := c.secretsProvider.Get(p.PasswordSecret)
		if err != nil {
			return fmt.Errorf("can't get secret %q defined in profile %q: %w", p.PasswordSecret, name, err)
		}
		c.secrets[p.PasswordSecret] = val
		p.Password = val
		c.Profiles[name] = p
	}
	return nil
}

// Profile returns a copy of the named profile with overrides applied. An empty name selects the default
// profile: the one set by "default", the one called "default" or the only one. The ad-hoc profile is made
// from overrides.
func (c *Config) Profile(name string) (*Profile, error) {
	if name == "" {
		name = c.defaultName()
	}

	var res Profile
	switch p, ok := c.Profiles[name]; {
	case ok:
		res = p
		res.Options = maps.Clone(p.Options)
		if p.Tunnel != nil {
			tn := *p.Tunnel
			res.Tunnel = &tn
		}
	case (name == adHocProfile || name == "") && c.overrides != nil && c.overrides.Backend != "":
		res = Profile{Name: adHocProfile}
	case name == "":
		return nil, fmt.Errorf("no default profile, %d profiles defined", len(c.Profiles))
	default:
		return nil, fmt.Errorf("profile %q not found", name)
	}

	if c.overrides != nil {
		o := c.overrides
		res.Backend = override(res.Backend, o.Backend)
		res.Server = override(res.Server, o.Server)
		res.User = override(res.User, o.User)
		res.Password = override(res.Password, o.Password)
		res.Database = override(res.Database, o.Database)
		if len(o.Options) > 0 && res.Options == nil {
			res.Options = map[string]string{}
		}
		maps.Copy(res.Options, o.Options)
	}

	if err := res.validate(); err != nil {
		return nil, fmt.Errorf("profile %q is invalid: %w", res.Name, err)
	}
	log.Printf("[DEBUG] profile %q selected, backend %s, server %q", res.Name, res.Backend, res.Server)
	return &res, nil
}

// Names returns sorted profile names.
func (c *Config) Names() []string { return c.names() }

// AllSecretValues returns all resolved secrets and password overrides. It is used to mask them in logs.
func (c *Config) AllSecretValues() []string {
	res := make([]string, 0, len(c.secrets)+1)
	for _, v := range c.secrets {
		res = append(res, v)
	}
	for _, p := range c.Profiles {
		if p.Password != "" && !slices.Contains(res, p.Password) {
			res = append(res, p.Password)
		}
	}
	if c.overrides != nil && c.overrides.Password != "" && !slices.Contains(res, c.overrides.Password) {
		res = append(res, c.overrides.Password)
	}
	sort.Strings(res)
	return res
}

func (c *Config) defaultName() string {
	if c.Default != "" {
		return c.Default
	}
	if _, ok := c.Profiles[defaultProfile]; ok {
		return defaultProfile
	}
	if len(c.Profiles) == 1 {
		for name := range c.Profiles {
			return name
		}
	}
	return ""
}

func (c *Config) names() []string {
	res := make([]string, 0, len(c.Profiles))
	for k := range c.Profiles {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

// Params makes connection parameters. For a tunneled profile the Dialer is a *tunnel.Tunnel,
// the caller closes it when done with the database.
func (p *Profile) Params() (db.Params, error) {
	res := db.Params{
		Server:   p.Server,
		User:     p.User,
		Password: p.Password,
		Database: p.Database,
		Options:  maps.Clone(p.Options),
	}
	if p.Tunnel == nil {
		return res, nil
	}

	timeout := defaultTimeout
	if p.Tunnel.Timeout != "" {
		d, err := time.ParseDuration(p.Tunnel.Timeout)
		if err != nil {
			return db.Params{}, fmt.Errorf("invalid tunnel timeout: %w", err)
		}
		timeout = d
	}
	user := p.Tunnel.User
	if user == "" {
		user = os.Getenv("USER")
	}
	tn, err := tunnel.New(p.Tunnel.Host, user, expandHome(p.Tunnel.Key), timeout)
	if err != nil {
		return db.Params{}, fmt.Errorf("can't make tunnel for profile %q: %w", p.Name, err)
	}
	res.Dialer = tn
	return res, nil
}

func override(val, o string) string {
	if o != "" {
		return o
	}
	return val
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
