package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
	"golang.org/x/term"

	_ "github.com/umputun/dbx/pkg/backend/mysql"
	_ "github.com/umputun/dbx/pkg/backend/postgres"
	_ "github.com/umputun/dbx/pkg/backend/sqlite"
	"github.com/umputun/dbx/pkg/config"
	"github.com/umputun/dbx/pkg/db"
	"github.com/umputun/dbx/pkg/secrets"
)

type options struct {
	PositionalArgs struct {
		Query string `positional-arg-name:"query" description:"query to run"`
	} `positional-args:"yes" positional-optional:"yes"`

	ProfilesFile string `short:"f" long:"profiles" env:"DBX_PROFILES" description:"profiles file or url" default:"dbx.yml"`
	Profile      string `short:"p" long:"profile" env:"DBX_PROFILE" description:"profile name"`

	// overrides
	Backend     string            `short:"b" long:"backend" env:"DBX_BACKEND" description:"database backend" choice:"mysql" choice:"postgres" choice:"sqlite"`
	Server      string            `short:"s" long:"server" env:"DBX_SERVER" description:"server host[:port], socket or sqlite directory"`
	User        string            `short:"u" long:"user" env:"DBX_USER" description:"database user"`
	Password    string            `long:"password" env:"DBX_PASSWORD" description:"database password"`
	AskPassword bool              `short:"W" long:"ask-password" description:"prompt for database password"`
	Database    string            `short:"d" long:"database" env:"DBX_DATABASE" description:"database name"`
	Options     map[string]string `short:"o" long:"option" description:"backend option, key:value"`

	Params  []string      `long:"param" description:"parameter of the query, name:type[:in|out|inout][=value]"`
	Text    bool          `long:"text" description:"substitute parameters as literals instead of preparing the query"`
	Scripts []string      `long:"script" description:"script file to run, statements separated by semicolons"`
	Conc    int           `short:"c" long:"concurrent" description:"scripts running in parallel sessions" default:"1"`
	Tx      bool          `long:"tx" description:"run every script in a transaction"`
	Stream  bool          `long:"stream" description:"print script output as it goes, lines prefixed with the script name"`
	NoColor bool          `long:"no-color" env:"DBX_NO_COLOR" description:"disable colorized output"`
	Repl    bool          `short:"i" long:"interactive" description:"interactive mode"`
	Timeout time.Duration `long:"timeout" env:"DBX_TIMEOUT" description:"timeout of the whole run, 0 for none" default:"0s"`

	// secrets
	SecretsProvider SecretsProvider `group:"secrets" namespace:"secrets" env-namespace:"DBX_SECRETS"`

	Version bool `long:"version" description:"show version"`
	Dbg     bool `long:"dbg" description:"debug mode"`
}

// SecretsProvider defines secrets provider options, for all supported providers
type SecretsProvider struct {
	Provider string `long:"provider" env:"PROVIDER" description:"secret provider type" choice:"none" choice:"internal" choice:"vault" choice:"aws" choice:"ansible" choice:"env" default:"none"`

	Key      string `long:"key" env:"KEY" description:"secure key for internal secrets provider"`
	Backend  string `long:"backend" env:"BACKEND" description:"backend of internal secrets database" default:"sqlite"`
	Server   string `long:"server" env:"SERVER" description:"server of internal secrets database" default:"."`
	User     string `long:"user" env:"USER" description:"user of internal secrets database"`
	Password string `long:"password" env:"PASSWORD" description:"password of internal secrets database"`
	Database string `long:"database" env:"DATABASE" description:"internal secrets database" default:"dbx-secrets"`

	Vault struct {
		Token string `long:"token" env:"TOKEN" description:"vault token"`
		Path  string `long:"path"  env:"PATH" description:"vault path"`
		URL   string `long:"url" env:"URL" description:"vault url"`
	} `group:"vault" namespace:"vault" env-namespace:"VAULT"`

	Aws struct {
		Region    string `long:"region" env:"REGION" description:"aws region"`
		AccessKey string `long:"access-key" env:"ACCESS_KEY" description:"aws access key"`
		SecretKey string `long:"secret-key" env:"SECRET_KEY" description:"aws secret key"`
	} `group:"aws" namespace:"aws" env-namespace:"AWS"`

	Ansible struct {
		File   string `long:"file" env:"FILE" description:"ansible vault file"`
		Secret string `long:"secret" env:"SECRET" description:"ansible vault password"`
	} `group:"ansible" namespace:"ansible" env-namespace:"ANSIBLE"`

	EnvPrefix string `long:"env-prefix" env:"ENV_PREFIX" description:"prefix of secrets environment variables" default:"DBX_SECRET_"`
}

var revision = "latest"

var exitFunc = os.Exit

// askPassword reads the password from terminal without echo
var askPassword = func() (string, error) {
	fmt.Fprint(os.Stderr, "password: ")
	pass, err := term.ReadPassword(int(os.Stdin.Fd())) //nolint:gosec // fd fits int
	fmt.Fprintln(os.Stderr)
	return string(pass), err
}

func main() {
	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		exitFunc(1) // can be redefined in tests
		return
	}
	if opts.Version {
		fmt.Printf("dbx %s\n", revision)
		exitFunc(0)
		return
	}
	setupLog(opts.Dbg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, opts, os.Stdout); err != nil {
		log.Printf("[ERROR] %v", err)
		fmt.Fprintf(os.Stderr, "failed, %v\n", err)
		exitFunc(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if opts.Repl && (len(opts.Scripts) > 0 || opts.PositionalArgs.Query != "") {
		return errors.New("interactive mode can't be combined with a query or scripts")
	}
	if len(opts.Scripts) > 0 && opts.PositionalArgs.Query != "" {
		return errors.New("query and scripts are mutually exclusive")
	}
	if !opts.Repl && len(opts.Scripts) == 0 && opts.PositionalArgs.Query == "" {
		return errors.New("nothing to run, set a query, scripts or interactive mode")
	}
	specs, err := parseParams(opts.Params)
	if err != nil {
		return err
	}
	if len(specs) > 0 && opts.PositionalArgs.Query == "" {
		return errors.New("parameters need a query")
	}

	d, secretValues, closeDB, err := openDatabase(ctx, opts)
	if err != nil {
		return err
	}
	defer closeDB()

	st := time.Now()
	switch {
	case opts.Repl:
		err = runRepl(ctx, d, opts.Profile, out)
	case len(opts.Scripts) > 0:
		sr := scriptsRun{files: opts.Scripts, conc: opts.Conc, tx: opts.Tx, stream: opts.Stream,
			secrets: secretValues, monochrome: opts.NoColor}
		err = runScripts(ctx, d, sr, out)
	default:
		err = runQuery(ctx, d, opts.PositionalArgs.Query, specs, opts.Text, out)
	}
	log.Printf("[DEBUG] completed in %v", time.Since(st).Truncate(time.Millisecond))
	return err
}

// openDatabase resolves the profile and makes the database facade. It returns secret values
// to mask and the func closing the database.
func openDatabase(ctx context.Context, opts options) (*db.Database, []string, func(), error) {
	secretsProvider, err := makeSecretsProvider(ctx, opts.SecretsProvider)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("can't make secrets provider: %w", err)
	}
	if cl, ok := secretsProvider.(io.Closer); ok {
		defer cl.Close() //nolint:errcheck // passwords are resolved by config.New
	}

	overrides := config.Overrides{
		Backend:  opts.Backend,
		Server:   opts.Server,
		User:     opts.User,
		Password: opts.Password,
		Database: opts.Database,
		Options:  opts.Options,
	}
	if opts.AskPassword {
		if overrides.Password, err = askPassword(); err != nil {
			return nil, nil, nil, fmt.Errorf("can't read password: %w", err)
		}
	}

	profilesFile, err := expandPath(opts.ProfilesFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("can't expand profiles path %q: %w", opts.ProfilesFile, err)
	}
	conf, err := config.New(profilesFile, &overrides, secretsProvider)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("can't load profiles %q: %w", profilesFile, err)
	}
	secretValues := conf.AllSecretValues()
	if len(secretValues) > 0 {
		lgr.Setup(lgr.Secret(secretValues...)) // mask secrets in logs
	}

	profile, err := conf.Profile(opts.Profile)
	if err != nil {
		return nil, nil, nil, err
	}
	params, err := profile.Params()
	if err != nil {
		return nil, nil, nil, err
	}
	d, err := db.Open(profile.Backend, params)
	if err != nil {
		closeDialer(params)
		return nil, nil, nil, err
	}
	log.Printf("[INFO] profile %q, %s %s", profile.Name, profile.Backend, params)

	// connect the default session early to report connection problems before anything runs
	if !opts.Repl && len(opts.Scripts) == 0 {
		if _, err := d.RetrieveConnection(ctx); err != nil {
			_ = d.Close()
			closeDialer(params)
			return nil, nil, nil, fmt.Errorf("can't connect to %s: %w", profile.Name, err)
		}
	}

	return d, secretValues, func() {
		if err := d.Close(); err != nil {
			log.Printf("[WARN] can't close database: %v", err)
		}
		closeDialer(params)
	}, nil
}

func closeDialer(params db.Params) {
	if cl, ok := params.Dialer.(io.Closer); ok {
		if err := cl.Close(); err != nil {
			log.Printf("[WARN] can't close tunnel: %v", err)
		}
	}
}

// makeSecretsProvider creates secrets provider based on options
func makeSecretsProvider(ctx context.Context, sopts SecretsProvider) (config.SecretsProvider, error) {
	switch sopts.Provider {
	case "none", "":
		return &secrets.NoOpProvider{}, nil
	case "internal":
		params := db.Params{Server: sopts.Server, User: sopts.User, Password: sopts.Password, Database: sopts.Database}
		if sopts.Backend == "sqlite" {
			params.Options = map[string]string{"create": "true"}
		}
		return secrets.NewInternalProvider(ctx, sopts.Backend, params, []byte(sopts.Key))
	case "vault":
		return secrets.NewHashiVaultProvider(sopts.Vault.URL, sopts.Vault.Path, sopts.Vault.Token)
	case "aws":
		return secrets.NewAWSSecretsProvider(sopts.Aws.AccessKey, sopts.Aws.SecretKey, sopts.Aws.Region)
	case "ansible":
		return secrets.NewAnsibleVaultProvider(sopts.Ansible.File, sopts.Ansible.Secret)
	case "env":
		return secrets.NewEnvProvider(sopts.EnvPrefix), nil
	}
	log.Printf("[WARN] unknown secrets provider %q", sopts.Provider)
	return &secrets.NoOpProvider{}, nil
}

func expandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	usr, err := user.Current()
	if err != nil {
		return "", err
	}
	return filepath.Join(usr.HomeDir, path[2:]), nil
}

func setupLog(dbg bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Out(io.Discard), lgr.Err(io.Discard)} // default to discard
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))
	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}

	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
