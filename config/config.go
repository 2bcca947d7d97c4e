package config

import (
	"fmt"
	"go/token"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gopkg.in/yaml.v3"

	"github.com/ridoystarlord/schemabuild/errs"
)

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "schemabuild.yaml"

// Policies for column types that match no rule and no built-in mapping.
const (
	UnknownTypesFail = "fail"
	UnknownTypesRaw  = "raw"
)

// Representations of nullable columns in generated structs.
const (
	NullableValue   = "value"
	NullablePointer = "pointer"
)

// Connection describes how to reach the build database. It is built once per
// invocation and never mutated afterwards.
type Connection struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Schema   string `yaml:"schema"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Driver   string `yaml:"driver"`
	SSLMode  string `yaml:"sslmode"`

	// source is the URL or DSN the connection was parsed from, if any. It
	// carries TLS parameters (sslrootcert, sslcert, ...) that the fields
	// above do not.
	source string
}

// DSN returns a libpq key/value connection string understood by pgx. Every
// value is quoted so empty values and values with spaces survive parsing.
func (c Connection) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quoteValue(c.Host), c.Port, quoteValue(c.User), quoteValue(c.Password),
		quoteValue(c.Database), quoteValue(sslMode),
	)
}

// ConnString is the string handed to pgx: the original URL when the
// connection came from one, DSN otherwise.
func (c Connection) ConnString() string {
	if c.source != "" {
		return c.source
	}
	return c.DSN()
}

var dsnEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func quoteValue(v string) string {
	return "'" + dsnEscaper.Replace(v) + "'"
}

// URL returns the postgres:// form of the connection.
func (c Connection) URL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Address(),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// JDBCStyleURL is the jdbc:postgresql form, logged for people used to JVM tooling.
func (c Connection) JDBCStyleURL() string {
	return fmt.Sprintf("jdbc:postgresql://%s/%s", c.Address(), c.Database)
}

// Address returns host:port.
func (c Connection) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Redacted returns the URL with the password masked.
func (c Connection) Redacted() string {
	r := c
	if r.Password != "" {
		r.Password = "xxxxx"
	}
	return r.URL()
}

// ConnectionFromURL parses a postgres URL or DSN into a Connection. Schema
// and driver are taken from base since a URL does not carry them. The raw
// string is kept and used verbatim to connect, so TLS settings are not
// reduced to what the Connection fields can express.
func ConnectionFromURL(raw string, base Connection) (Connection, error) {
	pc, err := pgconn.ParseConfig(raw)
	if err != nil {
		return Connection{}, fmt.Errorf("parse database url: %w", err)
	}
	conn := base
	conn.Host = pc.Host
	conn.Port = int(pc.Port)
	conn.Database = pc.Database
	conn.User = pc.User
	conn.Password = pc.Password
	conn.SSLMode = sslModeOf(raw)
	conn.source = raw
	return conn, nil
}

var keywordSSLMode = regexp.MustCompile(`(?:^|\s)sslmode\s*=\s*'?([A-Za-z-]+)`)

// sslModeOf reports the sslmode raw asks for, falling back to PGSSLMODE and
// then to libpq's default.
func sslModeOf(raw string) string {
	if strings.HasPrefix(raw, "postgres://") || strings.HasPrefix(raw, "postgresql://") {
		if u, err := url.Parse(raw); err == nil {
			if mode := u.Query().Get("sslmode"); mode != "" {
				return mode
			}
		}
	} else if m := keywordSSLMode.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	if mode := os.Getenv("PGSSLMODE"); mode != "" {
		return mode
	}
	return "prefer"
}

// TypeRule remaps column types during code generation. Exactly one of
// SQLType or GoType names the target.
type TypeRule struct {
	Name              string `yaml:"name,omitempty"`
	SQLType           string `yaml:"sql_type,omitempty"`
	GoType            string `yaml:"go_type,omitempty"`
	Import            string `yaml:"import,omitempty"`
	IncludeExpression string `yaml:"include_expression,omitempty"`
	IncludeTypes      string `yaml:"include_types,omitempty"`
}

type Migrations struct {
	Dir   string `yaml:"dir"`
	Table string `yaml:"table"`
}

type Generate struct {
	Output       string     `yaml:"output"`
	Package      string     `yaml:"package"`
	UnknownTypes string     `yaml:"unknown_types"`
	Nullable     string     `yaml:"nullable"`
	Excludes     []string   `yaml:"excludes,omitempty"`
	Rules        []TypeRule `yaml:"rules"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config holds everything one build invocation needs.
type Config struct {
	Image          string        `yaml:"image"`
	ContainerName  string        `yaml:"container_name,omitempty"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`
	Connection     Connection    `yaml:"connection"`
	Migrations     Migrations    `yaml:"migrations"`
	Generate       Generate      `yaml:"generate"`
	Log            Log           `yaml:"log"`
}

// Defaults returns the stock build configuration: a Postgres 14 container on
// port 50043 with JSON and INET columns generated as strings.
func Defaults() Config {
	return Config{
		Image:          "postgres:14.4-alpine",
		StartupTimeout: 60 * time.Second,
		Connection: Connection{
			Host:     "localhost",
			Port:     50043,
			Database: "postgres",
			Schema:   "public",
			User:     "postgres",
			Password: "postgres",
			Driver:   "pgx",
			SSLMode:  "disable",
		},
		Migrations: Migrations{
			Dir:   "db/migration",
			Table: "schema_migrations",
		},
		Generate: Generate{
			Output:       "build/generated/db",
			Package:      "db",
			UnknownTypes: UnknownTypesFail,
			Nullable:     NullableValue,
			Rules: []TypeRule{
				{Name: "json-as-string", SQLType: "varchar", IncludeExpression: ".*", IncludeTypes: "JSONB?"},
				{Name: "inet-as-string", SQLType: "varchar", IncludeExpression: ".*", IncludeTypes: "INET"},
			},
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
	}
}

// ContainerNameOrDefault returns the configured container name or one derived
// from the fixed port.
func (c Config) ContainerNameOrDefault() string {
	if c.ContainerName != "" {
		return c.ContainerName
	}
	return fmt.Sprintf("schemabuild-pg-%d", c.Connection.Port)
}

// Load reads path on top of Defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Validate checks the configuration before any stage runs.
func (c Config) Validate() error {
	switch {
	case c.Image == "":
		return errs.Invalid("image is required")
	case c.Connection.Database == "":
		return errs.Invalid("connection.database is required")
	case c.Connection.Schema == "":
		return errs.Invalid("connection.schema is required")
	case c.Connection.Port < 1 || c.Connection.Port > 65535:
		return errs.Invalid(fmt.Sprintf("connection.port %d out of range", c.Connection.Port))
	case c.StartupTimeout <= 0:
		return errs.Invalid("startup_timeout must be positive")
	case c.Migrations.Dir == "":
		return errs.Invalid("migrations.dir is required")
	case c.Migrations.Table == "":
		return errs.Invalid("migrations.table is required")
	case c.Generate.Output == "":
		return errs.Invalid("generate.output is required")
	case !token.IsIdentifier(c.Generate.Package):
		return errs.Invalid(fmt.Sprintf("generate.package %q is not a Go identifier", c.Generate.Package))
	}

	switch c.Generate.UnknownTypes {
	case UnknownTypesFail, UnknownTypesRaw:
	default:
		return errs.Invalid(fmt.Sprintf("generate.unknown_types must be %q or %q", UnknownTypesFail, UnknownTypesRaw))
	}
	switch c.Generate.Nullable {
	case NullableValue, NullablePointer:
	default:
		return errs.Invalid(fmt.Sprintf("generate.nullable must be %q or %q", NullableValue, NullablePointer))
	}

	for i, r := range c.Generate.Rules {
		if (r.SQLType == "") == (r.GoType == "") {
			return errs.Invalid(fmt.Sprintf("generate.rules[%d]: exactly one of sql_type or go_type is required", i))
		}
		for _, expr := range []string{r.IncludeExpression, r.IncludeTypes} {
			if _, err := regexp.Compile(expr); err != nil {
				return errs.Invalid(fmt.Sprintf("generate.rules[%d]: %v", i, err))
			}
		}
	}
	for i, expr := range c.Generate.Excludes {
		if _, err := regexp.Compile(expr); err != nil {
			return errs.Invalid(fmt.Sprintf("generate.excludes[%d]: %v", i, err))
		}
	}
	return nil
}
