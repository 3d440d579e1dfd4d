// Package config reads the statsync run configuration: a JSON (or YAML)
// file with a "database" block, overridden by environment variables, with an
// optional .env file loaded first.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"statsync/internal/storage"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config.json"

// DefaultKind is the store used when the config names none.
const DefaultKind = "mysql"

// Environment variables that override the file. The four database keys keep
// the short lowercase names existing deployments export.
const (
	EnvHost     = "host"
	EnvDB       = "db"
	EnvUser     = "user"
	EnvPassword = "password"
	EnvKind     = "DB_KIND"
	EnvPort     = "DB_PORT"
	EnvWorkers  = "STATSYNC_WORKERS"
	EnvTimeout  = "STATSYNC_LOAD_TIMEOUT"
)

// Database describes the destination store.
type Database struct {
	Kind     string `json:"kind,omitempty" yaml:"kind"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port,omitempty" yaml:"port"`
	Database string `json:"database" yaml:"database"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`

	// MaxConns caps the connection pool. Zero keeps the driver default.
	MaxConns int `json:"max_conns,omitempty" yaml:"max_conns"`
}

// Config is the whole run configuration.
type Config struct {
	Database Database `json:"database" yaml:"database"`

	// Workers bounds concurrent team-table loads. Values < 1 mean one.
	Workers int `json:"workers,omitempty" yaml:"workers"`

	// LoadTimeout bounds each table load, e.g. "2m". Empty means no bound.
	LoadTimeout string `json:"load_timeout,omitempty" yaml:"load_timeout"`
}

// Load reads .env (if present), then the file at path (YAML for .yaml and
// .yml, JSON otherwise), then applies
// environment overrides. A missing file is not an error when the
// environment supplies the database settings; Validate reports what is
// still absent.
func Load(path string) (Config, error) {
	if err := LoadDotEnv(); err != nil {
		return Config{}, err
	}
	if path == "" {
		path = DefaultPath
	}

	var c Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		parse := Parse
		if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
			parse = ParseYAML
		}
		if c, err = parse(b); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadDotEnv loads the given .env files (".env" when none are given) into
// the process environment. Variables already set win. Missing files are
// skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Parse decodes a JSON config document. Unknown fields are rejected.
func Parse(b []byte) (Config, error) {
	var c Config
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("decode: %w", err)
	}
	return c, nil
}

// ParseYAML decodes a YAML config document with the same keys as the JSON
// form. Unknown fields are rejected.
func ParseYAML(b []byte) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides file values with any variables lookup reports as set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str(EnvHost, &c.Database.Host)
	str(EnvDB, &c.Database.Database)
	str(EnvUser, &c.Database.User)
	str(EnvPassword, &c.Database.Password)
	str(EnvKind, &c.Database.Kind)
	str(EnvTimeout, &c.LoadTimeout)

	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		*dst = n
		return nil
	}
	if err := num(EnvPort, &c.Database.Port); err != nil {
		return err
	}
	return num(EnvWorkers, &c.Workers)
}

// Validate reports the first missing or malformed setting.
func (c Config) Validate() error {
	d := c.Database
	kind := d.kind()
	switch kind {
	case "mysql", "postgres", "mssql":
		if d.Host == "" {
			return fmt.Errorf("config: database.host is required for %s", kind)
		}
		if d.Database == "" {
			return fmt.Errorf("config: database.database is required for %s", kind)
		}
	case "sqlite":
		if d.Database == "" {
			return errors.New("config: database.database (file path) is required for sqlite")
		}
	default:
		return fmt.Errorf("config: unsupported database.kind %q", d.Kind)
	}
	if d.Port < 0 || d.Port > 65535 {
		return fmt.Errorf("config: database.port %d out of range", d.Port)
	}
	if _, err := c.Timeout(); err != nil {
		return err
	}
	return nil
}

// Timeout parses LoadTimeout. Empty yields zero.
func (c Config) Timeout() (time.Duration, error) {
	if strings.TrimSpace(c.LoadTimeout) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.LoadTimeout)
	if err != nil {
		return 0, fmt.Errorf("config: load_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: load_timeout %s is negative", d)
	}
	return d, nil
}

// Storage converts the database block into a storage.Config.
func (c Config) Storage() (storage.Config, error) {
	dsn, err := c.Database.DSN()
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Kind: c.Database.kind(), DSN: dsn, MaxConns: c.Database.MaxConns}, nil
}

func (d Database) kind() string {
	k := strings.ToLower(strings.TrimSpace(d.Kind))
	switch k {
	case "":
		return DefaultKind
	case "postgresql", "pg":
		return "postgres"
	case "sqlserver":
		return "mssql"
	}
	return k
}

func (d Database) port(def int) int {
	if d.Port > 0 {
		return d.Port
	}
	return def
}

// DSN renders the connection string for the configured kind.
func (d Database) DSN() (string, error) {
	switch d.kind() {
	case "mysql":
		mc := mysql.NewConfig()
		mc.User = d.User
		mc.Passwd = d.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.port(3306)))
		mc.DBName = d.Database
		return mc.FormatDSN(), nil

	case "postgres":
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(d.User, d.Password),
			Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.port(5432))),
			Path:   "/" + d.Database,
		}
		return u.String(), nil

	case "mssql":
		q := url.Values{}
		q.Set("database", d.Database)
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(d.User, d.Password),
			Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.port(1433))),
			RawQuery: q.Encode(),
		}
		return u.String(), nil

	case "sqlite":
		if strings.HasPrefix(d.Database, "file:") || d.Database == ":memory:" {
			return d.Database, nil
		}
		return "file:" + d.Database + "?_pragma=busy_timeout(10000)&_txlock=immediate", nil
	}
	return "", fmt.Errorf("config: unsupported database.kind %q", d.Kind)
}
