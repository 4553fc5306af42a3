package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/draftimport/internal/core"
)

// Load builds the importer configuration from the environment. Struct
// tags on Config name the variables (env, envAlt), their fallbacks
// (default) and whether they must be present (required). The result is
// validated before it is returned.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := fillFromEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// fillFromEnv walks the sections of Config and sets every tagged field.
func fillFromEnv(section reflect.Value) error {
	t := section.Type()

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		fv := section.Field(i)
		if !fv.CanSet() {
			continue
		}

		if sf.Type.Kind() == reflect.Struct {
			if err := fillFromEnv(fv); err != nil {
				return err
			}
			continue
		}

		name := sf.Tag.Get("env")
		if name == "" {
			continue
		}

		raw, err := envValue(sf.Tag, name)
		if err != nil {
			return err
		}
		if raw == "" {
			continue
		}
		if err := setField(fv, raw); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", name, raw, err)
		}
	}
	return nil
}

// envValue resolves one variable: the primary name, then envAlt, then the
// default. A required variable with neither set is an error.
func envValue(tag reflect.StructTag, name string) (string, error) {
	if v := os.Getenv(name); v != "" {
		return v, nil
	}
	if alt := tag.Get("envAlt"); alt != "" {
		if v := os.Getenv(alt); v != "" {
			return v, nil
		}
	}
	if tag.Get("required") == "true" {
		return "", fmt.Errorf("required environment variable %s is not set", name)
	}
	return tag.Get("default"), nil
}

// setField parses raw into the field's type. Durations use time.ParseDuration
// ("30s", "10m"); string slices are comma separated with blanks dropped.
func setField(field reflect.Value, raw string) error {
	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))

	case field.Kind() == reflect.String:
		field.SetString(raw)

	case field.Kind() == reflect.Int, field.Kind() == reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(n)

	case field.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		field.Set(reflect.ValueOf(splitList(raw)))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Type())
	}
	return nil
}

// splitList parses "a, b,,c" as [a b c].
func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// problems collects validation failures so one run reports all of them.
type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p *problems) check(ok bool, format string, args ...any) {
	if !ok {
		p.addf(format, args...)
	}
}

// Validate reports every invalid setting at once, one per line.
func (c *Config) Validate() error {
	var p problems

	c.Database.validate(&p)
	c.Server.validate(&p)
	c.Import.validate(&p)

	p.check(!c.Rate.Enabled || c.Rate.RequestsPerMinute > 0,
		"RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	p.check(!c.Security.RequireAPIKey || len(c.Security.APIKeys) > 0,
		"REQUIRE_API_KEY is set but API_KEYS is empty")

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		p.addf("LOG_LEVEL (%q) must be debug, info, warn or error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		p.addf("LOG_FORMAT (%q) must be text or json", c.Logging.Format)
	}

	if len(p) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(p, "\n  - "))
	}
	return nil
}

func (d DatabaseConfig) validate(p *problems) {
	p.check(d.URL != "", "DATABASE_URL is required")
	p.check(d.MaxConns > 0, "DB_MAX_CONNS must be positive")
	p.check(d.MinConns >= 0, "DB_MIN_CONNS must be non-negative")
	p.check(d.MaxConns >= d.MinConns, "DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", d.MaxConns, d.MinConns)
}

func (s ServerConfig) validate(p *problems) {
	p.check(s.Port > 0 && s.Port <= 65535, "SERVER_PORT (%d) must be 1-65535", s.Port)
	p.check(s.ReadTimeout >= 0, "SERVER_READ_TIMEOUT must be non-negative")
	p.check(s.ShutdownTimeout > 0, "SERVER_SHUTDOWN_TIMEOUT must be positive")
}

// validate keeps the import limits inside what the committer accepts. The
// stale window must outlast the run timeout or live runs would be reaped.
func (i ImportConfig) validate(p *problems) {
	p.check(i.MaxFileSize > 0, "IMPORT_MAX_FILE_SIZE must be positive")
	p.check(i.MaxConcurrent > 0, "IMPORT_MAX_CONCURRENT must be positive")
	p.check(i.MaxWaitTime > 0, "IMPORT_MAX_WAIT_TIME must be positive")
	p.check(i.ChunkSize >= core.MinChunkSize && i.ChunkSize <= core.MaxChunkSize,
		"IMPORT_CHUNK_SIZE (%d) must be %d-%d", i.ChunkSize, core.MinChunkSize, core.MaxChunkSize)
	p.check(i.MaxRows > 0, "IMPORT_MAX_ROWS must be positive")
	p.check(i.Timeout > 0, "IMPORT_TIMEOUT must be positive")
	p.check(i.ResultRetention > 0, "IMPORT_RESULT_RETENTION must be positive")
	p.check(i.StaleAfter > i.Timeout, "IMPORT_STALE_AFTER (%s) must exceed IMPORT_TIMEOUT (%s)", i.StaleAfter, i.Timeout)
	p.check(i.ReapInterval > 0, "IMPORT_REAP_INTERVAL must be positive")
}

// ServiceOptions converts the import settings into core service options.
func (c *Config) ServiceOptions() core.Options {
	return core.Options{
		ChunkSize:       c.Import.ChunkSize,
		MaxRows:         c.Import.MaxRows,
		MaxFileSize:     c.Import.MaxFileSize,
		MaxConcurrent:   c.Import.MaxConcurrent,
		MaxWait:         c.Import.MaxWaitTime,
		Timeout:         c.Import.Timeout,
		ResultRetention: c.Import.ResultRetention,
	}
}

// ReaperConfig converts the stale session settings.
func (c *Config) ReaperConfig() core.ReaperConfig {
	return core.ReaperConfig{
		StaleAfter:    c.Import.StaleAfter,
		CheckInterval: c.Import.ReapInterval,
	}
}

// String renders the settings for the startup log with the database URL
// and API keys masked.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Config{Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {URL: [MASKED], MaxConns: %d, MinConns: %d, Migrate: %v}, ",
		c.Database.MaxConns, c.Database.MinConns, c.Database.Migrate)
	fmt.Fprintf(&b, "Import: {MaxFileSize: %d, MaxConcurrent: %d, ChunkSize: %d, MaxRows: %d, Timeout: %s}, ",
		c.Import.MaxFileSize, c.Import.MaxConcurrent, c.Import.ChunkSize, c.Import.MaxRows, c.Import.Timeout)
	fmt.Fprintf(&b, "Security: {RequireAPIKey: %v, APIKeys: [%d MASKED]}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}}", c.Logging.Level, c.Logging.Format)
	return b.String()
}
