// Package config loads the monitor and station process configuration
// from environment variables using struct tags in the style of
// atlas.Config.UnmarshalEnv: a field tagged `env:"NAME=default"` is
// populated from NAME, falling back to default when NAME is unset.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-envparse"
	"github.com/rs/zerolog"
)

// ReadEnvFile parses a KEY=VALUE env file (shell-style quoting, comments
// with #) and returns it as a KEY=VALUE slice suitable for LoadMonitorFrom
// / LoadStationFrom. Used in place of the process environment when the
// operator passes an env file path on the command line.
func ReadEnvFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := envparse.Parse(f)
	if err != nil {
		return nil, err
	}

	env := make([]string, 0, len(m))
	for k, v := range m {
		env = append(env, k+"="+v)
	}
	return env, nil
}

// MonitorConfig configures the ringhostd (monitor) process. Every field
// is sourced from an RINGD_-prefixed environment variable.
type MonitorConfig struct {
	ListenAddr        netip.AddrPort `env:"RINGD_LISTEN=0.0.0.0:7000"`
	Password          string         `env:"RINGD_PASSWORD="`
	AcceptConnections bool           `env:"RINGD_ACCEPT=true"`
	MaxConnections    int            `env:"RINGD_MAX_CONNECTIONS=16"`
	MaxPassoverTime   time.Duration  `env:"RINGD_MAX_PASSOVER=5s"`
	MonitorID         string         `env:"RINGD_ID=monitor"`
	MetricsAddr       string         `env:"RINGD_METRICS_ADDR=:9600"`
	AuditDBPath       string         `env:"RINGD_AUDIT_DB=ringd-audit.db"`
	LogLevel          zerolog.Level  `env:"RINGD_LOG_LEVEL=info"`
}

// Validate rejects configurations the monitor cannot run with.
func (c MonitorConfig) Validate() error {
	if c.MonitorID == "" {
		return fmt.Errorf("config: RINGD_ID must not be empty")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("config: RINGD_MAX_CONNECTIONS must be positive")
	}
	if c.MaxPassoverTime <= 0 {
		return fmt.Errorf("config: RINGD_MAX_PASSOVER must be positive")
	}
	if !c.ListenAddr.IsValid() {
		return fmt.Errorf("config: RINGD_LISTEN is required")
	}
	return nil
}

// StationConfig configures the ringjoin (passive station) process. Every
// field is sourced from an RINGJOIN_-prefixed environment variable.
type StationConfig struct {
	StationID   string         `env:"RINGJOIN_ID="`
	ListenAddr  netip.AddrPort `env:"RINGJOIN_LISTEN=0.0.0.0:0"`
	MonitorAddr netip.AddrPort `env:"RINGJOIN_MONITOR="`
	Password    string         `env:"RINGJOIN_PASSWORD="`
	LogLevel    zerolog.Level  `env:"RINGJOIN_LOG_LEVEL=info"`
}

// Validate rejects configurations the station cannot run with.
func (c StationConfig) Validate() error {
	if c.StationID == "" {
		return fmt.Errorf("config: RINGJOIN_ID must not be empty")
	}
	if !c.MonitorAddr.IsValid() {
		return fmt.Errorf("config: RINGJOIN_MONITOR is required")
	}
	return nil
}

// LoadMonitor reads a MonitorConfig from the process environment.
func LoadMonitor() (MonitorConfig, error) {
	return LoadMonitorFrom(os.Environ())
}

// LoadMonitorFrom reads a MonitorConfig from an explicit KEY=VALUE list,
// letting callers substitute an env file (see ReadEnvFile) for the
// process environment.
func LoadMonitorFrom(env []string) (MonitorConfig, error) {
	var c MonitorConfig
	if err := unmarshalEnv(&c, env); err != nil {
		return c, err
	}
	return c, nil
}

// LoadStation reads a StationConfig from the process environment.
func LoadStation() (StationConfig, error) {
	return LoadStationFrom(os.Environ())
}

// LoadStationFrom reads a StationConfig from an explicit KEY=VALUE list.
func LoadStationFrom(env []string) (StationConfig, error) {
	var c StationConfig
	if err := unmarshalEnv(&c, env); err != nil {
		return c, err
	}
	return c, nil
}

// unmarshalEnv walks the visible fields of dst (a pointer to struct),
// parses each field's `env:"NAME=default"` tag, and sets the field from
// the matching environment entry in env or, if absent, from default.
// Unknown RINGD_/RINGJOIN_ variables present in env are reported as
// errors so typos are caught at startup rather than silently ignored.
func unmarshalEnv(dst any, env []string) error {
	rv := reflect.ValueOf(dst).Elem()
	rt := rv.Type()

	known := make(map[string]bool)
	values := make(map[string]string)
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if strings.HasPrefix(k, "RINGD_") || strings.HasPrefix(k, "RINGJOIN_") {
			values[k] = v
		}
	}

	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		tag := f.Tag.Get("env")
		if tag == "" {
			continue
		}
		name, def, _ := strings.Cut(tag, "=")
		known[name] = true

		raw, present := values[name]
		if !present {
			raw = def
		}

		fv := rv.Field(i)
		if err := setField(fv, raw); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}

	for k := range values {
		if !known[k] {
			return fmt.Errorf("config: unknown environment variable %s", k)
		}
	}
	return nil
}

func setField(fv reflect.Value, raw string) error {
	switch fv.Interface().(type) {
	case netip.AddrPort:
		if raw == "" {
			fv.Set(reflect.ValueOf(netip.AddrPort{}))
			return nil
		}
		ap, err := netip.ParseAddrPort(raw)
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(ap))
		return nil
	case time.Duration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(d))
		return nil
	case zerolog.Level:
		lvl, err := zerolog.ParseLevel(raw)
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(lvl))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		fv.SetInt(n)
	default:
		return fmt.Errorf("unsupported field kind %s", fv.Kind())
	}
	return nil
}
