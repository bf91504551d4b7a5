// Package config holds server settings. Every setting is a flag that can also
// be set through a SHOWDOWN_-prefixed environment variable, optionally loaded
// from a .env file.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "SHOWDOWN"

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Env       string
	Bind      string
	Port      int
	LogLevel  string
	PublicURL string

	// AllowedOrigins are extra browser origins, as host patterns, that may
	// open a websocket. The server's own origin is always allowed.
	AllowedOrigins []string

	Storage string
	DB      struct {
		Host     string
		Port     int
		User     string
		Password string
		Name     string
		SSLMode  string
	}

	HostAbsenceSeconds int
	VolunteerSeconds   int
	RiskTimerSeconds   int
	TickInterval       time.Duration

	DisconnectGrace    time.Duration
	SessionIdleTimeout time.Duration
	SweepInterval      time.Duration

	MaxPlayers        int
	MaxCommunityCards int
	StartingPoints    int
}

// RegisterFlags declares every setting on fs with its default.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&c.Env, "env", "development", "runtime environment: development or production (env: SHOWDOWN_ENV)")
	fs.StringVarP(&c.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: SHOWDOWN_BIND)")
	fs.IntVarP(&c.Port, "port", "p", 8080, "port to listen on (env: SHOWDOWN_PORT)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug, info, warn or error (env: SHOWDOWN_LOG_LEVEL)")
	fs.StringVar(&c.PublicURL, "public-url", "http://localhost:8080", "base url used in join links (env: SHOWDOWN_PUBLIC_URL)")
	fs.StringSliceVar(&c.AllowedOrigins, "allowed-origins", nil, "comma-separated origin host patterns allowed to open websockets, e.g. app.example.com (env: SHOWDOWN_ALLOWED_ORIGINS)")

	fs.StringVar(&c.Storage, "storage", StorageMemory, "session storage: memory or postgres (env: SHOWDOWN_STORAGE)")
	fs.StringVar(&c.DB.Host, "db-host", "localhost", "postgres host (env: SHOWDOWN_DB_HOST)")
	fs.IntVar(&c.DB.Port, "db-port", 5432, "postgres port (env: SHOWDOWN_DB_PORT)")
	fs.StringVar(&c.DB.User, "db-user", "postgres", "postgres user (env: SHOWDOWN_DB_USER)")
	fs.StringVar(&c.DB.Password, "db-password", "", "postgres password (env: SHOWDOWN_DB_PASSWORD)")
	fs.StringVar(&c.DB.Name, "db-name", "showdown", "postgres database (env: SHOWDOWN_DB_NAME)")
	fs.StringVar(&c.DB.SSLMode, "db-sslmode", "disable", "postgres sslmode (env: SHOWDOWN_DB_SSLMODE)")

	fs.IntVar(&c.HostAbsenceSeconds, "host-absence-seconds", 60, "seconds a disconnected host has to return (env: SHOWDOWN_HOST_ABSENCE_SECONDS)")
	fs.IntVar(&c.VolunteerSeconds, "volunteer-seconds", 60, "seconds players have to volunteer as host (env: SHOWDOWN_VOLUNTEER_SECONDS)")
	fs.IntVar(&c.RiskTimerSeconds, "risk-timer-seconds", 60, "seconds in the risk submission window (env: SHOWDOWN_RISK_TIMER_SECONDS)")
	fs.DurationVar(&c.TickInterval, "tick-interval", time.Second, "length of one countdown second (env: SHOWDOWN_TICK_INTERVAL)")

	fs.DurationVar(&c.DisconnectGrace, "disconnect-grace", 5*time.Minute, "time before disconnected players are removed (env: SHOWDOWN_DISCONNECT_GRACE)")
	fs.DurationVar(&c.SessionIdleTimeout, "session-idle-timeout", 24*time.Hour, "time before idle games are ended (env: SHOWDOWN_SESSION_IDLE_TIMEOUT)")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", 30*time.Second, "how often cleanup runs (env: SHOWDOWN_SWEEP_INTERVAL)")

	fs.IntVar(&c.MaxPlayers, "max-players", 8, "roster limit per game (env: SHOWDOWN_MAX_PLAYERS)")
	fs.IntVar(&c.MaxCommunityCards, "max-community-cards", 5, "community cards per round (env: SHOWDOWN_MAX_COMMUNITY_CARDS)")
	fs.IntVar(&c.StartingPoints, "starting-points", 100, "points each player starts with (env: SHOWDOWN_STARTING_POINTS)")
}

// BindEnv loads envFiles (missing files are fine) and applies any
// SHOWDOWN_* variable to flags that were not set on the command line.
func BindEnv(fs *pflag.FlagSet, envFiles ...string) error {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// godotenv never overrides variables that are already set.
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			val := v.Get(f.Name)
			raw := fmt.Sprintf("%v", val)
			if list, ok := val.([]string); ok {
				raw = strings.Join(list, ",")
			}
			if err := fs.Set(f.Name, raw); err != nil {
				errs = append(errs, fmt.Errorf("%s_%s: %w", EnvPrefix, strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_")), err))
			}
		}
	})
	return errors.Join(errs...)
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DB.Host == "" {
			return errors.New("config: --db-host is required for postgres storage")
		}
		if c.DB.User == "" {
			return errors.New("config: --db-user is required for postgres storage")
		}
		if c.DB.Name == "" {
			return errors.New("config: --db-name is required for postgres storage")
		}
		if c.Env == "production" && c.DB.Password == "" {
			return errors.New("config: in production --db-password is required")
		}
	default:
		return fmt.Errorf("config: unknown storage %q (want memory or postgres)", c.Storage)
	}
	for name, v := range map[string]int{
		"host-absence-seconds": c.HostAbsenceSeconds,
		"volunteer-seconds":    c.VolunteerSeconds,
		"risk-timer-seconds":   c.RiskTimerSeconds,
		"max-players":          c.MaxPlayers,
		"max-community-cards":  c.MaxCommunityCards,
		"starting-points":      c.StartingPoints,
	} {
		if v <= 0 {
			return fmt.Errorf("config: --%s must be positive, got %d", name, v)
		}
	}
	for name, d := range map[string]time.Duration{
		"tick-interval":        c.TickInterval,
		"disconnect-grace":     c.DisconnectGrace,
		"session-idle-timeout": c.SessionIdleTimeout,
		"sweep-interval":       c.SweepInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("config: --%s must be positive, got %s", name, d)
		}
	}
	return nil
}

// DSN returns the PostgreSQL connection string for GORM.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}
