// Package config loads AppConfig from flags, environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/park285/matey-server/internal/obslog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

var ErrInvalid = errors.New("invalid configuration")

type AppConfig struct {
	ListenAddr     string
	RedisURL       string
	DatabaseURL    string
	QueueBackend   string
	GameTTL        time.Duration
	JWTSecret      string
	RelayURL       string
	RelayTimeout   time.Duration
	MessagesDir    string
	AllowedOrigins []string

	Log obslog.Options
}

// RegisterFlags declares every key on fs. Flag names are the env keys in kebab case
// (listen-addr <-> LISTEN_ADDR).
func RegisterFlags(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.String("listen-addr", ":8080", "HTTP listen address (env: LISTEN_ADDR)")
	fs.String("redis-url", "", "redis://host:port/db for the game store and queue (env: REDIS_URL)")
	fs.String("database-url", "", "postgres://... or sqlite://path for users and the archive (env: DATABASE_URL)")
	fs.String("queue-backend", QueueMemory, "matchmaking queue: memory|redis (env: QUEUE_BACKEND)")
	fs.Duration("game-ttl", 24*time.Hour, "lifetime of a game document in redis (env: GAME_TTL)")
	fs.String("jwt-secret", "", "HS256 secret for websocket tokens; empty trusts query params (env: JWT_SECRET)")
	fs.String("relay-url", "", "webhook that receives every event (env: RELAY_URL)")
	fs.Duration("relay-timeout", 3*time.Second, "relay request timeout (env: RELAY_TIMEOUT)")
	fs.String("messages-dir", "", "directory of message catalog overrides (env: MESSAGES_DIR)")
	fs.StringSlice("allowed-origins", nil, "websocket origin patterns (env: ALLOWED_ORIGINS)")

	d := obslog.DefaultOptions()
	fs.String("log-level", d.Level, "debug|info|warn|error (env: LOG_LEVEL)")
	fs.String("log-format", d.Format, "legacy|console|json (env: LOG_FORMAT)")
	fs.Bool("log-to-console", d.Console, "log to stdout (env: LOG_TO_CONSOLE)")
	fs.Bool("log-to-file", d.ToFile, "also log to LOG_FILE (env: LOG_TO_FILE)")
	fs.String("log-file", d.File, "log file path (env: LOG_FILE)")
	fs.Bool("log-caller", d.Caller, "annotate caller (env: LOG_CALLER)")
}

// Bind wires fs into a new viper that also reads the environment.
func Bind(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		if e := v.BindPFlag(f.Name, f); e != nil {
			err = e
			return
		}
		err = v.BindEnv(f.Name, strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_")))
	})
	return v, err
}

// LoadDotEnv reads .env style files into the environment; missing files are ignored.
// Existing variables win.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// Load builds and validates an AppConfig from v.
func Load(v *viper.Viper) (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:     strings.TrimSpace(v.GetString("listen-addr")),
		RedisURL:       strings.TrimSpace(v.GetString("redis-url")),
		DatabaseURL:    strings.TrimSpace(v.GetString("database-url")),
		QueueBackend:   strings.ToLower(strings.TrimSpace(v.GetString("queue-backend"))),
		GameTTL:        v.GetDuration("game-ttl"),
		JWTSecret:      v.GetString("jwt-secret"),
		RelayURL:       strings.TrimSpace(v.GetString("relay-url")),
		RelayTimeout:   v.GetDuration("relay-timeout"),
		MessagesDir:    strings.TrimSpace(v.GetString("messages-dir")),
		AllowedOrigins: splitList(v.GetStringSlice("allowed-origins")),
		Log: obslog.Options{
			Level:   v.GetString("log-level"),
			Format:  v.GetString("log-format"),
			Console: v.GetBool("log-to-console"),
			ToFile:  v.GetBool("log-to-file"),
			File:    v.GetString("log-file"),
			Caller:  v.GetBool("log-caller"),
		},
	}
	if cfg.QueueBackend == "" {
		cfg.QueueBackend = QueueMemory
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: LISTEN_ADDR is required", ErrInvalid)
	}
	switch c.QueueBackend {
	case QueueMemory:
	case QueueRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: QUEUE_BACKEND=redis requires REDIS_URL", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: QUEUE_BACKEND must be memory or redis, got %q", ErrInvalid, c.QueueBackend)
	}
	if c.GameTTL <= 0 {
		return fmt.Errorf("%w: GAME_TTL must be positive", ErrInvalid)
	}
	if c.RelayURL != "" && c.RelayTimeout <= 0 {
		return fmt.Errorf("%w: RELAY_TIMEOUT must be positive", ErrInvalid)
	}
	return nil
}

// splitList accepts both repeated flags and a single comma-separated env value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, p := range strings.Split(item, ",") {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
