// Package config loads the wordplay server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config holds every setting the binaries read. Defaults live in the struct
// tags.
type Config struct {
	// Host to listen on. ENV: HOST
	Host string `env:"HOST"`
	// Port to listen on. ENV: PORT
	Port int `env:"PORT,default=3000"`

	// SessionTTL is how long an idle HTTP session is kept. ENV: SESSION_TTL
	SessionTTL time.Duration `env:"SESSION_TTL,default=30m"`
	// SessionCapacity bounds the number of live HTTP sessions. ENV: SESSION_CAPACITY
	SessionCapacity int `env:"SESSION_CAPACITY,default=1024"`

	// LexiconFile is a YAML dictionary. The embedded one is used when empty.
	// ENV: LEXICON_FILE
	LexiconFile string `env:"LEXICON_FILE"`
	// LexiconWatch reloads LexiconFile when it changes. ENV: LEXICON_WATCH
	LexiconWatch bool `env:"LEXICON_WATCH,default=true"`

	// RedisAddr like "localhost:6379". When set, symbols are read from Redis.
	// ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR"`
	// RedisLexiconKey is the hash holding the symbols. ENV: REDIS_LEXICON_KEY
	RedisLexiconKey string `env:"REDIS_LEXICON_KEY,default=wordplay:lexicon"`

	// LogLevel is one of debug, info, warn, error. ENV: LOG_LEVEL
	LogLevel string `env:"LOG_LEVEL,default=info"`
	// LogFormat is json or text. ENV: LOG_FORMAT
	LogFormat string `env:"LOG_FORMAT,default=text"`
}

// Load decodes the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("invalid SESSION_TTL %s", c.SessionTTL)
	}
	if c.SessionCapacity <= 0 {
		return fmt.Errorf("invalid SESSION_CAPACITY %d", c.SessionCapacity)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}

// Addr is the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NewLogger builds the process logger writing to w.
func (c Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q", s)
	}
	return level, nil
}
