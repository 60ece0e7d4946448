package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr           string `env:"ADDR" envDefault:":8080"`
	BackendURL     string `env:"BACKEND_URL,required"`
	EventStreamURL string `env:"EVENT_STREAM_URL,required"`
	BackendToken   string `env:"BACKEND_TOKEN"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	ReconnectDelay time.Duration `env:"RECONNECT_DELAY" envDefault:"3s"`

	KillWindow   time.Duration `env:"KILL_WINDOW" envDefault:"150ms"`
	DeathWindow  time.Duration `env:"DEATH_WINDOW" envDefault:"300ms"`
	PointsWindow time.Duration `env:"POINTS_WINDOW" envDefault:"1s"`
	RosterWindow time.Duration `env:"ROSTER_WINDOW" envDefault:"500ms"`

	RetryAttempts  uint          `env:"RETRY_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay time.Duration `env:"RETRY_BASE_DELAY" envDefault:"250ms"`
	RetryMaxDelay  time.Duration `env:"RETRY_MAX_DELAY" envDefault:"4s"`
	MaxInFlight    int64         `env:"MAX_IN_FLIGHT" envDefault:"4"`

	AlertDuration time.Duration `env:"ALERT_DURATION" envDefault:"5500ms"`

	// DatabaseURL is optional; preferences stay in memory without it.
	DatabaseURL string `env:"DATABASE_URL"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogDev   bool   `env:"LOG_DEV" envDefault:"false"`
}

// Load reads an optional .env file, then the environment. Variables already
// set in the environment win over the file.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	for _, u := range []struct {
		name, value string
	}{
		{"BACKEND_URL", c.BackendURL},
		{"EVENT_STREAM_URL", c.EventStreamURL},
	} {
		parsed, err := url.Parse(u.value)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("%s: not an absolute url: %q", u.name, u.value))
		}
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"REQUEST_TIMEOUT", c.RequestTimeout},
		{"RECONNECT_DELAY", c.ReconnectDelay},
		{"KILL_WINDOW", c.KillWindow},
		{"DEATH_WINDOW", c.DeathWindow},
		{"POINTS_WINDOW", c.PointsWindow},
		{"ROSTER_WINDOW", c.RosterWindow},
		{"RETRY_BASE_DELAY", c.RetryBaseDelay},
		{"RETRY_MAX_DELAY", c.RetryMaxDelay},
		{"ALERT_DURATION", c.AlertDuration},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, d.value))
		}
	}
	if c.RetryAttempts == 0 {
		errs = append(errs, errors.New("RETRY_ATTEMPTS must be at least 1"))
	}
	if c.MaxInFlight < 0 {
		errs = append(errs, errors.New("MAX_IN_FLIGHT must not be negative"))
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		errs = append(errs, errors.New("RETRY_MAX_DELAY must not be below RETRY_BASE_DELAY"))
	}
	return errors.Join(errs...)
}
