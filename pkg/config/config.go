// Package config loads the extractor configuration from a YAML file and the
// environment. Values are resolved in order: defaults, file (with ${VAR}
// substitution), environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/fairing-extract/pkg/client"
	"github.com/Sternrassler/fairing-extract/pkg/fairing"
	"github.com/Sternrassler/fairing-extract/pkg/logging"
)

// State backends.
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// DefaultStartDate is used when no start date is configured.
var DefaultStartDate = time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)

// Config is the full extractor configuration.
type Config struct {
	SecretToken string    `yaml:"secret_token"`
	StartDate   time.Time `yaml:"start_date"`
	PageSize    int       `yaml:"page_size"`

	API   APIConfig   `yaml:"api"`
	State StateConfig `yaml:"state"`
	Log   LogConfig   `yaml:"log"`
}

// APIConfig configures the HTTP client.
type APIConfig struct {
	BaseURL           string        `yaml:"base_url"`
	UserAgent         string        `yaml:"user_agent"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	// RedisURL enables the sealed-page cache and shared rate limit state.
	RedisURL string        `yaml:"redis_url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// StateConfig selects where the checkpoint is persisted.
type StateConfig struct {
	Backend     string `yaml:"backend"`
	Dir         string `yaml:"dir"`
	RedisURL    string `yaml:"redis_url"`
	PostgresDSN string `yaml:"postgres_dsn"`
	// SaveEvery persists the checkpoint every n records.
	SaveEvery int `yaml:"save_every"`
	// StateEvery writes a STATE message every n records.
	StateEvery int `yaml:"state_every"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		StartDate: DefaultStartDate,
		PageSize:  100,
		API: APIConfig{
			BaseURL:           client.DefaultBaseURL,
			UserAgent:         "fairing-extract/dev",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 5,
			Burst:             1,
		},
		State: StateConfig{
			Backend:   BackendFile,
			Dir:       ".fairing-state",
			SaveEvery: 1,
		},
		Log: LogConfig{
			Level: string(logging.LevelInfo),
		},
	}
}

// Load builds the configuration from path (optional) and the environment,
// then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	content := substituteEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
// Substituted values are not expanded again.
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("FAIRING_SECRET_TOKEN"); v != "" {
		cfg.SecretToken = v
	}
	if v := os.Getenv("FAIRING_START_DATE"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return fmt.Errorf("FAIRING_START_DATE: %w", err)
		}
		cfg.StartDate = t
	}
	if v := os.Getenv("FAIRING_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FAIRING_PAGE_SIZE: %w", err)
		}
		cfg.PageSize = n
	}
	if v := os.Getenv("FAIRING_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("FAIRING_STATE_BACKEND"); v != "" {
		cfg.State.Backend = v
	}
	if v := os.Getenv("FAIRING_STATE_DIR"); v != "" {
		cfg.State.Dir = v
	}
	if v := os.Getenv("FAIRING_REDIS_URL"); v != "" {
		cfg.State.RedisURL = v
	}
	if v := os.Getenv("FAIRING_POSTGRES_DSN"); v != "" {
		cfg.State.PostgresDSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.SecretToken == "" {
		errs = append(errs, errors.New("secret_token is required"))
	}
	if c.StartDate.IsZero() {
		errs = append(errs, errors.New("start_date is required"))
	}
	if c.PageSize < 1 {
		errs = append(errs, fmt.Errorf("page_size must be positive (got %d)", c.PageSize))
	}
	if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("api.base_url must be an http(s) URL (got %q)", c.API.BaseURL))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.State.SaveEvery < 1 {
		errs = append(errs, fmt.Errorf("state.save_every must be positive (got %d)", c.State.SaveEvery))
	}
	switch c.State.Backend {
	case BackendFile:
		if c.State.Dir == "" {
			errs = append(errs, errors.New("state.dir is required for the file backend"))
		}
	case BackendRedis:
		if c.State.RedisURL == "" {
			errs = append(errs, errors.New("state.redis_url is required for the redis backend"))
		}
	case BackendPostgres:
		if c.State.PostgresDSN == "" {
			errs = append(errs, errors.New("state.postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown state backend %q", c.State.Backend))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// StartBound returns the start date truncated to what the API can filter on.
func (c Config) StartBound() time.Time {
	return c.StartDate.UTC().Truncate(fairing.Resolution)
}

// ClientConfig maps the API settings onto a client configuration.
func (c Config) ClientConfig() client.Config {
	cc := client.DefaultConfig(c.SecretToken)
	cc.BaseURL = c.API.BaseURL
	if c.API.UserAgent != "" {
		cc.UserAgent = c.API.UserAgent
	}
	if c.API.Timeout > 0 {
		cc.Timeout = c.API.Timeout
	}
	cc.RequestsPerSecond = c.API.RequestsPerSecond
	if c.API.Burst > 0 {
		cc.Burst = c.API.Burst
	}
	cc.CacheTTL = c.API.CacheTTL
	return cc
}

// LoggingConfig maps the log settings onto a logging configuration.
func (c Config) LoggingConfig() logging.Config {
	lc := logging.DefaultConfig()
	if c.Log.Level != "" {
		lc.Level = logging.LogLevel(strings.ToLower(c.Log.Level))
	}
	lc.Pretty = c.Log.Pretty
	return lc
}
