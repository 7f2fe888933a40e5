package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the correlation engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Clients   ClientsConfig   `yaml:"clients"`
	Store     StoreConfig     `yaml:"store"`
	Logging   LoggingConfig   `yaml:"logging"`
	Cache     CacheConfig     `yaml:"cache"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	CronToken       string        `yaml:"cronToken"`
}

// ClientsConfig groups outbound integrations.
type ClientsConfig struct {
	Journal JournalClientConfig `yaml:"journal"`
}

// JournalClientConfig configures access to the sync journal service.
type JournalClientConfig struct {
	BaseURL        string        `yaml:"baseURL"`
	FoodPath       string        `yaml:"foodPath"`
	SymptomPath    string        `yaml:"symptomPath"`
	TriggerPath    string        `yaml:"triggerPath"`
	MedicationPath string        `yaml:"medicationPath"`
	UsersPath      string        `yaml:"usersPath"`
	Timeout        time.Duration `yaml:"timeout"`
}

// StoreConfig selects the local SQLite journal for offline-first installs.
// When SQLitePath is set it takes precedence over the journal client.
type StoreConfig struct {
	SQLitePath string `yaml:"sqlitePath"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls Redis-backed caching of correlation results.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	ResultTTL    time.Duration `yaml:"resultTTL"`
}

// SchedulerConfig controls automatic recalculation.
type SchedulerConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	Window        time.Duration `yaml:"window"`
	PairCap       int           `yaml:"pairCap"`
	MinSampleSize int           `yaml:"minSampleSize"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SYMPTOMTRACE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8085",
			MetricsAddress:  ":2112",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			GracefulTimeout: 10 * time.Second,
		},
		Clients: ClientsConfig{
			Journal: JournalClientConfig{
				FoodPath:       "/api/v1/journal/food",
				SymptomPath:    "/api/v1/journal/symptoms",
				TriggerPath:    "/api/v1/journal/triggers",
				MedicationPath: "/api/v1/journal/medications",
				UsersPath:      "/api/v1/journal/users",
				Timeout:        5 * time.Second,
			},
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			ResultTTL:    24 * time.Hour,
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			Interval:      6 * time.Hour,
			Window:        30 * 24 * time.Hour,
			PairCap:       50,
			MinSampleSize: 3,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SYMPTOMTRACE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("SYMPTOMTRACE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("SYMPTOMTRACE_CRON_TOKEN"); v != "" {
		cfg.Server.CronToken = v
	}
	if v := os.Getenv("SYMPTOMTRACE_JOURNAL_BASE_URL"); v != "" {
		cfg.Clients.Journal.BaseURL = v
	}
	if v := os.Getenv("SYMPTOMTRACE_JOURNAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Clients.Journal.Timeout = d
		}
	}
	if v := os.Getenv("SYMPTOMTRACE_SQLITE_PATH"); v != "" {
		cfg.Store.SQLitePath = v
	}
	if v := os.Getenv("SYMPTOMTRACE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SYMPTOMTRACE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("SYMPTOMTRACE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("SYMPTOMTRACE_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("SYMPTOMTRACE_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("SYMPTOMTRACE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("SYMPTOMTRACE_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("SYMPTOMTRACE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ResultTTL = d
		}
	}
	if v := os.Getenv("SYMPTOMTRACE_SCHEDULER_ENABLED"); v != "" {
		cfg.Scheduler.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("SYMPTOMTRACE_SCHEDULER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.Interval = d
		}
	}
	if v := os.Getenv("SYMPTOMTRACE_SCHEDULER_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.Window = d
		}
	}
	if v := os.Getenv("SYMPTOMTRACE_SCHEDULER_PAIR_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.PairCap = n
		}
	}
	if v := os.Getenv("SYMPTOMTRACE_MIN_SAMPLE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.MinSampleSize = n
		}
	}
}
