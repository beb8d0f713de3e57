package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port            string `yaml:"port"`
		ReadTimeout     string `yaml:"read_timeout"`
		WriteTimeout    string `yaml:"write_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
		Format string `yaml:"format" validate:"omitempty,oneof=json console"`
	} `yaml:"log"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret" validate:"required"`
	} `yaml:"auth"`
	Store struct {
		Driver string `yaml:"driver" validate:"oneof=memory postgres"`
	} `yaml:"store"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolTTL  string `yaml:"pool_ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Jobs struct {
		Workers       int    `yaml:"workers" validate:"gte=1"`
		MaxProcessing string `yaml:"max_processing"`
		MaxPending    string `yaml:"max_pending"`
		MaxWords      int    `yaml:"max_words" validate:"gte=1"`
		SweepSchedule string `yaml:"sweep_schedule"`
	} `yaml:"jobs"`
	Generator struct {
		Provider string `yaml:"provider" validate:"oneof=heuristic gemini"`
		Model    string `yaml:"model"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"generator"`
	Scoring struct {
		Similarity string `yaml:"similarity" validate:"oneof=lexical levenshtein"`
	} `yaml:"scoring"`
	Events struct {
		Publisher string   `yaml:"publisher" validate:"oneof=none gochannel kafka"`
		Brokers   []string `yaml:"brokers"`
		Topic     string   `yaml:"topic"`
	} `yaml:"events"`
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Server.ReadTimeout = "15s"
	cfg.Server.WriteTimeout = "30s"
	cfg.Server.ShutdownTimeout = "10s"
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	cfg.Store.Driver = "memory"
	cfg.Redis.PoolTTL = "10m"
	cfg.Jobs.Workers = 4
	cfg.Jobs.MaxProcessing = "5m"
	cfg.Jobs.MaxPending = "30m"
	cfg.Jobs.MaxWords = 3000
	cfg.Jobs.SweepSchedule = "@every 30s"
	cfg.Generator.Provider = "heuristic"
	cfg.Generator.Model = "gemini-2.5-flash"
	cfg.Scoring.Similarity = "lexical"
	cfg.Events.Publisher = "gochannel"
	cfg.CORS.AllowedOrigins = []string{"*"}
	return cfg
}

// Load reads YAML config from path on top of the defaults, then applies environment overrides.
// A .env file in the working directory is loaded first when present; a missing config file is
// not an error.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	applyEnv(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Store.Driver == "postgres" && cfg.Postgres.URL == "" {
		return cfg, fmt.Errorf("invalid config: postgres.url is required for the postgres store")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	overrides := []struct {
		key string
		dst *string
	}{
		{"PORT", &cfg.Server.Port},
		{"DATABASE_URL", &cfg.Postgres.URL},
		{"REDIS_ADDR", &cfg.Redis.Addr},
		{"REDIS_PASSWORD", &cfg.Redis.Password},
		{"GEMINI_API_KEY", &cfg.Generator.APIKey},
		{"JWT_SECRET", &cfg.Auth.JWTSecret},
		{"STORE_DRIVER", &cfg.Store.Driver},
		{"GENERATOR_PROVIDER", &cfg.Generator.Provider},
		{"LOG_LEVEL", &cfg.Log.Level},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.key)); v != "" {
			*o.dst = v
		}
	}
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.Events.Brokers = strings.Split(v, ",")
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
