package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MegaGrindStone/roundtable/internal/services"
	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type config struct {
	Port           string        `yaml:"port" env:"ROUNDTABLE_PORT" validate:"required,numeric"`
	ServiceURL     string        `yaml:"serviceURL" env:"ROUNDTABLE_SERVICE_URL" validate:"required,url"`
	DBPath         string        `yaml:"dbPath" env:"ROUNDTABLE_DB_PATH" validate:"required"`
	TypingDelay    time.Duration `yaml:"typingDelay" validate:"gte=0"`
	RequestTimeout time.Duration `yaml:"requestTimeout" validate:"gte=0"`
	Log            logConfig     `yaml:"log"`
}

type logConfig struct {
	Level  string `yaml:"level" env:"ROUNDTABLE_LOG_LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" env:"ROUNDTABLE_LOG_FORMAT" validate:"oneof=text json"`
}

func defaultConfig(cfgDir string) config {
	return config{
		Port:           "8080",
		ServiceURL:     "http://localhost:8000",
		DBPath:         filepath.Join(cfgDir, "store.db"),
		RequestTimeout: services.DefaultRequestTimeout,
		Log: logConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// loadConfig builds the configuration from, in increasing precedence: defaults, the YAML file at
// path (a missing file is not an error), a .env file in the working directory, and the process
// environment.
func loadConfig(path, cfgDir string) (config, error) {
	cfg := defaultConfig(cfgDir)

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config{}, fmt.Errorf("error loading .env file: %w", err)
	}
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return config{}, fmt.Errorf("error reading environment: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c logConfig) logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
