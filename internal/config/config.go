package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"robolike/internal/domain"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Token        string  `env:"TOKEN,required,notEmpty"`
	AllowedUsers []int64 `env:"ALLOWED_USERS"`
	DBPath       string  `env:"DB_PATH"                 envDefault:"robolike.sqlite"`

	BaseURL     string `env:"BASE_URL"     envDefault:"https://www.robolike.com"`
	AccessToken string `env:"ACCESS_TOKEN,required,notEmpty"`

	BrowserDebugURL   string `env:"BROWSER_DEBUG_URL"   envDefault:"http://127.0.0.1:9222"`
	BrowserTargetHost string `env:"BROWSER_TARGET_HOST" envDefault:"instagram.com"`

	DailyQuota      int  `env:"DAILY_QUOTA"      envDefault:"500"`
	MaxStoredLikes  int  `env:"MAX_STORED_LIKES"`
	ResolveCaptions bool `env:"RESOLVE_CAPTIONS" envDefault:"false"`
	AutoStart       bool `env:"AUTO_START"       envDefault:"false"`

	AppVersion string     `env:"APP_VERSION" envDefault:"dev"`
	LogLevel   slog.Level `env:"LOG_LEVEL"   envDefault:"INFO"`
}

// Load reads .env (when present) into the process environment and parses it.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env file: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	if cfg.DailyQuota <= 0 {
		return Config{}, fmt.Errorf("DAILY_QUOTA must be positive, got %d", cfg.DailyQuota)
	}

	if cfg.MaxStoredLikes <= 0 {
		cfg.MaxStoredLikes = cfg.DailyQuota * domain.MaxStoredFactor
	}

	return cfg, nil
}
