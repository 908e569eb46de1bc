package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	AppName     = "resellkit"
	EnvFileName = "config.env"
	EnvPrefix   = "RESELL"
)

// Config is read from RESELL_* environment variables.
type Config struct {
	APIBaseURL string        `envconfig:"API_BASE_URL" default:"http://localhost:8000"`
	APIToken   string        `envconfig:"API_TOKEN"`
	APITimeout time.Duration `envconfig:"API_TIMEOUT" default:"30s"`

	// DBPath and StorageRoot default to locations under the user's config
	// directory.
	DBPath      string `envconfig:"DB_PATH"`
	StorageRoot string `envconfig:"STORAGE_ROOT"`
	// TokenKey is the passphrase the persisted session is encrypted with.
	// Without it sessions are not persisted.
	TokenKey string `envconfig:"TOKEN_KEY"`

	ListenAddr      string        `envconfig:"LISTEN_ADDR" default:":8080"`
	PublicURL       string        `envconfig:"PUBLIC_URL" default:"http://localhost:8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	RequireEmailConfirmation bool          `envconfig:"REQUIRE_EMAIL_CONFIRMATION" default:"false"`
	SessionTTL               time.Duration `envconfig:"SESSION_TTL" default:"1h"`
	RefreshInterval          time.Duration `envconfig:"REFRESH_INTERVAL" default:"1m"`
	SignInPerMinute          int           `envconfig:"SIGN_IN_PER_MINUTE" default:"5"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile  string `envconfig:"LOG_FILE"`
}

// Dir returns the application's directory in the user's config directory.
func Dir() (string, error) {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configBase, AppName), nil
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory and from a .env file in the working directory. Variables
// already set take precedence. Errors are ignored since the files may not
// exist.
func LoadEnvFile() {
	if dir, err := Dir(); err == nil {
		_ = godotenv.Load(filepath.Join(dir, EnvFileName))
	}
	_ = godotenv.Load()
}

// Load reads the configuration from the environment and fills in path
// defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.DBPath == "" || cfg.StorageRoot == "" {
		dir, err := Dir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config directory: %w", err)
		}
		if cfg.DBPath == "" {
			cfg.DBPath = filepath.Join(dir, "resellkit.db")
		}
		if cfg.StorageRoot == "" {
			cfg.StorageRoot = filepath.Join(dir, "storage")
		}
	}

	if cfg.SignInPerMinute <= 0 {
		return nil, fmt.Errorf("invalid config: SIGN_IN_PER_MINUTE must be positive")
	}
	return &cfg, nil
}
