package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/MrJamesThe3rd/finnysync/internal/queue"
)

type Config struct {
	App struct {
		Name     string `envconfig:"APP_NAME" default:"Finny"`
		Port     int    `envconfig:"PORT" default:"8080"`
		DataPath string `envconfig:"DATA_PATH" default:"finny.db"`
		Timezone string `envconfig:"TIMEZONE" default:"UTC"`
		// Empty means the remote is not configured and everything stays local.
		RemoteDSN   string   `envconfig:"REMOTE_DSN"`
		CORSOrigins []string `envconfig:"CORS_ORIGINS"`
	}

	DB struct {
		MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
		MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
		ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
		Migrate         bool          `envconfig:"DB_MIGRATE" default:"true"`
	}

	Auth struct {
		Secret string `envconfig:"AUTH_SECRET" default:"dev-secret"`
		Token  string `envconfig:"AUTH_TOKEN"`
		// DevUser signs in with a locally issued token when no AUTH_TOKEN is set.
		DevUser string `envconfig:"AUTH_DEV_USER"`
	}

	Sync struct {
		Debounce             time.Duration `envconfig:"SYNC_DEBOUNCE" default:"1500ms"`
		HydrationTimeout     time.Duration `envconfig:"HYDRATION_TIMEOUT" default:"8s"`
		MaxRetries           int           `envconfig:"QUEUE_MAX_RETRIES" default:"5"`
		BaseDelay            time.Duration `envconfig:"QUEUE_BASE_DELAY" default:"1s"`
		TombstoneGrace       time.Duration `envconfig:"TOMBSTONE_GRACE" default:"30s"`
		ConnectivityInterval time.Duration `envconfig:"CONNECTIVITY_INTERVAL" default:"15s"`
		UndoDepth            int           `envconfig:"UNDO_DEPTH" default:"10"`
	}

	Server struct {
		Timeout time.Duration `envconfig:"SERVER_TIMEOUT" default:"30s"`
	}
}

// Location resolves the calendar-day timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.App.Timezone, err)
	}

	return loc, nil
}

func (c *Config) QueueConfig() queue.Config {
	return queue.Config{
		MaxRetries:     c.Sync.MaxRetries,
		BaseDelay:      c.Sync.BaseDelay,
		TombstoneGrace: c.Sync.TombstoneGrace,
	}
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}
