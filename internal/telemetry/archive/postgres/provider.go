// Package postgres registers the PostgreSQL dialector for the run archive.
package postgres

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/varilab/regsync/internal/telemetry/archive"
)

func init() {
	archive.RegisterDialector("postgres", func(cfg archive.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, fmt.Errorf("PostgreSQL database name cannot be empty")
		}
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, sslMode)
		return postgres.Open(dsn), nil
	})
}
