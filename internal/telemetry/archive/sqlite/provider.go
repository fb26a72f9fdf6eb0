// Package sqlite registers the SQLite dialector for the run archive.
package sqlite

import (
	"errors"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/varilab/regsync/internal/telemetry/archive"
)

func init() {
	archive.RegisterDialector("sqlite", func(cfg archive.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(cfg.Database), nil
	})
}
