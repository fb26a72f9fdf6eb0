// Package mysql registers the MySQL dialector for the run archive.
package mysql

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/varilab/regsync/internal/telemetry/archive"
)

func init() {
	archive.RegisterDialector("mysql", func(cfg archive.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, fmt.Errorf("MySQL database name cannot be empty")
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
		return mysql.Open(dsn), nil
	})
}
