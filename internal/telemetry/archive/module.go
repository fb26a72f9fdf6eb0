package archive

import (
	"io/fs"
	"time"

	"go.uber.org/fx"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	config "github.com/varilab/regsync/internal/config"
	"github.com/varilab/regsync/internal/support/configbinder"
	"github.com/varilab/regsync/internal/support/exception"
	"github.com/varilab/regsync/internal/support/logger"
)

// MigrationsFS carries the embedded migration files, passed from main.
type MigrationsFS struct {
	FS   fs.FS
	Path string
}

// NewFromConfig opens the archive named by telemetry.archive_db_ref and
// migrates its schema. It returns nil when the archive is disabled; the
// telemetry wiring skips a nil archive.
func NewFromConfig(cfg *config.Config, migrations MigrationsFS) (*Archive, error) {
	tc := cfg.Regsync.Telemetry
	if !tc.ArchiveEnabled {
		logger.Debugf("Run archive is disabled.")
		return nil, nil
	}

	raw, ok := cfg.Regsync.DatabaseConfigs[tc.ArchiveDBRef]
	if !ok {
		return nil, exception.NewPipelineError(moduleName,
			"database configuration '"+tc.ArchiveDBRef+"' not found", nil, false, false)
	}
	properties, ok := raw.(map[string]interface{})
	if !ok {
		return nil, exception.NewPipelineError(moduleName,
			"database configuration '"+tc.ArchiveDBRef+"' has an invalid format", nil, false, false)
	}
	var dbConfig DatabaseConfig
	if err := configbinder.BindProperties(properties, &dbConfig); err != nil {
		return nil, exception.NewPipelineError(moduleName,
			"failed to decode database config '"+tc.ArchiveDBRef+"'", err, false, false)
	}

	factory, err := GetDialectorFactory(dbConfig.Type)
	if err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to resolve dialector", err, false, false)
	}
	dialector, err := factory(dbConfig)
	if err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to create dialector", err, false, false)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to open archive database", err, false, true)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to get underlying sql.DB", err, false, false)
	}
	if dbConfig.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(dbConfig.Pool.MaxOpenConns)
	}
	if dbConfig.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(dbConfig.Pool.MaxIdleConns)
	}
	if dbConfig.Pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.Pool.ConnMaxLifetimeMinutes) * time.Minute)
	}

	if migrations.FS != nil {
		if err := Migrate(db, dbConfig.Type, migrations.FS, migrations.Path); err != nil {
			return nil, exception.NewPipelineError(moduleName, "archive schema migration failed", err, false, false)
		}
	}

	logger.Infof("Run archive opened (%s).", dbConfig.Type)
	return NewArchive(db), nil
}

// Module provides the run archive to the Fx application.
var Module = fx.Options(
	fx.Provide(NewFromConfig),
)
