// Package archive keeps a local relational history of pipeline runs, so run
// telemetry survives even when the registry itself is the failing party. It
// is a second telemetry sink next to the registry sink, behind the same
// interface.
package archive

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/varilab/regsync/internal/domain/model"
	"github.com/varilab/regsync/internal/support/exception"
	"github.com/varilab/regsync/internal/support/logger"
)

const moduleName = "archive"

// runRecord is the persisted form of a PipelineRun.
type runRecord struct {
	ID             string  `gorm:"primaryKey;column:id"`
	Name           string  `gorm:"column:name"`
	State          string  `gorm:"column:state"`
	DateStarted    string  `gorm:"column:date_started"`
	DateEnded      string  `gorm:"column:date_ended"`
	ElapsedSeconds float64 `gorm:"column:elapsed_seconds"`
	Comments       string  `gorm:"column:comments"`
	CreatedAt      time.Time
}

func (runRecord) TableName() string { return "regsync_runs" }

// stepRecord is the persisted form of a ProcessingStep.
type stepRecord struct {
	ID             string  `gorm:"primaryKey;column:id"`
	RunID          string  `gorm:"column:run_id;index"`
	Ordinal        int     `gorm:"column:ordinal"`
	Type           string  `gorm:"column:type"`
	Name           string  `gorm:"column:name"`
	TargetEntity   string  `gorm:"column:target_entity"`
	Status         string  `gorm:"column:status"`
	DateStarted    string  `gorm:"column:date_started"`
	DateEnded      string  `gorm:"column:date_ended"`
	ElapsedSeconds float64 `gorm:"column:elapsed_seconds"`
	Comment        string  `gorm:"column:comment"`
	CreatedAt      time.Time
}

func (stepRecord) TableName() string { return "regsync_steps" }

// Archive is the relational run-history sink.
type Archive struct {
	db *gorm.DB
}

// NewArchive wraps an open gorm handle.
func NewArchive(db *gorm.DB) *Archive {
	return &Archive{db: db}
}

// WriteRun upserts the run and its steps in one transaction. An abort-time
// flush can write the same run twice (once early, once final), so conflicts
// on the primary key update every column.
func (a *Archive) WriteRun(ctx context.Context, run *model.PipelineRun, steps []*model.ProcessingStep) error {
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := runRecord{
			ID:             run.ID,
			Name:           run.Name,
			State:          string(run.State),
			DateStarted:    run.StartFormatted,
			DateEnded:      run.EndFormatted,
			ElapsedSeconds: run.ElapsedSeconds,
			Comments:       run.Comments,
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error; err != nil {
			return err
		}

		for ordinal, step := range steps {
			record := stepRecord{
				ID:             step.ID,
				RunID:          step.RunID,
				Ordinal:        ordinal,
				Type:           step.Type,
				Name:           step.Name,
				TargetEntity:   step.TargetEntity,
				Status:         step.Status.String(),
				DateStarted:    step.StartFormatted,
				DateEnded:      step.EndFormatted,
				ElapsedSeconds: step.ElapsedSeconds,
				Comment:        step.Comment,
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return exception.NewPipelineError(moduleName, "failed to archive run "+run.ID, err, false, true)
	}
	logger.Debugf("Run %s archived (%d steps).", run.ID, len(steps))
	return nil
}

// Runs returns the most recent archived runs, newest first.
func (a *Archive) Runs(ctx context.Context, limit int) ([]model.PipelineRun, error) {
	var records []runRecord
	query := a.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to list archived runs", err, false, true)
	}

	runs := make([]model.PipelineRun, 0, len(records))
	for _, record := range records {
		runs = append(runs, model.PipelineRun{
			ID:             record.ID,
			Name:           record.Name,
			State:          model.RunState(record.State),
			StartFormatted: record.DateStarted,
			EndFormatted:   record.DateEnded,
			ElapsedSeconds: record.ElapsedSeconds,
			Comments:       record.Comments,
		})
	}
	return runs, nil
}

// Close closes the underlying database handle.
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
