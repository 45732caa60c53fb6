package database

import (
	"errors"
	"time"

	"github.com/StudyDeskLabs/studydesk/backend/internal/tasks"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillCanvasDueDates = "2026-03-10_backfill_canvas_due_date_sentinel"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillCanvasDueDates, apply: backfillCanvasDueDates},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillCanvasDueDates assigns the far-future placeholder to imported rows
// written before due dates became mandatory, so date ordering stays total.
func backfillCanvasDueDates(db *gorm.DB) error {
	return db.Model(&tasks.Task{}).
		Where("source = ? AND due_date IS NULL", tasks.SourceCanvas).
		Update("due_date", tasks.SentinelDueDate).Error
}
