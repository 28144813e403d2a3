package database

import (
	"errors"
	"time"

	"github.com/codedeck/backend/internal/files"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillNodeLanguages = "2026-08-10_backfill_node_languages"

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
		{name: migrationBackfillNodeLanguages, apply: backfillNodeLanguages},
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

// backfillNodeLanguages re-derives the language column for file rows imported
// before extension detection existed.
func backfillNodeLanguages(db *gorm.DB) error {
	var nodes []files.FileNode
	if err := db.Where("node_type = ? AND language = ''", files.NodeTypeFile).Find(&nodes).Error; err != nil {
		return err
	}
	for _, node := range nodes {
		if err := db.Model(&files.FileNode{}).
			Where("node_id = ?", node.NodeID).
			Update("language", files.DetectLanguage(node.Name)).Error; err != nil {
			return err
		}
	}
	return nil
}
