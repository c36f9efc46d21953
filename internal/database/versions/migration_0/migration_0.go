package migration_0

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Run struct {
	Id   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string    `gorm:"not null"`

	Status     string `gorm:"size:20;not null"`
	EditorType string `gorm:"not null"`
	JudgeType  string `gorm:"not null"`
	Config     string `gorm:"not null"`

	ReportKey sql.NullString

	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime

	Categories []CategoryScore `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
	Pairs      []PairResult    `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
	Errors     []RunError      `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
}

type CategoryScore struct {
	RunId    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Category string    `gorm:"primaryKey"`

	NumPairs      int
	EditFailures  int
	ScoreFailures int
	Resumed       int
	Mean          float64

	Statistics datatypes.JSON `gorm:"type:jsonb"`
}

type PairResult struct {
	RunId  uuid.UUID `gorm:"type:uuid;primaryKey"`
	PairId string    `gorm:"primaryKey"`

	Category string `gorm:"index;not null"`
	Score    float64
	Edited   bool
	Failure  sql.NullString
}

type RunError struct {
	RunId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Error     string
	Timestamp time.Time
}

func Migration(db *gorm.DB) error {
	if err := db.AutoMigrate(&Run{}, &CategoryScore{}, &PairResult{}, &RunError{}); err != nil {
		return fmt.Errorf("migration 0 failed: %w", err)
	}
	return nil
}
