package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RunQueued    string = "QUEUED"
	RunRunning   string = "RUNNING"
	RunCompleted string = "COMPLETED"
	RunFailed    string = "FAILED"
)

type Run struct {
	Id   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string    `gorm:"not null"`

	Status     string `gorm:"size:20;not null"`
	EditorType string `gorm:"not null"`
	JudgeType  string `gorm:"not null"`

	// The submitted benchmark config, as YAML.
	Config string `gorm:"not null"`

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

	// Metric name to value.
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
