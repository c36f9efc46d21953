package api

import (
	"time"

	"github.com/google/uuid"
)

type Run struct {
	Id     uuid.UUID
	Name   string
	Status string

	EditorType string
	JudgeType  string

	CreationTime   time.Time
	StartTime      *time.Time `json:"StartTime,omitempty"`
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`

	// Object key of the JSON report, relative to the run's artifacts.
	ReportKey string `json:"ReportKey,omitempty"`

	Categories []CategoryScore `json:"Categories,omitempty"`
	Errors     []string        `json:"Errors,omitempty"`
}

type CategoryScore struct {
	Category      string
	NumPairs      int
	EditFailures  int
	ScoreFailures int
	Resumed       int
	Mean          float64
	Statistics    map[string]float64
}

type PairResult struct {
	Category string
	PairId   string
	Score    float64
	Edited   bool
	Failure  string `json:"Failure,omitempty"`
}

type SubmitRunRequest struct {
	Name string

	// Benchmark configuration in YAML.
	Config string
}

type SubmitRunResponse struct {
	Id uuid.UUID
}

type ListRunsParams struct {
	Status string `schema:"status"`
	Limit  int    `schema:"limit"`
}

type ListPairsParams struct {
	Category string `schema:"category"`
	Failed   bool   `schema:"failed"`
}

type ModelTypes struct {
	Editors []string
	Judges  []string
}
