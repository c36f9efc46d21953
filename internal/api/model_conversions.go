package api

import (
	"database/sql"
	"editbench/internal/database"
	"editbench/pkg/api"
	"fmt"
	"net/http"
	"time"
)

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func convertRun(r database.Run) (api.Run, error) {
	run := api.Run{
		Id:             r.Id,
		Name:           r.Name,
		Status:         r.Status,
		EditorType:     r.EditorType,
		JudgeType:      r.JudgeType,
		CreationTime:   r.CreationTime,
		StartTime:      nullTime(r.StartTime),
		CompletionTime: nullTime(r.CompletionTime),
		ReportKey:      r.ReportKey.String,
	}

	for _, c := range r.Categories {
		stats, err := database.DecodeStatistics(c.Statistics)
		if err != nil {
			return api.Run{}, CodedError(http.StatusInternalServerError, fmt.Errorf("run %s category %s: %w", r.Id, c.Category, err))
		}
		run.Categories = append(run.Categories, api.CategoryScore{
			Category:      c.Category,
			NumPairs:      c.NumPairs,
			EditFailures:  c.EditFailures,
			ScoreFailures: c.ScoreFailures,
			Resumed:       c.Resumed,
			Mean:          c.Mean,
			Statistics:    stats,
		})
	}

	for _, e := range r.Errors {
		run.Errors = append(run.Errors, e.Error)
	}

	return run, nil
}

func convertRuns(rs []database.Run) []api.Run {
	runs := make([]api.Run, 0, len(rs))
	for _, r := range rs {
		// Categories are not preloaded when listing.
		run, _ := convertRun(r)
		runs = append(runs, run)
	}
	return runs
}

func convertPairResults(ps []database.PairResult) []api.PairResult {
	pairs := make([]api.PairResult, 0, len(ps))
	for _, p := range ps {
		pairs = append(pairs, api.PairResult{
			Category: p.Category,
			PairId:   p.PairId,
			Score:    p.Score,
			Edited:   p.Edited,
			Failure:  p.Failure.String,
		})
	}
	return pairs
}
