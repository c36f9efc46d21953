package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func UpdateRunStatus(ctx context.Context, txn *gorm.DB, runId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	switch status {
	case RunRunning:
		updates["start_time"] = time.Now().UTC()
	case RunCompleted, RunFailed:
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&Run{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error updating run status", "run_id", runId, "status", status, "error", err)
		return err
	}
	return nil
}

func SaveRunError(ctx context.Context, txn *gorm.DB, runId uuid.UUID, errorMessage string) {
	runError := RunError{
		RunId:     runId,
		ErrorId:   uuid.New(),
		Error:     errorMessage,
		Timestamp: time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Create(&runError).Error; err != nil {
		slog.Error("error saving run error", "run_id", runId, "error", err)
	}
}

func SetRunReport(ctx context.Context, txn *gorm.DB, runId uuid.UUID, reportKey string) error {
	if err := txn.WithContext(ctx).Model(&Run{Id: runId}).Update("report_key", sql.NullString{String: reportKey, Valid: true}).Error; err != nil {
		return fmt.Errorf("error saving report key: %w", err)
	}
	return nil
}

// SaveCategoryResult upserts a category's statistics and its pair results,
// so a resumed run overwrites what the interrupted run recorded.
func SaveCategoryResult(ctx context.Context, db *gorm.DB, category CategoryScore, stats map[string]float64, pairs []PairResult) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("error encoding statistics: %w", err)
	}
	category.Statistics = datatypes.JSON(statsJSON)

	return db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if err := txn.Clauses(clause.OnConflict{UpdateAll: true}).Create(&category).Error; err != nil {
			return fmt.Errorf("error saving category score: %w", err)
		}

		if len(pairs) > 0 {
			if err := txn.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(&pairs, 500).Error; err != nil {
				return fmt.Errorf("error saving pair results: %w", err)
			}
		}
		return nil
	})
}

func DecodeStatistics(data datatypes.JSON) (map[string]float64, error) {
	stats := map[string]float64{}
	if len(data) == 0 {
		return stats, nil
	}
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("error decoding statistics: %w", err)
	}
	return stats, nil
}
