package core_test

import (
	"context"
	"editbench/internal/core"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildReport(t *testing.T) {
	results := []core.CategoryResult{
		{Category: "物理", Scores: []float64{8, 6}},
		{Category: "环境", Scores: []float64{2, 4, 0}},
		{Category: "empty"},
	}

	now := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	report := core.BuildReport(results, []string{"mean", "median"}, map[string]any{"reward_model": "constant"}, now)

	assert.Equal(t, []string{"物理", "环境", "empty"}, report.Categories)
	assert.Equal(t, 3, report.Summary.NumCategories)
	assert.Equal(t, 5, report.Summary.TotalSamples)
	assert.InDelta(t, 4.0, report.Summary.OverallMean, 1e-9)
	assert.Equal(t, "物理", report.Summary.BestCategory)
	assert.Equal(t, "empty", report.Summary.WorstCategory)
	assert.Equal(t, 7.0, report.CategoryStatistics["物理"]["mean"])
	assert.Equal(t, 0.0, report.CategoryStatistics["empty"][core.NumSamplesKey])
	assert.Equal(t, 4.0, report.OverallStatistics["median"])

	md := report.Markdown()
	assert.Contains(t, md, "# Image Edit Benchmark Report")
	assert.Contains(t, md, "## Category Results")
	assert.Contains(t, md, "| Category | mean | median | num_samples |")
	assert.Contains(t, md, "| 物理 | 7.0000 | 7.0000 | 2 |")
	assert.Contains(t, md, "## Overall Statistics")
}

func TestReportWriter(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	report := core.BuildReport([]core.CategoryResult{{Category: "a", Scores: []float64{5}}}, []string{"mean"}, nil, now)

	key, err := core.NewReportWriter(store, "results").Save(context.Background(), report)
	require.NoError(t, err)
	assert.Equal(t, "results/evaluation_report_20250314_092653.json", key)

	var decoded core.Report
	require.NoError(t, json.Unmarshal(readObject(t, store, key), &decoded))
	assert.Equal(t, report.Summary, decoded.Summary)

	md := readObject(t, store, strings.TrimSuffix(key, ".json")+".md")
	assert.Equal(t, report.Markdown(), string(md))
}
