package core

import (
	"bytes"
	"context"
	"editbench/internal/storage"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"
)

type Summary struct {
	NumCategories int                `json:"num_categories"`
	TotalSamples  int                `json:"total_samples"`
	OverallMean   float64            `json:"overall_mean"`
	CategoryMeans map[string]float64 `json:"category_means"`
	BestCategory  string             `json:"best_category"`
	WorstCategory string             `json:"worst_category"`
}

type Report struct {
	Timestamp          time.Time                     `json:"timestamp"`
	Categories         []string                      `json:"categories"`
	Metrics            []string                      `json:"metrics"`
	CategoryStatistics map[string]map[string]float64 `json:"category_statistics"`
	OverallStatistics  map[string]float64            `json:"overall_statistics"`
	Summary            Summary                       `json:"summary"`
	Metadata           map[string]any                `json:"metadata,omitempty"`
}

func BuildReport(results []CategoryResult, metrics []string, metadata map[string]any, now time.Time) Report {
	report := Report{
		Timestamp:          now,
		Metrics:            metrics,
		CategoryStatistics: make(map[string]map[string]float64, len(results)),
		Summary:            Summary{CategoryMeans: make(map[string]float64, len(results))},
		Metadata:           metadata,
	}

	var all []float64
	bestMean, worstMean := 0.0, 0.0
	for i, result := range results {
		report.Categories = append(report.Categories, result.Category)
		report.CategoryStatistics[result.Category] = ComputeStatistics(result.Scores, metrics)

		mean := Mean(result.Scores)
		report.Summary.CategoryMeans[result.Category] = mean
		if i == 0 || mean > bestMean {
			report.Summary.BestCategory, bestMean = result.Category, mean
		}
		if i == 0 || mean < worstMean {
			report.Summary.WorstCategory, worstMean = result.Category, mean
		}

		all = append(all, result.Scores...)
	}

	report.OverallStatistics = ComputeStatistics(all, metrics)
	report.Summary.NumCategories = len(results)
	report.Summary.TotalSamples = len(all)
	report.Summary.OverallMean = Mean(all)

	return report
}

func (r Report) Markdown() string {
	var b strings.Builder

	b.WriteString("# Image Edit Benchmark Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", r.Timestamp.Format(time.RFC3339))

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Categories: %d\n", r.Summary.NumCategories)
	fmt.Fprintf(&b, "- Total samples: %d\n", r.Summary.TotalSamples)
	fmt.Fprintf(&b, "- Overall mean: %.4f\n", r.Summary.OverallMean)
	if r.Summary.NumCategories > 0 {
		fmt.Fprintf(&b, "- Best category: %s (%.4f)\n", r.Summary.BestCategory, r.Summary.CategoryMeans[r.Summary.BestCategory])
		fmt.Fprintf(&b, "- Worst category: %s (%.4f)\n", r.Summary.WorstCategory, r.Summary.CategoryMeans[r.Summary.WorstCategory])
	}

	columns := append(append([]string{}, r.Metrics...), NumSamplesKey)

	b.WriteString("\n## Category Results\n\n")
	fmt.Fprintf(&b, "| Category | %s |\n", strings.Join(columns, " | "))
	fmt.Fprintf(&b, "|---|%s\n", strings.Repeat("---|", len(columns)))
	for _, category := range r.Categories {
		stats := r.CategoryStatistics[category]
		cells := make([]string, len(columns))
		for i, col := range columns {
			cells[i] = formatStat(col, stats[col])
		}
		fmt.Fprintf(&b, "| %s | %s |\n", category, strings.Join(cells, " | "))
	}

	b.WriteString("\n## Overall Statistics\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	for _, col := range columns {
		fmt.Fprintf(&b, "| %s | %s |\n", col, formatStat(col, r.OverallStatistics[col]))
	}

	return b.String()
}

func formatStat(metric string, v float64) string {
	if metric == NumSamplesKey || metric == "count" {
		return fmt.Sprintf("%d", int(v))
	}
	return fmt.Sprintf("%.4f", v)
}

type ReportWriter struct {
	store storage.ObjectStore
	dir   string
}

func NewReportWriter(store storage.ObjectStore, dir string) *ReportWriter {
	return &ReportWriter{store: store, dir: dir}
}

// Save writes the report as JSON and Markdown and returns the JSON key.
func (w *ReportWriter) Save(ctx context.Context, report Report) (string, error) {
	name := "evaluation_report_" + report.Timestamp.Format("20060102_150405")
	jsonKey := path.Join(w.dir, name+".json")
	mdKey := path.Join(w.dir, name+".md")

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("error encoding report: %w", err)
	}
	if err := w.store.PutObject(ctx, jsonKey, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("error saving report: %w", err)
	}

	if err := w.store.PutObject(ctx, mdKey, strings.NewReader(report.Markdown())); err != nil {
		return "", fmt.Errorf("error saving markdown report: %w", err)
	}

	return jsonKey, nil
}
