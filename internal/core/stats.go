package core

import (
	"fmt"
	"math"
	"slices"
)

const NumSamplesKey = "num_samples"

// ComputeStatistics returns the requested metrics over scores, plus
// num_samples. Metrics of an empty score list are zero.
func ComputeStatistics(scores []float64, metrics []string) map[string]float64 {
	stats := map[string]float64{NumSamplesKey: float64(len(scores))}
	for _, metric := range metrics {
		stats[metric] = 0
	}
	if len(scores) == 0 {
		return stats
	}

	sorted := slices.Clone(scores)
	slices.Sort(sorted)

	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(len(scores))

	for _, metric := range metrics {
		switch metric {
		case "mean":
			stats[metric] = mean
		case "std":
			stats[metric] = populationStd(scores, mean)
		case "median":
			stats[metric] = median(sorted)
		case "min":
			stats[metric] = sorted[0]
		case "max":
			stats[metric] = sorted[len(sorted)-1]
		case "count":
			stats[metric] = float64(len(scores))
		}
	}
	return stats
}

func Mean(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

func populationStd(scores []float64, mean float64) float64 {
	variance := 0.0
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}
	return math.Sqrt(variance / float64(len(scores)))
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// WeightedAverage returns sum(values*weights)/sum(weights).
func WeightedAverage(values, weights []float64) (float64, error) {
	if len(values) != len(weights) {
		return 0, fmt.Errorf("got %d values and %d weights", len(values), len(weights))
	}

	var total, weightSum float64
	for i, v := range values {
		if weights[i] < 0 {
			return 0, fmt.Errorf("negative weight %v at index %d", weights[i], i)
		}
		total += v * weights[i]
		weightSum += weights[i]
	}
	if weightSum == 0 {
		return 0, fmt.Errorf("weights sum to zero")
	}
	return total / weightSum, nil
}
