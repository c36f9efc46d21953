package core

import (
	"editbench/internal/core/types"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

var ErrDataLoad = errors.New("error loading benchmark data")

type Benchmark struct {
	// Categories in configured order.
	Categories []string
	Pairs      map[string][]types.Pair
}

func (b *Benchmark) NumPairs() int {
	total := 0
	for _, pairs := range b.Pairs {
		total += len(pairs)
	}
	return total
}

// LoadBenchmark reads benchmark pairs for the given categories. path is
// either a JSON file mapping category to pairs, or a directory holding one
// <category>.json file per category with a list of pairs.
func LoadBenchmark(path string, categories []string) (*Benchmark, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataLoad, err)
	}

	var all map[string][]types.Pair
	if info.IsDir() {
		all, err = loadCategoryFiles(path, categories)
	} else {
		all, err = loadBenchmarkFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataLoad, err)
	}

	bench := &Benchmark{Categories: categories, Pairs: make(map[string][]types.Pair, len(categories))}
	seen := map[string]string{}

	for _, category := range categories {
		pairs, ok := all[category]
		if !ok {
			return nil, fmt.Errorf("%w: category '%s' not found in %s", ErrDataLoad, category, path)
		}

		for i := range pairs {
			if pairs[i].Id == "" {
				pairs[i].Id = fmt.Sprintf("%s_%d", category, i)
			}
			if prev, dup := seen[pairs[i].Id]; dup {
				return nil, fmt.Errorf("%w: pair id '%s' appears in both '%s' and '%s'", ErrDataLoad, pairs[i].Id, prev, category)
			}
			seen[pairs[i].Id] = category
		}

		bench.Pairs[category] = pairs
		slog.Info("loaded benchmark category", "category", category, "pairs", len(pairs))
	}

	return bench, nil
}

func loadBenchmarkFile(path string) (map[string][]types.Pair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var all map[string][]types.Pair
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}
	return all, nil
}

func loadCategoryFiles(dir string, categories []string) (map[string][]types.Pair, error) {
	all := make(map[string][]types.Pair, len(categories))
	for _, category := range categories {
		path := filepath.Join(dir, category+".json")

		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}

		var pairs []types.Pair
		if err := json.Unmarshal(data, &pairs); err != nil {
			return nil, fmt.Errorf("error parsing %s: %w", path, err)
		}
		all[category] = pairs
	}
	return all, nil
}
