package core

import (
	"bytes"
	"context"
	"editbench/internal/storage"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Checkpoint records which pairs are done. PairScores was added after the
// first checkpoint format; ids listed without a score are run again on
// resume.
type Checkpoint struct {
	ProcessedPairIds []string           `json:"processed_pair_ids"`
	PairScores       map[string]float64 `json:"pair_scores,omitempty"`

	processed map[string]struct{}
}

func NewCheckpoint() *Checkpoint {
	return &Checkpoint{
		ProcessedPairIds: []string{},
		PairScores:       map[string]float64{},
		processed:        map[string]struct{}{},
	}
}

func (c *Checkpoint) IsProcessed(pairId string) bool {
	_, ok := c.processed[pairId]
	return ok
}

func (c *Checkpoint) Score(pairId string) (float64, bool) {
	score, ok := c.PairScores[pairId]
	return score, ok
}

func (c *Checkpoint) Record(pairId string, score float64) {
	if !c.IsProcessed(pairId) {
		c.processed[pairId] = struct{}{}
		c.ProcessedPairIds = append(c.ProcessedPairIds, pairId)
	}
	c.PairScores[pairId] = score
}

func (c *Checkpoint) Len() int {
	return len(c.processed)
}

// LoadCheckpoint reads the checkpoint at key. A missing checkpoint is an
// empty one.
func LoadCheckpoint(ctx context.Context, store storage.ObjectStore, key string) (*Checkpoint, error) {
	obj, err := store.GetObject(ctx, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		slog.Info("no checkpoint found, starting fresh", "checkpoint", store.Location(key))
		return NewCheckpoint(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("error opening checkpoint: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("error reading checkpoint: %w", err)
	}

	ckpt := NewCheckpoint()
	if err := json.Unmarshal(data, ckpt); err != nil {
		return nil, fmt.Errorf("error parsing checkpoint %s: %w", store.Location(key), err)
	}
	if ckpt.PairScores == nil {
		ckpt.PairScores = map[string]float64{}
	}

	ids := ckpt.ProcessedPairIds
	ckpt.ProcessedPairIds = make([]string, 0, len(ids))
	for _, id := range ids {
		if !ckpt.IsProcessed(id) {
			ckpt.processed[id] = struct{}{}
			ckpt.ProcessedPairIds = append(ckpt.ProcessedPairIds, id)
		}
	}

	slog.Info("loaded checkpoint", "checkpoint", store.Location(key), "processed_pairs", ckpt.Len())
	return ckpt, nil
}

func (c *Checkpoint) Save(ctx context.Context, store storage.ObjectStore, key string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding checkpoint: %w", err)
	}
	if err := store.PutObject(ctx, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("error saving checkpoint: %w", err)
	}
	return nil
}
