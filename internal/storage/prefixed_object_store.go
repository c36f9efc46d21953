package storage

import (
	"context"
	"io"
	"path"
	"strings"
)

// PrefixedObjectStore scopes another store to the keys under prefix. Queued
// runs share one artifact store and each gets its own prefix.
type PrefixedObjectStore struct {
	store  ObjectStore
	prefix string
}

var _ ObjectStore = (*PrefixedObjectStore)(nil)

func NewPrefixedObjectStore(store ObjectStore, prefix string) *PrefixedObjectStore {
	return &PrefixedObjectStore{store: store, prefix: strings.Trim(prefix, "/")}
}

func (s *PrefixedObjectStore) key(key string) string {
	return path.Join(s.prefix, key)
}

func (s *PrefixedObjectStore) PutObject(ctx context.Context, key string, data io.Reader) error {
	return s.store.PutObject(ctx, s.key(key), data)
}

func (s *PrefixedObjectStore) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.store.GetObject(ctx, s.key(key))
}

func (s *PrefixedObjectStore) ListObjects(ctx context.Context, prefix string) ([]Object, error) {
	objs, err := s.store.ListObjects(ctx, s.key(prefix))
	if err != nil {
		return nil, err
	}
	for i := range objs {
		objs[i].Name = strings.TrimPrefix(strings.TrimPrefix(objs[i].Name, s.prefix), "/")
	}
	return objs, nil
}

func (s *PrefixedObjectStore) DeleteObjects(ctx context.Context, prefix string) error {
	return s.store.DeleteObjects(ctx, s.key(prefix))
}

func (s *PrefixedObjectStore) Location(key string) string {
	return s.store.Location(s.key(key))
}
