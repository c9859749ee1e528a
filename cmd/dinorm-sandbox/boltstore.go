package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/dinorm/dinorm_sdk_go/internal/devseed"
	"github.com/dinorm/dinorm_sdk_go/pkg/docstore"
	"github.com/dinorm/dinorm_sdk_go/pkg/docstore/mock"
)

var recordsBucket = []byte("records")

// boltStore is a file-backed docstore.Backend so sandbox records survive
// restarts. Query and aggregate semantics are shared with the in-memory
// mock; iteration order is lexical by key rather than insertion order.
type boltStore struct {
	db *bolt.DB
}

func openBoltStore(path string) (*boltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Close() error {
	return s.db.Close()
}

// Seed stores entries under their fixed keys, overwriting existing records.
func (s *boltStore) Seed(entries []devseed.Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		for _, e := range entries {
			if err := b.Put([]byte(e.Key), e.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *boltStore) Add(ctx context.Context, value json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !json.Valid(value) {
		return "", fmt.Errorf("value is not valid JSON")
	}
	key := uuid.NewString()
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).Put([]byte(key), value)
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (s *boltStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value json.RawMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(recordsBucket).Get([]byte(key))
		if data == nil {
			return docstore.ErrNotFound
		}
		value = append(json.RawMessage(nil), data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *boltStore) Update(ctx context.Context, key string, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		current := b.Get([]byte(key))
		if current == nil {
			return docstore.ErrNotFound
		}
		merged, err := mock.Merge(current, value)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), merged)
	})
}

func (s *boltStore) Find(ctx context.Context, query docstore.Query) ([]json.RawMessage, error) {
	docs, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		if mock.Matches(doc, query) {
			raw, err := json.Marshal(doc)
			if err != nil {
				return nil, err
			}
			out = append(out, raw)
		}
	}
	return out, nil
}

func (s *boltStore) Aggregate(ctx context.Context, pipeline docstore.Pipeline) ([]json.RawMessage, error) {
	docs, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	results, err := mock.ApplyPipeline(docs, pipeline)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(results))
	for _, doc := range results {
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func (s *boltStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		if b.Get([]byte(key)) == nil {
			return docstore.ErrNotFound
		}
		return b.Delete([]byte(key))
	})
}

func (s *boltStore) snapshot(ctx context.Context) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var docs []map[string]any
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).ForEach(func(k, v []byte) error {
			var doc map[string]any
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("decode record %q: %w", k, err)
			}
			docs = append(docs, doc)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}
