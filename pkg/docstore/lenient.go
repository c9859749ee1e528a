package docstore

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Lenient is a convenience view over a Client that restores the historical
// error model: every transport or status failure is swallowed and collapsed
// to a null/false/empty sentinel. Callers that need to distinguish "not
// found" from "service unreachable" should use the Client API directly;
// here the detail is visible only through debug logging.
type Lenient struct {
	client *Client
	log    zerolog.Logger
}

// Lenient returns the collapsing view of the client.
func (c *Client) Lenient() *Lenient {
	return &Lenient{client: c, log: c.log}
}

// Create stores a record and returns its key, or "" on any failure.
func (l *Lenient) Create(ctx context.Context, record Record) string {
	key, err := Create(ctx, l.client, record)
	if err != nil {
		l.swallow("create", err)
		return ""
	}
	return key
}

// Get returns the record stored under key, or nil when absent or on any
// failure.
func (l *Lenient) Get(ctx context.Context, key string) Record {
	item, err := Get[Record](ctx, l.client, key)
	if err != nil {
		l.swallow("get", err)
		return nil
	}
	return item.Value
}

// Update reports whether the record stored under key was updated.
func (l *Lenient) Update(ctx context.Context, key string, record Record) bool {
	if err := Update(ctx, l.client, key, record); err != nil {
		l.swallow("update", err)
		return false
	}
	return true
}

// Find returns the records matching the query; never nil, empty on any
// failure.
func (l *Lenient) Find(ctx context.Context, query Query) []Record {
	results, err := Find[Record](ctx, l.client, query)
	if err != nil {
		l.swallow("find", err)
		return []Record{}
	}
	if results == nil {
		return []Record{}
	}
	return results
}

// FindOne returns the first record matching the query, or nil when none
// match or on any failure.
func (l *Lenient) FindOne(ctx context.Context, query Query) Record {
	result, err := FindOne[Record](ctx, l.client, query)
	if err != nil {
		l.swallow("findOne", err)
		return nil
	}
	return *result
}

// Aggregate returns the pipeline results; never nil, empty on any failure.
func (l *Lenient) Aggregate(ctx context.Context, pipeline Pipeline) []Record {
	results, err := Aggregate[Record](ctx, l.client, pipeline)
	if err != nil {
		l.swallow("aggregate", err)
		return []Record{}
	}
	if results == nil {
		return []Record{}
	}
	return results
}

// Delete reports whether the record stored under key was deleted.
func (l *Lenient) Delete(ctx context.Context, key string) bool {
	if err := l.client.Delete(ctx, key); err != nil {
		l.swallow("delete", err)
		return false
	}
	return true
}

func (l *Lenient) swallow(op string, err error) {
	if errors.Is(err, ErrNotFound) {
		l.log.Debug().Str("op", op).Msg("no match")
		return
	}
	l.log.Debug().Str("op", op).Err(err).Msg("operation failed")
}
