package mock_test

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dinorm/dinorm_sdk_go/internal/devseed"
	"github.com/dinorm/dinorm_sdk_go/pkg/docstore"
	"github.com/dinorm/dinorm_sdk_go/pkg/docstore/mock"
)

func sequential() (mock.Option, *int) {
	seq := 0
	return mock.WithKeyFunc(func() string {
		seq++
		return "k" + strconv.Itoa(seq)
	}), &seq
}

func TestMockCRUD(t *testing.T) {
	opt, _ := sequential()
	store := mock.New(opt)
	ctx := context.Background()

	key, err := store.Add(ctx, json.RawMessage(`{"name":"A","role":"admin"}`))
	require.NoError(t, err)
	assert.Equal(t, "k1", key)
	assert.Equal(t, 1, store.Len())

	value, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"A","role":"admin"}`, string(value))

	// Partial update merges into the stored record.
	require.NoError(t, store.Update(ctx, key, json.RawMessage(`{"name":"B"}`)))
	value, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"B","role":"admin"}`, string(value))

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, key), docstore.ErrNotFound)
	assert.ErrorIs(t, store.Update(ctx, key, json.RawMessage(`{}`)), docstore.ErrNotFound)
}

func TestMockAddRejectsInvalidJSON(t *testing.T) {
	store := mock.New()
	_, err := store.Add(context.Background(), json.RawMessage(`{broken`))
	assert.Error(t, err)
}

func TestMockFind(t *testing.T) {
	opt, _ := sequential()
	store := mock.New(opt)
	ctx := context.Background()

	for _, doc := range []string{
		`{"name":"A","age":30}`,
		`{"name":"B","age":30}`,
		`{"name":"C","age":40}`,
	} {
		_, err := store.Add(ctx, json.RawMessage(doc))
		require.NoError(t, err)
	}

	results, err := store.Find(ctx, docstore.Query{"age": 30})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.JSONEq(t, `{"name":"A","age":30}`, string(results[0]))
	assert.JSONEq(t, `{"name":"B","age":30}`, string(results[1]))

	// int and float conditions compare equal through JSON encoding.
	results, err = store.Find(ctx, docstore.Query{"age": float64(40)})
	require.NoError(t, err)
	require.Len(t, results, 1)

	results, err = store.Find(ctx, docstore.Query{"age": 30, "name": "B"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.JSONEq(t, `{"name":"B","age":30}`, string(results[0]))

	results, err = store.Find(ctx, docstore.Query{"missing": "x"})
	require.NoError(t, err)
	assert.Empty(t, results)

	// Empty query matches everything.
	results, err = store.Find(ctx, docstore.Query{})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestMockAggregate(t *testing.T) {
	opt, _ := sequential()
	store := mock.New(opt)
	ctx := context.Background()

	for _, doc := range []string{
		`{"name":"C","age":40}`,
		`{"name":"A","age":30}`,
		`{"name":"D","age":50}`,
		`{"name":"B","age":30}`,
	} {
		_, err := store.Add(ctx, json.RawMessage(doc))
		require.NoError(t, err)
	}

	results, err := store.Aggregate(ctx, docstore.Pipeline{
		{"$match": map[string]any{"age": 30}},
		{"$sort": map[string]any{"name": 1}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.JSONEq(t, `{"name":"A","age":30}`, string(results[0]))
	assert.JSONEq(t, `{"name":"B","age":30}`, string(results[1]))

	results, err = store.Aggregate(ctx, docstore.Pipeline{
		{"$sort": map[string]any{"age": -1}},
		{"$skip": 1},
		{"$limit": 2},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.JSONEq(t, `{"name":"C","age":40}`, string(results[0]))

	results, err = store.Aggregate(ctx, docstore.Pipeline{
		{"$match": map[string]any{"age": 30}},
		{"$count": "total"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.JSONEq(t, `{"total":2}`, string(results[0]))

	// Empty pipeline passes every document through.
	results, err = store.Aggregate(ctx, docstore.Pipeline{})
	require.NoError(t, err)
	assert.Len(t, results, 4)
}

func TestMockAggregateRejectsUnknownStage(t *testing.T) {
	store := mock.New()
	_, err := store.Aggregate(context.Background(), docstore.Pipeline{
		{"$group": map[string]any{"_id": "$age"}},
	})
	assert.ErrorIs(t, err, docstore.ErrUnsupportedFeature)

	_, err = store.Aggregate(context.Background(), docstore.Pipeline{
		{"$match": map[string]any{}, "$limit": 1},
	})
	assert.Error(t, err)
}

func TestMockSeed(t *testing.T) {
	store := mock.New()
	err := store.Seed([]devseed.Entry{
		{Key: "fixed", Value: json.RawMessage(`{"name":"seeded"}`)},
	})
	require.NoError(t, err)

	value, err := store.Get(context.Background(), "fixed")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"seeded"}`, string(value))

	assert.Error(t, store.Seed([]devseed.Entry{{Key: "  "}}))
}

func TestMockMerge(t *testing.T) {
	merged, err := mock.Merge(
		json.RawMessage(`{"name":"A","age":30}`),
		json.RawMessage(`{"name":"B","role":"admin"}`),
	)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"B","age":30,"role":"admin"}`, string(merged))

	_, err = mock.Merge(json.RawMessage(`{"ok":true}`), json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}
