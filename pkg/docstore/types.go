package docstore

import (
	"errors"

	"github.com/dinorm/dinorm_sdk_go/internal/httpx"
)

// Record is an opaque mapping of fields stored under a server-generated key.
type Record = map[string]any

// Query is a mapping of filter conditions forwarded verbatim to the service.
type Query = map[string]any

// Pipeline is an ordered list of aggregation stage descriptors forwarded
// verbatim to the service.
type Pipeline = []map[string]any

// Item represents a fetched record together with its key.
type Item[T any] struct {
	Key   string
	Value T
}

// RetryPolicy aliases the transport retry configuration so callers can opt
// in to retries without importing internal packages.
type RetryPolicy = httpx.RetryPolicy

// HTTPError aliases the transport status error for callers that inspect the
// status code or body of a failed call.
type HTTPError = httpx.HTTPError

var (
	// ErrNotFound is returned when a key or query has no matching record.
	ErrNotFound = errors.New("docstore: not found")
	// ErrUnsupportedFeature indicates the backend does not implement the
	// requested capability (e.g. an aggregation stage the mock lacks).
	ErrUnsupportedFeature = errors.New("docstore: unsupported feature")
)
