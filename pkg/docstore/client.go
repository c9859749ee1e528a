package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dinorm/dinorm_sdk_go/internal/dataapi"
	"github.com/dinorm/dinorm_sdk_go/internal/httpx"
)

// Client provides access to the DinORM /data REST API. Configuration is
// immutable after construction; the client holds no other state, so a single
// instance may be shared freely across goroutines.
type Client struct {
	backend Backend
	log     zerolog.Logger
}

// Option configures a Client during construction.
type Option func(*settings)

type settings struct {
	httpOpts  []httpx.Option
	logger    zerolog.Logger
	hasLogger bool
	debug     bool
}

// WithHTTPClient overrides the underlying *http.Client (timeouts, transport).
func WithHTTPClient(h *http.Client) Option {
	return func(s *settings) {
		s.httpOpts = append(s.httpOpts, httpx.WithHTTPClient(h))
	}
}

// WithHeaders assigns default headers added to every request.
func WithHeaders(h http.Header) Option {
	return func(s *settings) {
		s.httpOpts = append(s.httpOpts, httpx.WithHeaders(h))
	}
}

// WithRetryPolicy opts in to retrying transient failures. The default policy
// performs no retries.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(s *settings) {
		s.httpOpts = append(s.httpOpts, httpx.WithRetryPolicy(policy))
	}
}

// WithLogger assigns the logger used for request and error reporting.
func WithLogger(log zerolog.Logger) Option {
	return func(s *settings) {
		s.logger = log
		s.hasLogger = true
	}
}

// WithDebug enables line-oriented debug logging of statuses and bodies to
// standard output, matching the historical debug flag.
func WithDebug() Option {
	return func(s *settings) {
		s.debug = true
	}
}

// New constructs a Client bound to the provided base URL (scheme, host and
// port, e.g. "http://localhost:8000").
func New(baseURL string, opts ...Option) (*Client, error) {
	s := applyOptions(opts)
	cl, err := httpx.NewClient(baseURL, append(s.httpOpts, httpx.WithLogger(s.logger))...)
	if err != nil {
		return nil, err
	}
	return &Client{backend: &httpBackend{client: cl}, log: s.logger}, nil
}

// NewHostPort mirrors the historical {url, port} constructor: the base URL
// is assembled from a host (scheme optional, http assumed) and a port.
func NewHostPort(host string, port int, opts ...Option) (*Client, error) {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		return nil, errors.New("docstore: host is required")
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("docstore: invalid port %d", port)
	}
	return New(fmt.Sprintf("%s:%d", host, port), opts...)
}

// NewWithBackend allows callers to supply a custom backend (e.g. the
// in-memory mock). Only logging options apply.
func NewWithBackend(b Backend, opts ...Option) *Client {
	s := applyOptions(opts)
	return &Client{backend: b, log: s.logger}
}

func applyOptions(opts []Option) *settings {
	s := &settings{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.debug && !s.hasLogger {
		s.logger = zerolog.New(os.Stdout).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	}
	return s
}

// Create stores a new record and returns the server-assigned key.
func Create[T any](ctx context.Context, client *Client, value T) (string, error) {
	if client == nil || client.backend == nil {
		return "", errors.New("docstore: client is nil")
	}
	raw, err := jsonMarshal(value)
	if err != nil {
		return "", fmt.Errorf("docstore: encode value: %w", err)
	}
	return client.backend.Add(ctx, raw)
}

// Get retrieves the record stored under key and decodes it into T. Missing
// keys yield ErrNotFound.
func Get[T any](ctx context.Context, client *Client, key string) (*Item[T], error) {
	if client == nil || client.backend == nil {
		return nil, errors.New("docstore: client is nil")
	}
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("docstore: key is required")
	}
	data, err := client.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrNotFound
	}
	var value T
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return nil, fmt.Errorf("docstore: decode value: %w", err)
	}
	return &Item[T]{Key: key, Value: value}, nil
}

// Update replaces fields of the record stored under key. Merging of partial
// mappings happens service-side; the client never merges locally.
func Update[T any](ctx context.Context, client *Client, key string, value T) error {
	if client == nil || client.backend == nil {
		return errors.New("docstore: client is nil")
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("docstore: key is required")
	}
	raw, err := jsonMarshal(value)
	if err != nil {
		return fmt.Errorf("docstore: encode value: %w", err)
	}
	return client.backend.Update(ctx, key, raw)
}

// Find returns every record matching the filter mapping, decoded into T.
// An empty result is not an error.
func Find[T any](ctx context.Context, client *Client, query Query) ([]T, error) {
	if client == nil || client.backend == nil {
		return nil, errors.New("docstore: client is nil")
	}
	raws, err := client.backend.Find(ctx, query)
	if err != nil {
		return nil, err
	}
	return decodeResults[T](raws)
}

// FindOne returns the first record matching the filter mapping, or
// ErrNotFound when the result set is empty.
func FindOne[T any](ctx context.Context, client *Client, query Query) (*T, error) {
	results, err := Find[T](ctx, client, query)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}
	return &results[0], nil
}

// Aggregate runs the pipeline server-side and decodes the resulting
// documents into T.
func Aggregate[T any](ctx context.Context, client *Client, pipeline Pipeline) ([]T, error) {
	if client == nil || client.backend == nil {
		return nil, errors.New("docstore: client is nil")
	}
	raws, err := client.backend.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	return decodeResults[T](raws)
}

// Delete removes the record stored under key. Unlike the historical client,
// success is gated on the HTTP status; a missing key yields ErrNotFound.
func (c *Client) Delete(ctx context.Context, key string) error {
	if c == nil || c.backend == nil {
		return errors.New("docstore: client is nil")
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("docstore: key is required")
	}
	return c.backend.Delete(ctx, key)
}

// CreateJSON stores a pre-encoded JSON record and returns the new key.
func (c *Client) CreateJSON(ctx context.Context, payload json.RawMessage) (string, error) {
	if c == nil || c.backend == nil {
		return "", errors.New("docstore: client is nil")
	}
	if !json.Valid(payload) {
		return "", errors.New("docstore: payload is not valid JSON")
	}
	return c.backend.Add(ctx, payload)
}

// GetJSON fetches the raw JSON payload stored for a key.
func (c *Client) GetJSON(ctx context.Context, key string) (json.RawMessage, error) {
	if c == nil || c.backend == nil {
		return nil, errors.New("docstore: client is nil")
	}
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("docstore: key is required")
	}
	return c.backend.Get(ctx, key)
}

func decodeResults[T any](raws []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raws))
	for i, raw := range raws {
		var value T
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("docstore: decode result %d: %w", i, err)
		}
		out = append(out, value)
	}
	return out, nil
}

func jsonMarshal[T any](value T) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Backend abstracts the transport so alternative implementations (HTTP,
// in-memory mock, persistent sandbox store) can serve the same client API.
type Backend interface {
	Add(ctx context.Context, value json.RawMessage) (string, error)
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Update(ctx context.Context, key string, value json.RawMessage) error
	Find(ctx context.Context, query Query) ([]json.RawMessage, error)
	Aggregate(ctx context.Context, pipeline Pipeline) ([]json.RawMessage, error)
	Delete(ctx context.Context, key string) error
}

type httpBackend struct {
	client *httpx.Client
}

func (b *httpBackend) Add(ctx context.Context, value json.RawMessage) (string, error) {
	body, err := encodeJSON(map[string]any{"value": value})
	if err != nil {
		return "", err
	}
	resp, err := b.client.Do(ctx, &httpx.Request{
		Method: http.MethodPost,
		Path:   "data/add",
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   bytes.NewReader(body),
		GetBody: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		},
	})
	if err != nil {
		return "", err
	}
	data, err := httpx.ReadAllAndClose(resp.Body)
	if err != nil {
		return "", err
	}
	return dataapi.ExtractKey(data)
}

func (b *httpBackend) Get(ctx context.Context, key string) (json.RawMessage, error) {
	resp, err := b.client.Do(ctx, &httpx.Request{
		Method: http.MethodGet,
		Path:   "data/get/" + url.PathEscape(key),
	})
	if err != nil {
		return nil, mapNotFound(err)
	}
	data, err := httpx.ReadAllAndClose(resp.Body)
	if err != nil {
		return nil, err
	}
	value, err := dataapi.ExtractValue(data)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, ErrNotFound
	}
	return value, nil
}

func (b *httpBackend) Update(ctx context.Context, key string, value json.RawMessage) error {
	body, err := encodeJSON(map[string]any{"value": value})
	if err != nil {
		return err
	}
	resp, err := b.client.Do(ctx, &httpx.Request{
		Method: http.MethodPatch,
		Path:   "data/update/" + url.PathEscape(key),
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   bytes.NewReader(body),
		GetBody: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		},
	})
	if err != nil {
		return mapNotFound(err)
	}
	_ = resp.Body.Close()
	return nil
}

func (b *httpBackend) Find(ctx context.Context, query Query) ([]json.RawMessage, error) {
	params, err := encodeQuery(query)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(ctx, &httpx.Request{
		Method: http.MethodGet,
		Path:   "data/find",
		Query:  params,
	})
	if err != nil {
		return nil, err
	}
	data, err := httpx.ReadAllAndClose(resp.Body)
	if err != nil {
		return nil, err
	}
	return dataapi.ExtractResults(data)
}

func (b *httpBackend) Aggregate(ctx context.Context, pipeline Pipeline) ([]json.RawMessage, error) {
	body, err := encodeJSON(map[string]any{"pipeline": pipeline})
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(ctx, &httpx.Request{
		Method: http.MethodPost,
		Path:   "data/aggregate",
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   bytes.NewReader(body),
		GetBody: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		},
	})
	if err != nil {
		return nil, err
	}
	data, err := httpx.ReadAllAndClose(resp.Body)
	if err != nil {
		return nil, err
	}
	return dataapi.ExtractResults(data)
}

func (b *httpBackend) Delete(ctx context.Context, key string) error {
	resp, err := b.client.Do(ctx, &httpx.Request{
		Method: http.MethodDelete,
		Path:   "data/delete/" + url.PathEscape(key),
	})
	if err != nil {
		return mapNotFound(err)
	}
	_ = resp.Body.Close()
	return nil
}

// encodeQuery flattens the filter mapping into URL query parameters. String
// values pass through as-is; everything else is carried as its JSON text so
// the service receives the condition verbatim.
func encodeQuery(query Query) (url.Values, error) {
	params := make(url.Values, len(query))
	for field, cond := range query {
		switch v := cond.(type) {
		case string:
			params.Set(field, v)
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("docstore: encode query field %q: %w", field, err)
			}
			params.Set(field, string(raw))
		}
	}
	return params, nil
}

func mapNotFound(err error) error {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, http.StatusText(http.StatusNotFound))
	}
	return err
}

func encodeJSON(payload any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
