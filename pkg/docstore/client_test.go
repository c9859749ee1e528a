package docstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/dinorm/dinorm_sdk_go/pkg/docstore"
)

type person struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
	Age  int    `json:"age,omitempty"`
}

// dataServer emulates the /data REST surface with just enough behaviour for
// client tests: sequential keys, service-side merge and equality filtering.
type dataServer struct {
	mu    sync.Mutex
	store map[string]map[string]any
	order []string
	seq   int
}

func newDataServer(t *testing.T) (*httptest.Server, *dataServer) {
	t.Helper()
	ds := &dataServer{store: map[string]map[string]any{}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /data/add", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Value map[string]any `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ds.mu.Lock()
		ds.seq++
		key := "k" + strconv.Itoa(ds.seq)
		ds.store[key] = payload.Value
		ds.order = append(ds.order, key)
		ds.mu.Unlock()
		writeJSON(w, map[string]string{"key": key})
	})
	mux.HandleFunc("GET /data/get/{key}", func(w http.ResponseWriter, r *http.Request) {
		ds.mu.Lock()
		doc, ok := ds.store[r.PathValue("key")]
		ds.mu.Unlock()
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"value":null}`)
			return
		}
		writeJSON(w, map[string]any{"value": doc})
	})
	mux.HandleFunc("PATCH /data/update/{key}", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Value map[string]any `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ds.mu.Lock()
		doc, ok := ds.store[r.PathValue("key")]
		if ok {
			for field, v := range payload.Value {
				doc[field] = v
			}
		}
		ds.mu.Unlock()
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /data/find", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"results": ds.match(r.URL.Query())})
	})
	mux.HandleFunc("POST /data/aggregate", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Pipeline []map[string]any `json:"pipeline"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// Only $match is emulated here; enough to verify the wire shape.
		params := url.Values{}
		if len(payload.Pipeline) > 0 {
			if match, ok := payload.Pipeline[0]["$match"].(map[string]any); ok {
				for field, v := range match {
					raw, _ := json.Marshal(v)
					params.Set(field, string(raw))
				}
			}
		}
		writeJSON(w, map[string]any{"results": ds.match(params)})
	})
	mux.HandleFunc("DELETE /data/delete/{key}", func(w http.ResponseWriter, r *http.Request) {
		ds.mu.Lock()
		_, ok := ds.store[r.PathValue("key")]
		delete(ds.store, r.PathValue("key"))
		ds.mu.Unlock()
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, ds
}

func (ds *dataServer) match(params url.Values) []map[string]any {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	results := make([]map[string]any, 0)
	for _, key := range ds.order {
		doc, ok := ds.store[key]
		if !ok {
			continue
		}
		matched := true
		for field, values := range params {
			if len(values) == 0 {
				continue
			}
			var cond any
			if err := json.Unmarshal([]byte(values[0]), &cond); err != nil {
				cond = values[0]
			}
			got, _ := json.Marshal(doc[field])
			want, _ := json.Marshal(cond)
			if string(got) != string(want) {
				matched = false
				break
			}
		}
		if matched {
			results = append(results, doc)
		}
	}
	return results
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func TestClientCRUDRoundTrip(t *testing.T) {
	srv, _ := newDataServer(t)
	client, err := docstore.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	key, err := docstore.Create(ctx, client, person{Name: "A", Role: "admin"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if key != "k1" {
		t.Fatalf("unexpected key %q", key)
	}

	item, err := docstore.Get[person](ctx, client, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item.Key != key || item.Value.Name != "A" {
		t.Fatalf("Get returned unexpected item: %#v", item)
	}

	// Partial update: the service merges, the client must not.
	if err := docstore.Update(ctx, client, key, map[string]any{"name": "B"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	item, err = docstore.Get[person](ctx, client, key)
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if item.Value.Name != "B" || item.Value.Role != "admin" {
		t.Fatalf("expected merged record, got %#v", item.Value)
	}

	if err := client.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := docstore.Get[person](ctx, client, key); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := client.Delete(ctx, key); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for double delete, got %v", err)
	}
}

func TestClientFindAndFindOne(t *testing.T) {
	srv, _ := newDataServer(t)
	client, err := docstore.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	for _, p := range []person{
		{Name: "A", Age: 30},
		{Name: "B", Age: 30},
		{Name: "C", Age: 40},
	} {
		if _, err := docstore.Create(ctx, client, p); err != nil {
			t.Fatalf("Create %s: %v", p.Name, err)
		}
	}

	results, err := docstore.Find[person](ctx, client, docstore.Query{"age": 30})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(results) != 2 || results[0].Name != "A" || results[1].Name != "B" {
		t.Fatalf("Find returned unexpected results: %#v", results)
	}

	first, err := docstore.FindOne[person](ctx, client, docstore.Query{"age": 30})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if first.Name != results[0].Name {
		t.Fatalf("FindOne %q does not match first Find result %q", first.Name, results[0].Name)
	}

	if _, err := docstore.FindOne[person](ctx, client, docstore.Query{"age": 99}); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty result, got %v", err)
	}
}

func TestClientAggregate(t *testing.T) {
	srv, _ := newDataServer(t)
	client, err := docstore.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	for _, p := range []person{{Name: "A", Age: 30}, {Name: "C", Age: 40}} {
		if _, err := docstore.Create(ctx, client, p); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	pipeline := docstore.Pipeline{{"$match": map[string]any{"age": 40}}}
	results, err := docstore.Aggregate[person](ctx, client, pipeline)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(results) != 1 || results[0].Name != "C" {
		t.Fatalf("Aggregate returned unexpected results: %#v", results)
	}
}

func TestClientStatusCheckedBeforeParse(t *testing.T) {
	// A failing status with a non-JSON body must surface as an HTTP error,
	// never as a parse error.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := docstore.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = docstore.Get[person](context.Background(), client, "k1")
	var httpErr *docstore.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("unexpected status %d", httpErr.StatusCode)
	}
	if errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("502 must not map to ErrNotFound")
	}
}

func TestClientRawJSON(t *testing.T) {
	srv, _ := newDataServer(t)
	client, err := docstore.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	key, err := client.CreateJSON(ctx, json.RawMessage(`{"name":"raw"}`))
	if err != nil {
		t.Fatalf("CreateJSON: %v", err)
	}
	raw, err := client.GetJSON(ctx, key)
	if err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal raw payload: %v", err)
	}
	if doc["name"] != "raw" {
		t.Fatalf("unexpected payload %s", raw)
	}

	if _, err := client.CreateJSON(ctx, json.RawMessage(`{not json`)); err == nil {
		t.Fatalf("expected error for invalid payload")
	}
}

func TestNewHostPort(t *testing.T) {
	srv, _ := newDataServer(t)
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	client, err := docstore.NewHostPort(u.Hostname(), port)
	if err != nil {
		t.Fatalf("NewHostPort: %v", err)
	}
	if _, err := docstore.Create(context.Background(), client, person{Name: "A"}); err != nil {
		t.Fatalf("Create via NewHostPort: %v", err)
	}

	if _, err := docstore.NewHostPort("", 8000); err == nil {
		t.Fatalf("expected error for empty host")
	}
	if _, err := docstore.NewHostPort("localhost", 0); err == nil {
		t.Fatalf("expected error for invalid port")
	}
}
