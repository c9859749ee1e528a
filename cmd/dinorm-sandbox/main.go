// Command dinorm-sandbox runs a local development server emulating the
// DinORM /data REST surface, backed by the in-memory mock store or an
// optional bbolt file. Latency and failure injection flags make it usable
// for exercising client failure handling.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"

	"github.com/dinorm/dinorm_sdk_go/internal/devseed"
	"github.com/dinorm/dinorm_sdk_go/pkg/docstore"
	"github.com/dinorm/dinorm_sdk_go/pkg/docstore/mock"
)

type failConfig struct {
	rate float64
	code int
}

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	seed := flag.String("seed", "", "path to JSON seed file")
	dbPath := flag.String("db", "", "bbolt file for records that survive restarts (in-memory when empty)")
	latency := flag.Duration("latency", 0, "artificial latency to inject per request")
	fail := flag.String("fail", "", "failure injection (rate=<float>,code=<httpStatus>)")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()

	var store docstore.Backend
	if *dbPath != "" {
		bs, err := openBoltStore(*dbPath)
		if err != nil {
			log.Fatal().Err(err).Msg("open bolt store")
		}
		defer bs.Close()
		store = bs
	} else {
		store = mock.New()
	}

	if *seed != "" {
		entries, err := devseed.Load(*seed)
		if err != nil {
			log.Fatal().Err(err).Msg("load seed")
		}
		if err := seedStore(store, entries); err != nil {
			log.Fatal().Err(err).Msg("apply seed")
		}
		log.Info().Int("records", len(entries)).Msg("seeded store")
	}

	failCfg, err := parseFailConfig(*fail)
	if err != nil {
		log.Fatal().Err(err).Msg("parse fail flag")
	}

	srv := &http.Server{
		Addr:    *addr,
		Handler: withMiddleware(log, *latency, failCfg, newHandler(store)),
	}

	log.Info().Str("addr", *addr).Msg("dinorm-sandbox listening")
	host := *addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	fmt.Println()
	fmt.Println("export DINORM_RUNTIME_MODE=http")
	fmt.Printf("export DINORM_API_URL=http://%s\n", host)
	fmt.Println()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func newHandler(store docstore.Backend) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /data/add", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(payload.Value) == 0 {
			http.Error(w, "value is required", http.StatusBadRequest)
			return
		}
		key, err := store.Add(r.Context(), payload.Value)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"key": key})
	})

	mux.HandleFunc("GET /data/get/{key}", func(w http.ResponseWriter, r *http.Request) {
		value, err := store.Get(r.Context(), r.PathValue("key"))
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `{"value":null}`)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]json.RawMessage{"value": value})
	})

	mux.HandleFunc("PATCH /data/update/{key}", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err := store.Update(r.Context(), r.PathValue("key"), payload.Value)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /data/find", func(w http.ResponseWriter, r *http.Request) {
		query := make(docstore.Query, len(r.URL.Query()))
		for field, values := range r.URL.Query() {
			if len(values) > 0 {
				query[field] = parseParam(values[0])
			}
		}
		results, err := store.Find(r.Context(), query)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeResults(w, results)
	})

	mux.HandleFunc("POST /data/aggregate", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Pipeline docstore.Pipeline `json:"pipeline"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		results, err := store.Aggregate(r.Context(), payload.Pipeline)
		if err != nil {
			if errors.Is(err, docstore.ErrUnsupportedFeature) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeResults(w, results)
	})

	mux.HandleFunc("DELETE /data/delete/{key}", func(w http.ResponseWriter, r *http.Request) {
		err := store.Delete(r.Context(), r.PathValue("key"))
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})

	return mux
}

func withMiddleware(log zerolog.Logger, delay time.Duration, failCfg failConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		if delay > 0 {
			time.Sleep(delay)
		}
		if failCfg.rate > 0 && rand.Float64() < failCfg.rate {
			status := failCfg.code
			if status == 0 {
				status = http.StatusInternalServerError
			}
			log.Warn().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).
				Msg("failure injected")
			http.Error(w, "failure injected", status)
			return
		}
		next.ServeHTTP(w, r)
		log.Info().Str("method", r.Method).Str("path", r.URL.Path).
			Dur("elapsed", time.Since(started)).Msg("request")
	})
}

func seedStore(store docstore.Backend, entries []devseed.Entry) error {
	if m, ok := store.(*mock.Mock); ok {
		return m.Seed(entries)
	}
	if bs, ok := store.(*boltStore); ok {
		return bs.Seed(entries)
	}
	return fmt.Errorf("store does not support seeding")
}

// parseParam interprets a query parameter value the way find conditions are
// encoded by the client: JSON literals decode to their typed value, anything
// else stays a string.
func parseParam(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func writeResults(w http.ResponseWriter, results []json.RawMessage) {
	if results == nil {
		results = []json.RawMessage{}
	}
	writeJSON(w, map[string][]json.RawMessage{"results": results})
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func parseFailConfig(raw string) (failConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return failConfig{}, nil
	}
	cfg := failConfig{code: http.StatusInternalServerError}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		keyVal := strings.SplitN(part, "=", 2)
		if len(keyVal) != 2 {
			return failConfig{}, fmt.Errorf("invalid fail segment %q", part)
		}
		switch strings.TrimSpace(keyVal[0]) {
		case "rate":
			val, err := strconv.ParseFloat(strings.TrimSpace(keyVal[1]), 64)
			if err != nil {
				return failConfig{}, err
			}
			cfg.rate = val
		case "code":
			val, err := strconv.Atoi(strings.TrimSpace(keyVal[1]))
			if err != nil {
				return failConfig{}, err
			}
			cfg.code = val
		default:
			return failConfig{}, fmt.Errorf("unknown fail key %q", keyVal[0])
		}
	}
	return cfg, nil
}
