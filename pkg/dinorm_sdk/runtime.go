package dinorm_sdk

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dinorm/dinorm_sdk_go/internal/devseed"
	"github.com/dinorm/dinorm_sdk_go/pkg/docstore"
	"github.com/dinorm/dinorm_sdk_go/pkg/docstore/mock"
)

const (
	envMode     = "DINORM_RUNTIME_MODE"
	envAPIURL   = "DINORM_API_URL"
	envMockSeed = "DINORM_MOCK_SEED"
	envDebug    = "DINORM_DEBUG"

	modeAuto = "auto"
	modeHTTP = "http"
	modeMock = "mock"
)

// NewFromEnv initialises a docstore client based on DinORM environment
// variables and returns the resolved mode ("http" or "mock").
func NewFromEnv() (client *docstore.Client, mode string, err error) {
	mode = strings.ToLower(strings.TrimSpace(os.Getenv(envMode)))
	baseURL := strings.TrimSpace(os.Getenv(envAPIURL))

	var opts []docstore.Option
	if debugEnabled() {
		opts = append(opts, docstore.WithDebug())
	}

	switch mode {
	case "", modeAuto:
		if baseURL != "" {
			return newHTTPClient(baseURL, opts)
		}
		return newMockClient(opts)
	case modeHTTP:
		if baseURL == "" {
			return nil, "", fmt.Errorf("dinorm_sdk: HTTP mode requires %s", envAPIURL)
		}
		return newHTTPClient(baseURL, opts)
	case modeMock:
		return newMockClient(opts)
	default:
		return nil, "", fmt.Errorf("dinorm_sdk: unsupported %s value %q", envMode, mode)
	}
}

func newHTTPClient(baseURL string, opts []docstore.Option) (*docstore.Client, string, error) {
	client, err := docstore.New(baseURL, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("dinorm_sdk: init HTTP client: %w", err)
	}
	return client, modeHTTP, nil
}

func newMockClient(opts []docstore.Option) (*docstore.Client, string, error) {
	store := mock.New()
	if path := strings.TrimSpace(os.Getenv(envMockSeed)); path != "" {
		entries, err := devseed.Load(path)
		if err != nil {
			return nil, "", fmt.Errorf("dinorm_sdk: load mock seed: %w", err)
		}
		if err := store.Seed(entries); err != nil {
			return nil, "", fmt.Errorf("dinorm_sdk: apply mock seed: %w", err)
		}
	}
	return docstore.NewWithBackend(store, opts...), modeMock, nil
}

func debugEnabled() bool {
	raw := strings.TrimSpace(os.Getenv(envDebug))
	if raw == "" {
		return false
	}
	enabled, err := strconv.ParseBool(raw)
	return err == nil && enabled
}
