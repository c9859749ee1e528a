// Package devseed loads JSON seed files used to pre-populate the in-memory
// mock store and the sandbox server during development.
package devseed

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Entry is a single seeded record: a key plus its raw JSON value.
type Entry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Load reads a seed file containing a JSON array of entries.
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("devseed: read %s: %w", path, err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("devseed: parse %s: %w", path, err)
	}

	for i, e := range entries {
		if strings.TrimSpace(e.Key) == "" {
			return nil, fmt.Errorf("devseed: entry %d missing key", i)
		}
	}
	return entries, nil
}
