// Package dataapi decodes the response envelopes returned by the DinORM
// /data REST endpoints. Every response is a plain JSON object; the envelope
// field consumed depends on the operation ("key" for add, "value" for get,
// "results" for find and aggregate).
package dataapi

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ExtractKey returns the server-assigned key from an add response.
func ExtractKey(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("dataapi: empty add response")
	}

	var envelope struct {
		Key *string `json:"key"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return "", fmt.Errorf("dataapi: decode add response: %w", err)
	}
	if envelope.Key == nil || *envelope.Key == "" {
		return "", fmt.Errorf("dataapi: add response missing key field")
	}
	return *envelope.Key, nil
}

// ExtractValue returns the raw JSON stored under the "value" field of a get
// response. A missing or null value yields a nil payload and no error.
func ExtractValue(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var envelope struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("dataapi: decode get response: %w", err)
	}
	value := bytes.TrimSpace(envelope.Value)
	if len(value) == 0 || bytes.Equal(value, []byte("null")) {
		return nil, nil
	}
	return append(json.RawMessage(nil), value...), nil
}

// ExtractResults returns the elements of the "results" array of a find or
// aggregate response. A missing or null array yields a nil slice.
func ExtractResults(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var envelope struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("dataapi: decode results response: %w", err)
	}

	out := make([]json.RawMessage, 0, len(envelope.Results))
	for _, raw := range envelope.Results {
		out = append(out, append(json.RawMessage(nil), raw...))
	}
	return out, nil
}
