package pagination

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Envelope is the paginated response body of every list endpoint.
// A null link decodes to the empty string.
type Envelope struct {
	Count    int                   `json:"count"`
	Next     string                `json:"next"`
	Previous string                `json:"previous"`
	Results  []jsoniter.RawMessage `json:"results"`
}

// HasNext reports whether the server announced another page.
func (e *Envelope) HasNext() bool {
	return e != nil && e.Next != ""
}

// DecodeEnvelope parses a response body.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Results == nil {
		env.Results = []jsoniter.RawMessage{}
	}
	return &env, nil
}

// DecodeResults unmarshals raw results into typed records.
func DecodeResults[T any](raw []jsoniter.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raw))
	for i, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			return out, fmt.Errorf("decode result %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
