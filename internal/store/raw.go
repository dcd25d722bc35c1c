package store

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/ski-resort-crawler/internal/model"
)

// EncodeRaw serializes the provenance map for a JSON column. A nil map encodes as {}.
func EncodeRaw(raw map[string]model.Provenance) ([]byte, error) {
	if raw == nil {
		raw = map[string]model.Provenance{}
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode raw provenance: %w", err)
	}
	return b, nil
}

// DecodeRaw parses a JSON provenance column. Empty input yields an empty map.
func DecodeRaw(b []byte) (map[string]model.Provenance, error) {
	out := map[string]model.Provenance{}
	if len(b) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode raw provenance: %w", err)
	}
	return out, nil
}
