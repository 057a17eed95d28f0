package devseed

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Entry describes a key/value pair to preload into a store. Keys meant for
// hash operations carry a JSON object as their value.
type Entry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Load reads JSON seed data from disk. The file is expected to contain an
// array of Entry objects. An empty path yields no entries.
func Load(path string) ([]Entry, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("devseed: read seed: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("devseed: decode seed: %w", err)
	}
	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if strings.TrimSpace(e.Key) == "" {
			return nil, fmt.Errorf("devseed: entry %d missing key", i)
		}
		if _, dup := seen[e.Key]; dup {
			return nil, fmt.Errorf("devseed: duplicate key %q", e.Key)
		}
		seen[e.Key] = struct{}{}
	}
	return entries, nil
}
