// Package record provides the data model for edgesync records.
package record

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Record is a single versioned key-value document tracked by the sync engine.
//
// Version is monotonic per id: every write observed by the store, whether a
// local mutation or a remote merge, carries a version greater than or equal
// to the one before it. UpdatedAt is a wall-clock hint used only as a
// conflict tiebreak signal; it is not required to be monotonic across devices.
type Record struct {
	ID        string            `json:"id"`
	Version   int64             `json:"version"`
	UpdatedAt time.Time         `json:"updated_at"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// Validate checks if the Record has valid field values.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.Version < 1 {
		return fmt.Errorf("version must be 1 or greater (got %d)", r.Version)
	}
	if r.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// Clone returns a deep copy of the record. The payload map is copied so the
// caller can mutate the clone without affecting store-held state.
func (r *Record) Clone() Record {
	out := *r
	if r.Payload != nil {
		out.Payload = make(map[string]string, len(r.Payload))
		for k, v := range r.Payload {
			out.Payload[k] = v
		}
	}
	return out
}

// Equal reports whether two records are identical in all fields, including
// payload contents. Timestamps compare with time.Time.Equal so differing
// monotonic clocks don't produce false negatives.
func (r *Record) Equal(other Record) bool {
	if r.ID != other.ID || r.Version != other.Version || !r.UpdatedAt.Equal(other.UpdatedAt) {
		return false
	}
	if len(r.Payload) != len(other.Payload) {
		return false
	}
	for k, v := range r.Payload {
		if ov, ok := other.Payload[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Filename returns the canonical spool filename for this record: {id}.json
func (r *Record) Filename() string {
	return fmt.Sprintf("%s.json", r.ID)
}

// ReadRecordFile reads and parses a record JSON file from the given path.
// Returns the parsed Record or an error if reading/parsing/validation fails.
func ReadRecordFile(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record file %s: %w", path, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record file %s: %w", path, err)
	}

	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid record in %s: %w", path, err)
	}

	return &rec, nil
}

// WriteRecordFile writes a record as JSON to dir/{id}.json.
// The write goes through a temp file and rename so watchers never observe
// a partially written record.
func WriteRecordFile(dir string, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	tmp := filepath.Join(dir, "."+rec.Filename()+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write record file: %w", err)
	}

	final := filepath.Join(dir, rec.Filename())
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize record file: %w", err)
	}

	return nil
}
