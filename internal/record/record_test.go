package record

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validRecord() Record {
	return Record{
		ID:        "r1",
		Version:   1,
		UpdatedAt: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		Payload:   map[string]string{"k": "v"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Record)
		wantErr bool
	}{
		{
			name:    "valid record",
			mutate:  func(r *Record) {},
			wantErr: false,
		},
		{
			name:    "missing id",
			mutate:  func(r *Record) { r.ID = "" },
			wantErr: true,
		},
		{
			name:    "zero version",
			mutate:  func(r *Record) { r.Version = 0 },
			wantErr: true,
		},
		{
			name:    "negative version",
			mutate:  func(r *Record) { r.Version = -3 },
			wantErr: true,
		},
		{
			name:    "zero timestamp",
			mutate:  func(r *Record) { r.UpdatedAt = time.Time{} },
			wantErr: true,
		},
		{
			name:    "nil payload is fine",
			mutate:  func(r *Record) { r.Payload = nil },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			tt.mutate(&rec)
			err := rec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	orig := validRecord()
	clone := orig.Clone()

	clone.Payload["k"] = "changed"
	clone.Payload["new"] = "entry"

	if orig.Payload["k"] != "v" {
		t.Errorf("mutating clone changed original payload: %v", orig.Payload)
	}
	if len(orig.Payload) != 1 {
		t.Errorf("mutating clone grew original payload: %v", orig.Payload)
	}
}

func TestEqual(t *testing.T) {
	base := validRecord()

	tests := []struct {
		name   string
		mutate func(*Record)
		want   bool
	}{
		{"identical", func(r *Record) {}, true},
		{"different version", func(r *Record) { r.Version = 2 }, false},
		{"different payload value", func(r *Record) { r.Payload["k"] = "other" }, false},
		{"extra payload key", func(r *Record) { r.Payload["extra"] = "x" }, false},
		{"different timestamp", func(r *Record) { r.UpdatedAt = r.UpdatedAt.Add(time.Second) }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base.Clone()
			tt.mutate(&other)
			if got := base.Equal(other); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEqualDifferentLocations(t *testing.T) {
	// Same instant in different zones must still compare equal.
	a := validRecord()
	b := a.Clone()
	b.UpdatedAt = a.UpdatedAt.In(time.FixedZone("X", 3600))

	if !a.Equal(b) {
		t.Error("records at the same instant in different zones should be equal")
	}
}

func TestRecordFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rec := validRecord()

	if err := WriteRecordFile(dir, &rec); err != nil {
		t.Fatalf("WriteRecordFile failed: %v", err)
	}

	got, err := ReadRecordFile(filepath.Join(dir, rec.Filename()))
	if err != nil {
		t.Fatalf("ReadRecordFile failed: %v", err)
	}
	if !got.Equal(rec) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, rec)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 file in spool dir, got %d", len(entries))
	}
}

func TestReadRecordFileRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"not json", "not json at all"},
		{"missing id", `{"version": 1, "updated_at": "2026-03-14T12:00:00Z"}`},
		{"zero version", `{"id": "r1", "version": 0, "updated_at": "2026-03-14T12:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "bad.json")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write file: %v", err)
			}
			if _, err := ReadRecordFile(path); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestWriteRecordFileRejectsInvalid(t *testing.T) {
	rec := validRecord()
	rec.ID = ""
	if err := WriteRecordFile(t.TempDir(), &rec); err == nil {
		t.Error("expected error writing invalid record, got nil")
	}
}
