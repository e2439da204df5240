package record

// SyncResult summarizes one completed sync cycle.
//
// It has last-result semantics: the engine overwrites it each cycle rather
// than appending to a log. A degraded cycle (failed upload or download leg)
// still produces a result, just with lower counts.
type SyncResult struct {
	// Uploaded is the number of records the remote authority confirmed
	// accepted this cycle.
	Uploaded int `json:"uploaded"`

	// Downloaded is the number of remote records received this cycle.
	Downloaded int `json:"downloaded"`

	// Conflicts is the number of downloaded records whose resolution
	// differed from the local value.
	Conflicts int `json:"conflicts"`
}
