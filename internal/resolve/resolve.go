// Package resolve implements conflict resolution between local and remote
// copies of the same record.
//
// Resolution is last-writer-wins at record granularity. The resolver never
// merges fields and never fabricates a third value: the winner is always one
// of the two inputs, returned unmodified. Ties keep the local record, which
// makes resolution deterministic across repeated deliveries of the same
// remote batch.
package resolve

import "github.com/driftlab/edgesync/internal/record"

// Policy selects how a local/remote pair is resolved.
type Policy string

const (
	// HighestVersionWins picks the record with the strictly greater version.
	// This is the default policy.
	HighestVersionWins Policy = "highest_version"

	// LastWriteWins picks the record with the later UpdatedAt timestamp.
	LastWriteWins Policy = "last_write"
)

// ParsePolicy converts a config string into a Policy.
// Unknown names fall back to HighestVersionWins.
func ParsePolicy(name string) Policy {
	switch Policy(name) {
	case LastWriteWins:
		return LastWriteWins
	default:
		return HighestVersionWins
	}
}

// Resolve returns the winner between a local and a remote record sharing the
// same id. Inputs are never mutated. On an exact tie the local record wins.
func Resolve(policy Policy, local, remote record.Record) record.Record {
	switch policy {
	case LastWriteWins:
		if remote.UpdatedAt.After(local.UpdatedAt) {
			return remote
		}
		return local
	default:
		if remote.Version > local.Version {
			return remote
		}
		return local
	}
}
