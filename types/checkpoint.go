package types

import "time"

// Checkpoint is the persisted resume position of one partition.
// Cursor is opaque to everyone except the owning provider adapter.
type Checkpoint struct {
	PartitionID   string    `json:"partition_id"`
	Cursor        string    `json:"cursor"`
	LastSuccessAt time.Time `json:"last_success_at"`
}

// DedupRecord is one remembered fingerprint.
type DedupRecord struct {
	Fingerprint string    `json:"fingerprint"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}
