// Package store provides the DedupRepo interface for inbound message deduplication.
package store

// Bounds for the processed-message-ID set. Eviction runs as a side effect of
// RecordInbound: once the set exceeds DedupMaxEntries it is trimmed down to
// DedupTargetEntries, retaining the most recently inserted identifiers.
const (
	DedupMaxEntries    = 5000
	DedupTargetEntries = 4000
)

// DedupRepo defines the interface for inbound message deduplication. The
// messaging provider delivers webhooks at least once; this set is what keeps
// a redelivered message from re-running the funnel.
type DedupRepo interface {
	// IsDuplicate checks if a message ID has already been recorded.
	// Empty IDs are never duplicates.
	IsDuplicate(messageID string) (bool, error)

	// RecordInbound inserts a new inbound message ID, evicting the oldest
	// entries if the set outgrew its bound. Returns false if the ID was
	// already recorded (duplicate). Empty IDs are accepted but not recorded.
	RecordInbound(messageID string) (bool, error)
}
