package store

import (
	"fmt"
	"log/slog"
	"time"
)

// IsDuplicate reports whether the inbound message ID has been seen before.
func (s *PostgresStore) IsDuplicate(messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM inbound_dedup WHERE message_id = $1`, messageID).Scan(&count)
	if err != nil {
		slog.Error("PostgresStore IsDuplicate query failed", "error", err, "message_id", messageID)
		return false, fmt.Errorf("dedup lookup failed: %w", err)
	}
	return count > 0, nil
}

// RecordInbound records an inbound message ID and reports whether it was
// already present. Empty IDs are never duplicates and are not recorded.
func (s *PostgresStore) RecordInbound(messageID string) (bool, error) {
	if messageID == "" {
		return true, nil
	}
	dup, err := s.IsDuplicate(messageID)
	if err != nil {
		return false, err
	}
	if dup {
		slog.Debug("PostgresStore RecordInbound duplicate", "message_id", messageID)
		return false, nil
	}
	_, err = s.db.Exec(
		`INSERT INTO inbound_dedup (message_id, received_at) VALUES ($1, $2) ON CONFLICT (message_id) DO NOTHING`,
		messageID, time.Now(),
	)
	if err != nil {
		slog.Error("PostgresStore RecordInbound insert failed", "error", err, "message_id", messageID)
		return false, fmt.Errorf("record inbound %s failed: %w", messageID, err)
	}
	if err := s.evictDedupOverflow(); err != nil {
		// Eviction keeps the set bounded; a failure here must not block the message.
		slog.Warn("PostgresStore dedup eviction failed", "error", err)
	}
	return true, nil
}

// evictDedupOverflow trims the dedup set down to DedupTargetEntries, keeping
// the most recently recorded IDs, once it exceeds DedupMaxEntries.
func (s *PostgresStore) evictDedupOverflow() error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM inbound_dedup`).Scan(&count); err != nil {
		return fmt.Errorf("dedup count failed: %w", err)
	}
	if count <= DedupMaxEntries {
		return nil
	}
	res, err := s.db.Exec(
		`DELETE FROM inbound_dedup WHERE message_id NOT IN
		 (SELECT message_id FROM inbound_dedup ORDER BY received_at DESC LIMIT $1)`,
		DedupTargetEntries,
	)
	if err != nil {
		return fmt.Errorf("dedup eviction failed: %w", err)
	}
	evicted, _ := res.RowsAffected()
	slog.Debug("PostgresStore dedup overflow evicted", "evicted", evicted, "kept", DedupTargetEntries)
	return nil
}
