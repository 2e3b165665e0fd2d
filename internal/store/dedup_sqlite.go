package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Compile-time check that SQLiteStore implements DedupRepo.
var _ DedupRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) IsDuplicate(messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	var id string
	err := s.db.QueryRow(`SELECT message_id FROM inbound_dedup WHERE message_id = ?`, messageID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) RecordInbound(messageID string) (bool, error) {
	if messageID == "" {
		// Absent provider IDs are always processed.
		return true, nil
	}

	exists, err := s.IsDuplicate(messageID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO inbound_dedup (message_id, received_at) VALUES (?, ?)`,
		messageID, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}

	if err := s.evictDedupOverflow(); err != nil {
		// Eviction failure must not block processing of the current message.
		slog.Warn("SQLiteStore dedup eviction failed", "error", err)
	}
	return true, nil
}

// evictDedupOverflow trims the dedup set down to DedupTargetEntries once it
// exceeds DedupMaxEntries, retaining the most recently inserted IDs.
func (s *SQLiteStore) evictDedupOverflow() error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM inbound_dedup`).Scan(&count); err != nil {
		return fmt.Errorf("dedup count failed: %w", err)
	}
	if count <= DedupMaxEntries {
		return nil
	}
	_, err := s.db.Exec(
		`DELETE FROM inbound_dedup WHERE message_id NOT IN (
		     SELECT message_id FROM inbound_dedup ORDER BY received_at DESC LIMIT ?
		 )`, DedupTargetEntries,
	)
	if err != nil {
		return fmt.Errorf("dedup eviction failed: %w", err)
	}
	slog.Info("SQLiteStore dedup set trimmed", "before", count, "target", DedupTargetEntries)
	return nil
}
