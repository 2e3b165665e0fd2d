package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/glamlab/funnelbot/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nilIfZero returns nil if t is the zero time, otherwise returns t.
func nilIfZero(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// scanLead scans a Lead from sql.Rows.
func scanLead(rows *sql.Rows) (models.Lead, error) {
	var l models.Lead
	var lastInboundAt, lastOutboundAt sql.NullTime
	err := rows.Scan(
		&l.Phone, &l.Name, &l.Stage, &l.Answered, &l.ReminderSent,
		&l.LastInboundBody, &l.LastOutboundBody, &lastInboundAt, &lastOutboundAt,
		&l.LastTemplateID, &l.LastMessageSID, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return l, fmt.Errorf("scan lead failed: %w", err)
	}
	if lastInboundAt.Valid {
		l.LastInboundAt = lastInboundAt.Time
	}
	if lastOutboundAt.Valid {
		l.LastOutboundAt = lastOutboundAt.Time
	}
	return l, nil
}

// scanLeadRow scans a Lead from a single sql.Row.
func scanLeadRow(row *sql.Row) (models.Lead, error) {
	var l models.Lead
	var lastInboundAt, lastOutboundAt sql.NullTime
	err := row.Scan(
		&l.Phone, &l.Name, &l.Stage, &l.Answered, &l.ReminderSent,
		&l.LastInboundBody, &l.LastOutboundBody, &lastInboundAt, &lastOutboundAt,
		&l.LastTemplateID, &l.LastMessageSID, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return l, err
	}
	if lastInboundAt.Valid {
		l.LastInboundAt = lastInboundAt.Time
	}
	if lastOutboundAt.Valid {
		l.LastOutboundAt = lastOutboundAt.Time
	}
	return l, nil
}

// scanLogEntry scans a LogEntry from sql.Rows.
func scanLogEntry(rows *sql.Rows) (models.LogEntry, error) {
	var e models.LogEntry
	var messageSID, templateID sql.NullString
	err := rows.Scan(&e.Timestamp, &e.Lead, &e.Direction, &e.Stage, &e.Body, &messageSID, &templateID)
	if err != nil {
		return e, fmt.Errorf("scan log entry failed: %w", err)
	}
	e.MessageSID = messageSID.String
	e.TemplateID = templateID.String
	return e, nil
}

// scanJob scans a Job from sql.Rows.
func scanJob(rows *sql.Rows) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := rows.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, fmt.Errorf("scan job failed: %w", err)
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}

// scanJobRow scans a Job from a single sql.Row.
func scanJobRow(row *sql.Row) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, err
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}

// scanIntakeRow scans an IntakeRow from sql.Rows.
func scanIntakeRow(rows *sql.Rows) (models.IntakeRow, error) {
	var r models.IntakeRow
	var dispatchedAt sql.NullTime
	var note sql.NullString
	err := rows.Scan(&r.ID, &r.Name, &r.Phone, &r.Email, &r.CreatedAt, &dispatchedAt, &note)
	if err != nil {
		return r, fmt.Errorf("scan intake row failed: %w", err)
	}
	if dispatchedAt.Valid {
		r.DispatchedAt = &dispatchedAt.Time
	}
	r.Note = note.String
	return r, nil
}
