// Package store provides storage backends for funnelbot.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/glamlab/funnelbot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

// GetLead retrieves a lead by canonical phone, or nil if absent.
func (s *SQLiteStore) GetLead(phone string) (*models.Lead, error) {
	row := s.db.QueryRow(
		`SELECT phone, name, stage, answered, reminder_sent, last_inbound_body, last_outbound_body,
		        last_inbound_at, last_outbound_at, last_template_id, last_message_sid, created_at, updated_at
		 FROM leads WHERE phone = ?`, phone,
	)
	l, err := scanLeadRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetLead failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("get lead failed: %w", err)
	}
	return &l, nil
}

// SaveLead inserts or updates the lead record.
func (s *SQLiteStore) SaveLead(lead models.Lead) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO leads
		 (phone, name, stage, answered, reminder_sent, last_inbound_body, last_outbound_body,
		  last_inbound_at, last_outbound_at, last_template_id, last_message_sid, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.Phone, lead.Name, lead.Stage, lead.Answered, lead.ReminderSent,
		lead.LastInboundBody, lead.LastOutboundBody,
		nilIfZero(lead.LastInboundAt), nilIfZero(lead.LastOutboundAt),
		lead.LastTemplateID, lead.LastMessageSID, lead.CreatedAt, lead.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveLead failed", "error", err, "phone", lead.Phone)
		return fmt.Errorf("save lead %s failed: %w", lead.Phone, err)
	}
	slog.Debug("SQLiteStore SaveLead succeeded", "phone", lead.Phone, "stage", lead.Stage)
	return nil
}

// DeleteLead removes the lead and all of its log entries.
func (s *SQLiteStore) DeleteLead(phone string) error {
	if _, err := s.db.Exec(`DELETE FROM conversation_log WHERE lead = ?`, phone); err != nil {
		slog.Error("SQLiteStore DeleteLead log cascade failed", "error", err, "phone", phone)
		return fmt.Errorf("delete log entries for %s failed: %w", phone, err)
	}
	if _, err := s.db.Exec(`DELETE FROM leads WHERE phone = ?`, phone); err != nil {
		slog.Error("SQLiteStore DeleteLead failed", "error", err, "phone", phone)
		return fmt.Errorf("delete lead %s failed: %w", phone, err)
	}
	slog.Debug("SQLiteStore DeleteLead succeeded", "phone", phone)
	return nil
}

// ListLeads returns all leads, most recently updated first.
func (s *SQLiteStore) ListLeads() ([]models.Lead, error) {
	rows, err := s.db.Query(
		`SELECT phone, name, stage, answered, reminder_sent, last_inbound_body, last_outbound_body,
		        last_inbound_at, last_outbound_at, last_template_id, last_message_sid, created_at, updated_at
		 FROM leads ORDER BY updated_at DESC`,
	)
	if err != nil {
		slog.Error("SQLiteStore ListLeads query failed", "error", err)
		return nil, fmt.Errorf("list leads failed: %w", err)
	}
	defer rows.Close()

	var leads []models.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			// Malformed rows are skipped so one bad record cannot take the
			// whole listing down.
			slog.Warn("SQLiteStore ListLeads skipping malformed row", "error", err)
			continue
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list leads iteration failed: %w", err)
	}
	return leads, nil
}

// AddLogEntry appends one conversation event.
func (s *SQLiteStore) AddLogEntry(e models.LogEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO conversation_log (timestamp, lead, direction, stage, body, message_sid, template_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp, e.Lead, e.Direction, e.Stage, e.Body, nilIfEmpty(e.MessageSID), nilIfEmpty(e.TemplateID),
	)
	if err != nil {
		slog.Error("SQLiteStore AddLogEntry failed", "error", err, "lead", e.Lead, "direction", e.Direction)
		return fmt.Errorf("append log entry for %s failed: %w", e.Lead, err)
	}
	slog.Debug("SQLiteStore AddLogEntry succeeded", "lead", e.Lead, "direction", e.Direction, "stage", e.Stage)
	return nil
}

// ListLogEntries returns a lead's conversation log, timestamp ascending.
func (s *SQLiteStore) ListLogEntries(phone string) ([]models.LogEntry, error) {
	rows, err := s.db.Query(
		`SELECT timestamp, lead, direction, stage, body, message_sid, template_id
		 FROM conversation_log WHERE lead = ? ORDER BY timestamp ASC, id ASC`, phone,
	)
	if err != nil {
		slog.Error("SQLiteStore ListLogEntries query failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("list log entries for %s failed: %w", phone, err)
	}
	defer rows.Close()
	return collectLogEntries(rows)
}

// ListAllLogEntries returns every log entry, timestamp ascending.
func (s *SQLiteStore) ListAllLogEntries() ([]models.LogEntry, error) {
	rows, err := s.db.Query(
		`SELECT timestamp, lead, direction, stage, body, message_sid, template_id
		 FROM conversation_log ORDER BY timestamp ASC, id ASC`,
	)
	if err != nil {
		slog.Error("SQLiteStore ListAllLogEntries query failed", "error", err)
		return nil, fmt.Errorf("list all log entries failed: %w", err)
	}
	defer rows.Close()
	return collectLogEntries(rows)
}

// ReassignLogEntries moves all entries from one lead key to another.
func (s *SQLiteStore) ReassignLogEntries(fromPhone, toPhone string) error {
	_, err := s.db.Exec(`UPDATE conversation_log SET lead = ? WHERE lead = ?`, toPhone, fromPhone)
	if err != nil {
		slog.Error("SQLiteStore ReassignLogEntries failed", "error", err, "from", fromPhone, "to", toPhone)
		return fmt.Errorf("reassign log entries %s -> %s failed: %w", fromPhone, toPhone, err)
	}
	return nil
}

func collectLogEntries(rows *sql.Rows) ([]models.LogEntry, error) {
	var entries []models.LogEntry
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			slog.Warn("skipping malformed log entry row", "error", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("log entries iteration failed: %w", err)
	}
	return entries, nil
}

// AddIntakeRow enqueues a lead for initial outreach.
func (s *SQLiteStore) AddIntakeRow(row models.IntakeRow) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO lead_intake (name, phone, email, created_at) VALUES (?, ?, ?, ?)`,
		row.Name, row.Phone, row.Email, row.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore AddIntakeRow failed", "error", err, "phone", row.Phone)
		return 0, fmt.Errorf("add intake row failed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add intake row id failed: %w", err)
	}
	slog.Debug("SQLiteStore AddIntakeRow succeeded", "id", id, "phone", row.Phone)
	return id, nil
}

// ListPendingIntake returns rows not yet dispatched, oldest first.
func (s *SQLiteStore) ListPendingIntake(limit int) ([]models.IntakeRow, error) {
	rows, err := s.db.Query(
		`SELECT id, name, phone, email, created_at, dispatched_at, note
		 FROM lead_intake WHERE dispatched_at IS NULL ORDER BY id ASC LIMIT ?`, limit,
	)
	if err != nil {
		slog.Error("SQLiteStore ListPendingIntake query failed", "error", err)
		return nil, fmt.Errorf("list pending intake failed: %w", err)
	}
	defer rows.Close()

	var pending []models.IntakeRow
	for rows.Next() {
		r, err := scanIntakeRow(rows)
		if err != nil {
			slog.Warn("SQLiteStore ListPendingIntake skipping malformed row", "error", err)
			continue
		}
		pending = append(pending, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending intake iteration failed: %w", err)
	}
	return pending, nil
}

// MarkIntakeDispatched marks a row as handled so it is never re-sent.
func (s *SQLiteStore) MarkIntakeDispatched(id int64, note string) error {
	_, err := s.db.Exec(
		`UPDATE lead_intake SET dispatched_at = CURRENT_TIMESTAMP, note = ? WHERE id = ?`,
		nilIfEmpty(note), id,
	)
	if err != nil {
		slog.Error("SQLiteStore MarkIntakeDispatched failed", "error", err, "id", id)
		return fmt.Errorf("mark intake dispatched failed: %w", err)
	}
	return nil
}
