// Package store provides storage backends for funnelbot.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/glamlab/funnelbot/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}

// GetLead retrieves a lead by canonical phone, or nil if absent.
func (s *PostgresStore) GetLead(phone string) (*models.Lead, error) {
	row := s.db.QueryRow(
		`SELECT phone, name, stage, answered, reminder_sent, last_inbound_body, last_outbound_body,
		        last_inbound_at, last_outbound_at, last_template_id, last_message_sid, created_at, updated_at
		 FROM leads WHERE phone = $1`, phone,
	)
	l, err := scanLeadRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetLead failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("get lead failed: %w", err)
	}
	return &l, nil
}

// SaveLead inserts or updates the lead record.
func (s *PostgresStore) SaveLead(lead models.Lead) error {
	_, err := s.db.Exec(
		`INSERT INTO leads
		 (phone, name, stage, answered, reminder_sent, last_inbound_body, last_outbound_body,
		  last_inbound_at, last_outbound_at, last_template_id, last_message_sid, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (phone) DO UPDATE SET
		   name = EXCLUDED.name,
		   stage = EXCLUDED.stage,
		   answered = EXCLUDED.answered,
		   reminder_sent = EXCLUDED.reminder_sent,
		   last_inbound_body = EXCLUDED.last_inbound_body,
		   last_outbound_body = EXCLUDED.last_outbound_body,
		   last_inbound_at = EXCLUDED.last_inbound_at,
		   last_outbound_at = EXCLUDED.last_outbound_at,
		   last_template_id = EXCLUDED.last_template_id,
		   last_message_sid = EXCLUDED.last_message_sid,
		   updated_at = EXCLUDED.updated_at`,
		lead.Phone, lead.Name, lead.Stage, lead.Answered, lead.ReminderSent,
		lead.LastInboundBody, lead.LastOutboundBody,
		nilIfZero(lead.LastInboundAt), nilIfZero(lead.LastOutboundAt),
		lead.LastTemplateID, lead.LastMessageSID, lead.CreatedAt, lead.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore SaveLead failed", "error", err, "phone", lead.Phone)
		return fmt.Errorf("save lead %s failed: %w", lead.Phone, err)
	}
	slog.Debug("PostgresStore SaveLead succeeded", "phone", lead.Phone, "stage", lead.Stage)
	return nil
}

// DeleteLead removes the lead and all of its log entries.
func (s *PostgresStore) DeleteLead(phone string) error {
	if _, err := s.db.Exec(`DELETE FROM conversation_log WHERE lead = $1`, phone); err != nil {
		slog.Error("PostgresStore DeleteLead log cascade failed", "error", err, "phone", phone)
		return fmt.Errorf("delete log entries for %s failed: %w", phone, err)
	}
	if _, err := s.db.Exec(`DELETE FROM leads WHERE phone = $1`, phone); err != nil {
		slog.Error("PostgresStore DeleteLead failed", "error", err, "phone", phone)
		return fmt.Errorf("delete lead %s failed: %w", phone, err)
	}
	slog.Debug("PostgresStore DeleteLead succeeded", "phone", phone)
	return nil
}

// ListLeads returns all leads, most recently updated first.
func (s *PostgresStore) ListLeads() ([]models.Lead, error) {
	rows, err := s.db.Query(
		`SELECT phone, name, stage, answered, reminder_sent, last_inbound_body, last_outbound_body,
		        last_inbound_at, last_outbound_at, last_template_id, last_message_sid, created_at, updated_at
		 FROM leads ORDER BY updated_at DESC`,
	)
	if err != nil {
		slog.Error("PostgresStore ListLeads query failed", "error", err)
		return nil, fmt.Errorf("list leads failed: %w", err)
	}
	defer rows.Close()

	var leads []models.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			slog.Warn("PostgresStore ListLeads skipping malformed row", "error", err)
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
func (s *PostgresStore) AddLogEntry(e models.LogEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO conversation_log (timestamp, lead, direction, stage, body, message_sid, template_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.Timestamp, e.Lead, e.Direction, e.Stage, e.Body, nilIfEmpty(e.MessageSID), nilIfEmpty(e.TemplateID),
	)
	if err != nil {
		slog.Error("PostgresStore AddLogEntry failed", "error", err, "lead", e.Lead, "direction", e.Direction)
		return fmt.Errorf("append log entry for %s failed: %w", e.Lead, err)
	}
	slog.Debug("PostgresStore AddLogEntry succeeded", "lead", e.Lead, "direction", e.Direction, "stage", e.Stage)
	return nil
}

// ListLogEntries returns a lead's conversation log, timestamp ascending.
func (s *PostgresStore) ListLogEntries(phone string) ([]models.LogEntry, error) {
	rows, err := s.db.Query(
		`SELECT timestamp, lead, direction, stage, body, message_sid, template_id
		 FROM conversation_log WHERE lead = $1 ORDER BY timestamp ASC, id ASC`, phone,
	)
	if err != nil {
		slog.Error("PostgresStore ListLogEntries query failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("list log entries for %s failed: %w", phone, err)
	}
	defer rows.Close()
	return collectLogEntries(rows)
}

// ListAllLogEntries returns every log entry, timestamp ascending.
func (s *PostgresStore) ListAllLogEntries() ([]models.LogEntry, error) {
	rows, err := s.db.Query(
		`SELECT timestamp, lead, direction, stage, body, message_sid, template_id
		 FROM conversation_log ORDER BY timestamp ASC, id ASC`,
	)
	if err != nil {
		slog.Error("PostgresStore ListAllLogEntries query failed", "error", err)
		return nil, fmt.Errorf("list all log entries failed: %w", err)
	}
	defer rows.Close()
	return collectLogEntries(rows)
}

// ReassignLogEntries moves all entries from one lead key to another.
func (s *PostgresStore) ReassignLogEntries(fromPhone, toPhone string) error {
	_, err := s.db.Exec(`UPDATE conversation_log SET lead = $1 WHERE lead = $2`, toPhone, fromPhone)
	if err != nil {
		slog.Error("PostgresStore ReassignLogEntries failed", "error", err, "from", fromPhone, "to", toPhone)
		return fmt.Errorf("reassign log entries %s -> %s failed: %w", fromPhone, toPhone, err)
	}
	return nil
}

// AddIntakeRow enqueues a lead for initial outreach.
func (s *PostgresStore) AddIntakeRow(row models.IntakeRow) (int64, error) {
	var id int64
	err := s.db.QueryRow(
		`INSERT INTO lead_intake (name, phone, email, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		row.Name, row.Phone, row.Email, row.CreatedAt,
	).Scan(&id)
	if err != nil {
		slog.Error("PostgresStore AddIntakeRow failed", "error", err, "phone", row.Phone)
		return 0, fmt.Errorf("add intake row failed: %w", err)
	}
	slog.Debug("PostgresStore AddIntakeRow succeeded", "id", id, "phone", row.Phone)
	return id, nil
}

// ListPendingIntake returns rows not yet dispatched, oldest first.
func (s *PostgresStore) ListPendingIntake(limit int) ([]models.IntakeRow, error) {
	rows, err := s.db.Query(
		`SELECT id, name, phone, email, created_at, dispatched_at, note
		 FROM lead_intake WHERE dispatched_at IS NULL ORDER BY id ASC LIMIT $1`, limit,
	)
	if err != nil {
		slog.Error("PostgresStore ListPendingIntake query failed", "error", err)
		return nil, fmt.Errorf("list pending intake failed: %w", err)
	}
	defer rows.Close()

	var pending []models.IntakeRow
	for rows.Next() {
		r, err := scanIntakeRow(rows)
		if err != nil {
			slog.Warn("PostgresStore ListPendingIntake skipping malformed row", "error", err)
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
func (s *PostgresStore) MarkIntakeDispatched(id int64, note string) error {
	_, err := s.db.Exec(
		`UPDATE lead_intake SET dispatched_at = NOW(), note = $1 WHERE id = $2`,
		nilIfEmpty(note), id,
	)
	if err != nil {
		slog.Error("PostgresStore MarkIntakeDispatched failed", "error", err, "id", id)
		return fmt.Errorf("mark intake dispatched failed: %w", err)
	}
	return nil
}
