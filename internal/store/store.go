// Package store provides storage backends for funnelbot.
//
// The durable store is the single source of truth for lead state: there is
// no authoritative in-process cache. SQLite backs single-node deployments
// (default, file in the state directory) and PostgreSQL backs managed
// deployments; an in-memory implementation serves tests.
package store

import (
	"strings"

	"github.com/glamlab/funnelbot/internal/models"
)

// Store aggregates every persistence concern the funnel needs.
type Store interface {
	LeadRepo
	LogRepo
	DedupRepo
	JobRepo
	IntakeRepo

	// Close releases the underlying database resources.
	Close() error
}

// LeadRepo defines durable lead-record operations, keyed by canonical phone.
type LeadRepo interface {
	// GetLead returns the lead for the canonical phone, or nil if absent.
	GetLead(phone string) (*models.Lead, error)

	// SaveLead inserts or updates the lead record (upsert by phone).
	SaveLead(lead models.Lead) error

	// DeleteLead removes the lead and cascades to its log entries.
	DeleteLead(phone string) error

	// ListLeads returns all lead records, most recently updated first.
	ListLeads() ([]models.Lead, error)
}

// LogRepo defines the append-only conversation log.
type LogRepo interface {
	// AddLogEntry appends one conversation event. Entries are never mutated.
	AddLogEntry(e models.LogEntry) error

	// ListLogEntries returns a lead's log ordered by timestamp ascending.
	ListLogEntries(phone string) ([]models.LogEntry, error)

	// ListAllLogEntries returns every log entry ordered by timestamp ascending.
	ListAllLogEntries() ([]models.LogEntry, error)

	// ReassignLogEntries moves all entries from one lead key to another.
	// Used when duplicate lead records are merged.
	ReassignLogEntries(fromPhone, toPhone string) error
}

// IntakeRepo defines the operator-import queue that feeds initial outreach.
type IntakeRepo interface {
	// AddIntakeRow enqueues a lead for initial outreach and returns its ID.
	AddIntakeRow(row models.IntakeRow) (int64, error)

	// ListPendingIntake returns rows not yet dispatched, oldest first.
	ListPendingIntake(limit int) ([]models.IntakeRow, error)

	// MarkIntakeDispatched marks a row as handled so it is never re-sent.
	MarkIntakeDispatched(id int64, note string) error
}

// Opts holds shared configuration for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". Anything that
// does not look like a Postgres URL or key/value DSN is treated as a SQLite
// file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
