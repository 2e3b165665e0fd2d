// Package models defines the conversation log structures for funnelbot.
package models

import "time"

// Direction indicates who produced a conversation log entry.
type Direction string

const (
	// DirectionInbound is a message received from the lead.
	DirectionInbound Direction = "inbound"
	// DirectionOutbound is a message sent to the lead.
	DirectionOutbound Direction = "outbound"
	// DirectionSystem is an operator or system event (e.g. marked purchased).
	DirectionSystem Direction = "system"
)

// LogEntry is one append-only conversation event. Entries are never mutated
// or reordered after append; per lead they are totally ordered by timestamp.
type LogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Lead       string    `json:"lead"` // canonical phone address
	Direction  Direction `json:"direction"`
	Stage      Stage     `json:"stage"` // stage at the time of the event
	Body       string    `json:"body"`
	MessageSID string    `json:"message_sid,omitempty"`
	TemplateID string    `json:"template_id,omitempty"`
}

// InboundMessage is a raw inbound webhook event from the messaging provider.
type InboundMessage struct {
	MessageSID string `json:"message_sid"`
	From       string `json:"from"`
	Body       string `json:"body"`
	Time       int64  `json:"time"` // unix seconds
}

// Receipt records the outcome of an outbound dispatch attempt.
type Receipt struct {
	To         string `json:"to"`
	TemplateID string `json:"template_id"`
	Status     string `json:"status"`
	Time       int64  `json:"time"`
}

// Receipt status values.
const (
	MessageStatusSent   = "sent"
	MessageStatusFailed = "failed"
)

// IntakeRow is an operator-imported lead waiting for its initial outreach.
// Rows are claimed by the intake poller and marked dispatched exactly once.
type IntakeRow struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Phone        string     `json:"phone"`
	Email        string     `json:"email,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	Note         string     `json:"note,omitempty"` // dispatch outcome, e.g. "invalid phone"
}
