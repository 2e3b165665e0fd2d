// Package models defines the core data structures for funnelbot.
//
// It includes the lead record, the conversation log entry, and the stage
// enumeration shared across modules.
package models

import (
	"errors"
	"time"
)

// Stage represents a lead's position in the scripted conversation funnel.
type Stage string

const (
	// StageStart is the initial stage after the intro message is sent.
	StageStart Stage = "start"
	// StageNutrition is the warm-up content stage.
	StageNutrition Stage = "nutrition"
	// StageCase is the success-case story stage.
	StageCase Stage = "case"
	// StageRecovery is reached after a negative reply. Not terminal: an
	// affirmative reply re-enters the funnel at the projection stage.
	StageRecovery Stage = "recovery"
	// StageProjection is the earnings-projection stage.
	StageProjection Stage = "projection"
	// StageOffer details the paid program.
	StageOffer Stage = "offer"
	// StageCheckout is where the payment link is sent.
	StageCheckout Stage = "checkout"
	// StageEnd is terminal: the lead declined past the recovery path.
	StageEnd Stage = "end"
	// StagePurchased is terminal: the lead bought the program.
	StagePurchased Stage = "purchased"
)

// DefaultLeadName is the placeholder display name used until a lead's real
// name is known.
const DefaultLeadName = "profissional"

// Error variables for better error handling and testability.
var (
	ErrLeadNotFound  = errors.New("lead not found")
	ErrEmptyName     = errors.New("name is required")
	ErrEmptyPhone    = errors.New("phone is required")
	ErrInvalidStage  = errors.New("invalid stage")
	ErrTerminalStage = errors.New("lead is in a terminal stage")
)

// IsValidStage checks if the given stage is one of the funnel stages.
func IsValidStage(s Stage) bool {
	switch s {
	case StageStart, StageNutrition, StageCase, StageRecovery,
		StageProjection, StageOffer, StageCheckout, StageEnd, StagePurchased:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are possible from s.
func (s Stage) IsTerminal() bool {
	return s == StageEnd || s == StagePurchased
}

// Lead is a prospective customer tracked through the funnel. Exactly one
// record exists per canonical phone address; numbers that differ only in
// formatting collapse to the same record.
type Lead struct {
	Phone            string    `json:"phone"` // canonical address, e.g. "whatsapp:+5511999999999"
	Name             string    `json:"name"`
	Stage            Stage     `json:"stage"`
	Answered         bool      `json:"answered"`
	ReminderSent     bool      `json:"reminder_sent"`
	LastInboundBody  string    `json:"last_inbound_body,omitempty"`
	LastOutboundBody string    `json:"last_outbound_body,omitempty"`
	LastInboundAt    time.Time `json:"last_inbound_at,omitempty"`
	LastOutboundAt   time.Time `json:"last_outbound_at,omitempty"`
	LastTemplateID   string    `json:"last_template_id,omitempty"`
	LastMessageSID   string    `json:"last_message_sid,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// OutreachRequest is the operator/form trigger that starts the funnel for a
// new lead.
type OutreachRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Validate checks the required outreach fields. Phone format validation is
// the normalizer's job; this only rejects empty input.
func (r *OutreachRequest) Validate() error {
	if r.Name == "" {
		return ErrEmptyName
	}
	if r.Phone == "" {
		return ErrEmptyPhone
	}
	return nil
}
