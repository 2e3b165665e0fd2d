package funnel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/glamlab/funnelbot/internal/models"
	"github.com/glamlab/funnelbot/internal/store"
)

// followupPayload is the JSON payload of a follow-up reminder job.
type followupPayload struct {
	Phone string `json:"phone"`
}

// followupKey is the job dedupe key: one pending reminder per lead, and the
// handle used to cancel it when the lead replies.
func followupKey(phone string) string {
	return "followup:" + phone
}

// armFollowup schedules the unanswered-intro reminder as a durable job.
func (e *Engine) armFollowup(phone string) error {
	payload, err := json.Marshal(followupPayload{Phone: phone})
	if err != nil {
		return fmt.Errorf("marshal follow-up payload: %w", err)
	}
	runAt := time.Now().Add(e.followupDelay)
	id, err := e.st.EnqueueJob(store.JobKindFollowupReminder, runAt, string(payload), followupKey(phone))
	if err != nil {
		return fmt.Errorf("enqueue follow-up for %s: %w", phone, err)
	}
	slog.Debug("Follow-up armed", "phone", phone, "job", id, "runAt", runAt)
	return nil
}

// RegisterJobHandlers wires the engine's job kinds into the runner.
func (e *Engine) RegisterJobHandlers(runner *store.JobRunner) {
	runner.RegisterHandler(store.JobKindFollowupReminder, e.handleFollowupJob)
}

// handleFollowupJob runs a due reminder. Leads that vanished, answered, or
// were already reminded are silent no-ops; cancellation on reply makes those
// rare but redeliveries and races keep the checks necessary.
func (e *Engine) handleFollowupJob(ctx context.Context, payload string) error {
	var p followupPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return fmt.Errorf("decode follow-up payload: %w", err)
	}

	mu := e.leadLock(p.Phone)
	mu.Lock()
	defer mu.Unlock()

	lead, err := e.st.GetLead(p.Phone)
	if err != nil {
		return fmt.Errorf("load lead %s: %w", p.Phone, err)
	}
	if lead == nil || lead.Answered || lead.ReminderSent {
		slog.Debug("Follow-up skipped", "phone", p.Phone, "exists", lead != nil)
		return nil
	}

	now := time.Now()
	sid, err := e.msg.SendTemplate(ctx, lead.Phone, e.templates.Reminder, nil)
	if err != nil {
		return fmt.Errorf("dispatch reminder to %s: %w", lead.Phone, err)
	}

	lead.ReminderSent = true
	lead.LastOutboundBody = "template:reminder"
	lead.LastOutboundAt = now
	lead.LastTemplateID = e.templates.Reminder
	lead.LastMessageSID = sid
	lead.UpdatedAt = now
	if err := e.st.SaveLead(*lead); err != nil {
		return fmt.Errorf("save lead %s: %w", lead.Phone, err)
	}
	if err := e.st.AddLogEntry(models.LogEntry{
		Timestamp:  now,
		Lead:       lead.Phone,
		Direction:  models.DirectionOutbound,
		Stage:      lead.Stage,
		Body:       "template:reminder",
		MessageSID: sid,
		TemplateID: e.templates.Reminder,
	}); err != nil {
		slog.Error("Follow-up log append failed", "phone", lead.Phone, "error", err)
	}

	slog.Info("Follow-up reminder sent", "phone", lead.Phone)
	return nil
}
