package funnel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glamlab/funnelbot/internal/models"
	"github.com/glamlab/funnelbot/internal/phone"
)

// DedupeLeads collapses lead records whose phones normalize to the same
// canonical address. Legacy rows keyed by un-normalized numbers end up
// merged into one record: the most recently updated record wins its fields,
// answered/reminder flags are OR-ed, the earliest creation time is kept and
// log entries are reassigned. Returns the number of records removed.
func (e *Engine) DedupeLeads(ctx context.Context) (int, error) {
	leads, err := e.st.ListLeads()
	if err != nil {
		return 0, fmt.Errorf("list leads: %w", err)
	}

	groups := make(map[string][]models.Lead)
	for _, l := range leads {
		canonical, err := phone.Normalize(l.Phone)
		if err != nil {
			slog.Warn("DedupeLeads skipping unparseable record", "phone", l.Phone, "error", err)
			continue
		}
		groups[canonical] = append(groups[canonical], l)
	}

	removed := 0
	for canonical, group := range groups {
		if len(group) == 1 && group[0].Phone == canonical {
			continue
		}

		// ListLeads orders by updated_at descending, so the first record in
		// each group is the freshest.
		winner := group[0]
		merged := winner
		merged.Phone = canonical
		for _, l := range group[1:] {
			merged.Answered = merged.Answered || l.Answered
			merged.ReminderSent = merged.ReminderSent || l.ReminderSent
			if !l.CreatedAt.IsZero() && (merged.CreatedAt.IsZero() || l.CreatedAt.Before(merged.CreatedAt)) {
				merged.CreatedAt = l.CreatedAt
			}
		}

		if err := e.st.SaveLead(merged); err != nil {
			return removed, fmt.Errorf("save merged lead %s: %w", canonical, err)
		}
		for _, l := range group {
			if l.Phone == canonical {
				continue
			}
			if err := e.st.ReassignLogEntries(l.Phone, canonical); err != nil {
				return removed, fmt.Errorf("reassign log %s -> %s: %w", l.Phone, canonical, err)
			}
			if err := e.st.DeleteLead(l.Phone); err != nil {
				return removed, fmt.Errorf("delete stale record %s: %w", l.Phone, err)
			}
			removed++
		}
		slog.Info("Merged duplicate lead records", "canonical", canonical, "merged", len(group))
	}

	return removed, nil
}
