// Package intake dispatches operator-imported leads into the funnel. Leads
// land in the intake queue through the API (bulk import) and a poller picks
// them up and starts outreach, marking each row so it is never re-sent.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glamlab/funnelbot/internal/funnel"
	"github.com/glamlab/funnelbot/internal/phone"
	"github.com/glamlab/funnelbot/internal/store"
)

// DefaultBatchSize bounds how many rows one poll dispatches.
const DefaultBatchSize = 20

// Poller drains pending intake rows into the funnel.
type Poller struct {
	st        store.IntakeRepo
	engine    *funnel.Engine
	batchSize int
}

// NewPoller creates an intake poller on the given store and engine.
func NewPoller(st store.IntakeRepo, engine *funnel.Engine) *Poller {
	return &Poller{st: st, engine: engine, batchSize: DefaultBatchSize}
}

// Poll dispatches one batch of pending rows. Rows with invalid phones are
// marked with an error note instead of blocking the queue; transient
// outreach failures leave the row pending for the next poll. Returns the
// number of rows successfully dispatched.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	pending, err := p.st.ListPendingIntake(p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending intake: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	dispatched := 0
	for _, row := range pending {
		canonical, err := p.engine.StartIntakeOutreach(ctx, row.Name, row.Phone)
		if err != nil {
			if errors.Is(err, phone.ErrInvalidPhone) {
				slog.Warn("Intake row has invalid phone, marking dispatched", "id", row.ID, "phone", row.Phone)
				if err := p.st.MarkIntakeDispatched(row.ID, "invalid phone: "+row.Phone); err != nil {
					slog.Error("Intake mark-dispatched failed", "id", row.ID, "error", err)
				}
				continue
			}
			// Transient: leave the row pending and retry next poll.
			slog.Error("Intake outreach failed, leaving pending", "id", row.ID, "error", err)
			continue
		}

		if err := p.st.MarkIntakeDispatched(row.ID, "sent to "+canonical); err != nil {
			slog.Error("Intake mark-dispatched failed after send", "id", row.ID, "error", err)
			continue
		}
		dispatched++
		slog.Info("Intake row dispatched", "id", row.ID, "name", row.Name, "phone", canonical)
	}
	return dispatched, nil
}

// Run is the cron entry point: it polls once and logs failures.
func (p *Poller) Run(ctx context.Context) {
	n, err := p.Poll(ctx)
	if err != nil {
		slog.Error("Intake poll failed", "error", err)
		return
	}
	if n > 0 {
		slog.Debug("Intake poll complete", "dispatched", n)
	}
}
