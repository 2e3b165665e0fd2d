package funnel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glamlab/funnelbot/internal/intent"
	"github.com/glamlab/funnelbot/internal/messaging"
	"github.com/glamlab/funnelbot/internal/models"
	"github.com/glamlab/funnelbot/internal/phone"
	"github.com/glamlab/funnelbot/internal/store"
)

// DefaultFollowupDelay is how long after the intro the reminder fires when a
// lead stays silent.
const DefaultFollowupDelay = 45 * time.Second

// transition describes one edge of the funnel. withName marks templates that
// take the lead's display name as a substitution variable.
type transition struct {
	next     models.Stage
	template func(Templates) string
	withName bool
}

// transitions maps (stage, intent) to the funnel's next step. Missing keys
// mean no stage change and no outbound message; terminal stages have no
// entries at all. Unknown intent never appears here.
var transitions = map[models.Stage]map[intent.Intent]transition{
	models.StageStart: {
		intent.Affirmative: {next: models.StageNutrition, template: func(t Templates) string { return t.Nutrition }},
		intent.Negative:    {next: models.StageRecovery, template: func(t Templates) string { return t.Declined }},
	},
	models.StageNutrition: {
		intent.Affirmative: {next: models.StageCase, template: func(t Templates) string { return t.Case }},
		intent.Negative:    {next: models.StageRecovery, template: func(t Templates) string { return t.Declined }},
	},
	models.StageCase: {
		intent.Affirmative: {next: models.StageProjection, template: func(t Templates) string { return t.Projection }, withName: true},
		intent.Negative:    {next: models.StageRecovery, template: func(t Templates) string { return t.Declined }},
	},
	models.StageRecovery: {
		// A "no" in recovery stays silent: the lead already declined once.
		intent.Affirmative: {next: models.StageProjection, template: func(t Templates) string { return t.RecoveryReturn }, withName: true},
	},
	models.StageProjection: {
		intent.Affirmative: {next: models.StageOffer, template: func(t Templates) string { return t.Offer }},
		intent.Negative:    {next: models.StageEnd, template: func(t Templates) string { return t.Declined }},
	},
	models.StageOffer: {
		intent.Affirmative: {next: models.StageCheckout, template: func(t Templates) string { return t.Checkout }},
		intent.Negative:    {next: models.StageEnd, template: func(t Templates) string { return t.Declined }},
	},
	models.StageCheckout: {
		// Staying at checkout on "yes" resends the payment link.
		intent.Affirmative: {next: models.StageCheckout, template: func(t Templates) string { return t.Checkout }},
		intent.Negative:    {next: models.StageEnd, template: func(t Templates) string { return t.Declined }},
	},
}

// Opts holds configuration options for the Engine.
type Opts struct {
	Templates     Templates
	FollowupDelay time.Duration
	Dedup         store.DedupRepo
}

// Option defines a configuration option for the Engine.
type Option func(*Opts)

// WithTemplates overrides the Content SID set.
func WithTemplates(t Templates) Option {
	return func(o *Opts) { o.Templates = t }
}

// WithFollowupDelay sets the delay before the unanswered-intro reminder.
func WithFollowupDelay(d time.Duration) Option {
	return func(o *Opts) { o.FollowupDelay = d }
}

// WithDedup replaces the store's own dedup set, e.g. with the Redis-backed
// one for multi-instance deployments.
func WithDedup(d store.DedupRepo) Option {
	return func(o *Opts) { o.Dedup = d }
}

// Engine drives the funnel. All lead mutations go through it; a per-lead
// mutex serializes concurrent inbound messages for the same address.
type Engine struct {
	st            store.Store
	dedup         store.DedupRepo
	msg           messaging.Service
	templates     Templates
	followupDelay time.Duration

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewEngine creates a funnel engine on the given store and messaging service.
func NewEngine(st store.Store, msg messaging.Service, opts ...Option) *Engine {
	cfg := Opts{
		Templates:     DefaultTemplates(),
		FollowupDelay: DefaultFollowupDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Dedup == nil {
		cfg.Dedup = st
	}
	return &Engine{
		st:            st,
		dedup:         cfg.Dedup,
		msg:           msg,
		templates:     cfg.Templates,
		followupDelay: cfg.FollowupDelay,
		locks:         make(map[string]*sync.Mutex),
	}
}

// leadLock returns the mutex serializing operations for one canonical phone.
func (e *Engine) leadLock(phoneKey string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	mu, ok := e.locks[phoneKey]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[phoneKey] = mu
	}
	return mu
}

// HandleInbound processes one webhook message end to end: idempotency guard,
// phone normalization, lead bookkeeping, intent classification and stage
// transition. It only returns an error for failures worth surfacing to the
// consumer loop; the webhook has already been acknowledged by then.
func (e *Engine) HandleInbound(ctx context.Context, msg models.InboundMessage) error {
	fresh, err := e.dedup.RecordInbound(msg.MessageSID)
	if err != nil {
		// Guard errors fail open: reprocessing a message beats dropping one.
		slog.Warn("Engine.HandleInbound dedup guard failed, processing anyway", "error", err, "sid", msg.MessageSID)
	} else if !fresh {
		slog.Debug("Engine.HandleInbound dropping duplicate", "sid", msg.MessageSID, "from", msg.From)
		return nil
	}

	canonical, err := phone.Normalize(msg.From)
	if err != nil {
		slog.Warn("Engine.HandleInbound unparseable sender", "from", msg.From, "error", err)
		return nil
	}

	mu := e.leadLock(canonical)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()
	lead, err := e.st.GetLead(canonical)
	if err != nil {
		return fmt.Errorf("load lead %s: %w", canonical, err)
	}
	if lead == nil {
		// Unknown senders enter the funnel at the start stage.
		lead = &models.Lead{
			Phone:     canonical,
			Name:      models.DefaultLeadName,
			Stage:     models.StageStart,
			CreatedAt: now,
		}
		slog.Debug("Engine.HandleInbound creating lead", "phone", canonical)
	}

	lead.Answered = true
	lead.LastInboundBody = msg.Body
	lead.LastInboundAt = now
	lead.UpdatedAt = now

	// The lead replied, so the pending reminder is moot.
	if _, err := e.st.CancelJobsByDedupeKey(followupKey(canonical)); err != nil {
		slog.Warn("Engine.HandleInbound follow-up cancel failed", "phone", canonical, "error", err)
	}

	if err := e.st.SaveLead(*lead); err != nil {
		return fmt.Errorf("save lead %s: %w", canonical, err)
	}
	if err := e.st.AddLogEntry(models.LogEntry{
		Timestamp:  now,
		Lead:       canonical,
		Direction:  models.DirectionInbound,
		Stage:      lead.Stage,
		Body:       msg.Body,
		MessageSID: msg.MessageSID,
	}); err != nil {
		slog.Error("Engine.HandleInbound inbound log append failed", "phone", canonical, "error", err)
	}

	if lead.Stage.IsTerminal() {
		slog.Debug("Engine.HandleInbound terminal stage, ignoring", "phone", canonical, "stage", lead.Stage)
		return nil
	}

	classified := intent.Classify(msg.Body)
	if classified == intent.Unknown {
		slog.Debug("Engine.HandleInbound unknown intent, staying", "phone", canonical, "stage", lead.Stage)
		return nil
	}

	tr, ok := transitions[lead.Stage][classified]
	if !ok {
		slog.Debug("Engine.HandleInbound no transition", "phone", canonical, "stage", lead.Stage, "intent", classified)
		return nil
	}

	return e.advance(ctx, lead, tr)
}

// advance applies one transition: persist the new stage, append the outbound
// log entry, then dispatch the template. A dispatch failure is reported but
// the stage and log are not rolled back.
func (e *Engine) advance(ctx context.Context, lead *models.Lead, tr transition) error {
	now := time.Now()
	prev := lead.Stage
	lead.Stage = tr.next
	lead.UpdatedAt = now

	templateID := tr.template(e.templates)

	if err := e.st.SaveLead(*lead); err != nil {
		return fmt.Errorf("persist stage %s for %s: %w", tr.next, lead.Phone, err)
	}
	if err := e.st.AddLogEntry(models.LogEntry{
		Timestamp:  now,
		Lead:       lead.Phone,
		Direction:  models.DirectionOutbound,
		Stage:      tr.next,
		Body:       "template:" + string(tr.next),
		TemplateID: templateID,
	}); err != nil {
		slog.Error("Engine.advance outbound log append failed", "phone", lead.Phone, "error", err)
	}

	var variables map[string]string
	if tr.withName {
		variables = map[string]string{"nome": lead.Name}
	}
	sid, err := e.msg.SendTemplate(ctx, lead.Phone, templateID, variables)
	if err != nil {
		slog.Error("Engine.advance dispatch failed", "phone", lead.Phone, "from", prev, "to", tr.next, "error", err)
		return fmt.Errorf("dispatch template %s to %s: %w", templateID, lead.Phone, err)
	}

	lead.LastOutboundBody = "template:" + string(tr.next)
	lead.LastOutboundAt = now
	lead.LastTemplateID = templateID
	lead.LastMessageSID = sid
	if err := e.st.SaveLead(*lead); err != nil {
		slog.Warn("Engine.advance post-send save failed", "phone", lead.Phone, "error", err)
	}

	slog.Debug("Engine.advance transitioned", "phone", lead.Phone, "from", prev, "to", tr.next)
	return nil
}

// StartOutreach opens the funnel for a lead submitted through the API. It
// returns the canonical phone on success.
func (e *Engine) StartOutreach(ctx context.Context, name, rawPhone string) (string, error) {
	return e.startOutreach(ctx, name, rawPhone, e.templates.Intro)
}

// StartIntakeOutreach opens the funnel for a lead from the intake queue,
// using the intake intro template.
func (e *Engine) StartIntakeOutreach(ctx context.Context, name, rawPhone string) (string, error) {
	return e.startOutreach(ctx, name, rawPhone, e.templates.IntakeIntro)
}

func (e *Engine) startOutreach(ctx context.Context, name, rawPhone, templateID string) (string, error) {
	canonical, err := phone.Normalize(rawPhone)
	if err != nil {
		return "", fmt.Errorf("normalize %q: %w", rawPhone, err)
	}
	if name == "" {
		name = models.DefaultLeadName
	}

	mu := e.leadLock(canonical)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()
	lead, err := e.st.GetLead(canonical)
	if err != nil {
		return "", fmt.Errorf("load lead %s: %w", canonical, err)
	}
	if lead == nil {
		lead = &models.Lead{Phone: canonical, CreatedAt: now}
	}
	// Outreach resets the funnel for the lead, answered or not.
	lead.Name = name
	lead.Stage = models.StageStart
	lead.Answered = false
	lead.ReminderSent = false
	lead.UpdatedAt = now

	sid, err := e.msg.SendTemplate(ctx, canonical, templateID, map[string]string{"nome": name})
	if err != nil {
		return "", fmt.Errorf("dispatch intro to %s: %w", canonical, err)
	}

	lead.LastOutboundBody = "template:intro"
	lead.LastOutboundAt = now
	lead.LastTemplateID = templateID
	lead.LastMessageSID = sid
	if err := e.st.SaveLead(*lead); err != nil {
		return "", fmt.Errorf("save lead %s: %w", canonical, err)
	}
	if err := e.st.AddLogEntry(models.LogEntry{
		Timestamp:  now,
		Lead:       canonical,
		Direction:  models.DirectionOutbound,
		Stage:      models.StageStart,
		Body:       "template:intro",
		MessageSID: sid,
		TemplateID: templateID,
	}); err != nil {
		slog.Error("Engine.startOutreach log append failed", "phone", canonical, "error", err)
	}

	if err := e.armFollowup(canonical); err != nil {
		slog.Warn("Engine.startOutreach follow-up arm failed", "phone", canonical, "error", err)
	}

	slog.Debug("Engine.startOutreach sent intro", "phone", canonical, "name", name)
	return canonical, nil
}

// MarkPurchased forces the lead into the purchased stage.
func (e *Engine) MarkPurchased(ctx context.Context, rawPhone string) error {
	canonical, err := phone.Normalize(rawPhone)
	if err != nil {
		return fmt.Errorf("normalize %q: %w", rawPhone, err)
	}

	mu := e.leadLock(canonical)
	mu.Lock()
	defer mu.Unlock()

	lead, err := e.st.GetLead(canonical)
	if err != nil {
		return fmt.Errorf("load lead %s: %w", canonical, err)
	}
	if lead == nil {
		return models.ErrLeadNotFound
	}

	now := time.Now()
	lead.Stage = models.StagePurchased
	lead.UpdatedAt = now
	if err := e.st.SaveLead(*lead); err != nil {
		return fmt.Errorf("save lead %s: %w", canonical, err)
	}
	if err := e.st.AddLogEntry(models.LogEntry{
		Timestamp: now,
		Lead:      canonical,
		Direction: models.DirectionSystem,
		Stage:     models.StagePurchased,
		Body:      "purchased",
	}); err != nil {
		slog.Error("Engine.MarkPurchased log append failed", "phone", canonical, "error", err)
	}

	// No more reminders for a buyer.
	if _, err := e.st.CancelJobsByDedupeKey(followupKey(canonical)); err != nil {
		slog.Warn("Engine.MarkPurchased follow-up cancel failed", "phone", canonical, "error", err)
	}

	slog.Info("Lead marked purchased", "phone", canonical)
	return nil
}

// DeleteLead removes a lead, its log entries and any pending follow-up.
func (e *Engine) DeleteLead(ctx context.Context, rawPhone string) error {
	canonical, err := phone.Normalize(rawPhone)
	if err != nil {
		return fmt.Errorf("normalize %q: %w", rawPhone, err)
	}

	mu := e.leadLock(canonical)
	mu.Lock()
	defer mu.Unlock()

	lead, err := e.st.GetLead(canonical)
	if err != nil {
		return fmt.Errorf("load lead %s: %w", canonical, err)
	}
	if lead == nil {
		return models.ErrLeadNotFound
	}

	if _, err := e.st.CancelJobsByDedupeKey(followupKey(canonical)); err != nil {
		slog.Warn("Engine.DeleteLead follow-up cancel failed", "phone", canonical, "error", err)
	}
	if err := e.st.DeleteLead(canonical); err != nil {
		return fmt.Errorf("delete lead %s: %w", canonical, err)
	}

	slog.Info("Lead deleted", "phone", canonical)
	return nil
}

// RecordCheckoutClick appends a system log entry when a lead follows the
// payment link. The caller performs the actual redirect.
func (e *Engine) RecordCheckoutClick(ctx context.Context, rawPhone string) error {
	canonical, err := phone.Normalize(rawPhone)
	if err != nil {
		return fmt.Errorf("normalize %q: %w", rawPhone, err)
	}

	stage := models.StageCheckout
	lead, err := e.st.GetLead(canonical)
	if err != nil {
		return fmt.Errorf("load lead %s: %w", canonical, err)
	}
	if lead != nil {
		stage = lead.Stage
	}

	if err := e.st.AddLogEntry(models.LogEntry{
		Timestamp: time.Now(),
		Lead:      canonical,
		Direction: models.DirectionSystem,
		Stage:     stage,
		Body:      "checkout_click",
	}); err != nil {
		return fmt.Errorf("log checkout click for %s: %w", canonical, err)
	}

	slog.Debug("Checkout click recorded", "phone", canonical)
	return nil
}
