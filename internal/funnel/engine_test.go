package funnel

import (
	"context"
	"testing"
	"time"

	"github.com/glamlab/funnelbot/internal/messaging"
	"github.com/glamlab/funnelbot/internal/models"
	"github.com/glamlab/funnelbot/internal/store"
	"github.com/glamlab/funnelbot/internal/twiliowhatsapp"
)

type engineFixture struct {
	st     *store.InMemoryStore
	mock   *twiliowhatsapp.MockClient
	engine *Engine
}

func newEngineFixture(t *testing.T, opts ...Option) *engineFixture {
	t.Helper()
	st := store.NewInMemoryStore()
	mock := twiliowhatsapp.NewMockClient()
	svc := messaging.NewTwilioService(mock)
	t.Cleanup(func() { svc.Stop() })
	return &engineFixture{
		st:     st,
		mock:   mock,
		engine: NewEngine(st, svc, opts...),
	}
}

func inbound(sid, from, body string) models.InboundMessage {
	return models.InboundMessage{MessageSID: sid, From: from, Body: body, Time: time.Now().Unix()}
}

const testPhone = "whatsapp:+5511999998888"

func (f *engineFixture) mustLead(t *testing.T, phone string) *models.Lead {
	t.Helper()
	lead, err := f.st.GetLead(phone)
	if err != nil {
		t.Fatalf("GetLead failed: %v", err)
	}
	if lead == nil {
		t.Fatalf("Expected lead %s to exist", phone)
	}
	return lead
}

func TestHandleInbound_CreatesLeadAndAdvances(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if err := f.engine.HandleInbound(ctx, inbound("SM1", testPhone, "sim")); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}

	lead := f.mustLead(t, testPhone)
	if lead.Stage != models.StageNutrition {
		t.Errorf("Expected nutrition, got %s", lead.Stage)
	}
	if !lead.Answered {
		t.Error("Expected answered=true")
	}
	if lead.Name != models.DefaultLeadName {
		t.Errorf("Expected placeholder name, got %q", lead.Name)
	}
	if len(f.mock.SentTemplates) != 1 {
		t.Fatalf("Expected 1 send, got %d", len(f.mock.SentTemplates))
	}
	if f.mock.SentTemplates[0].ContentSID != DefaultTemplates().Nutrition {
		t.Errorf("Expected nutrition template, got %s", f.mock.SentTemplates[0].ContentSID)
	}

	entries, err := f.st.ListLogEntries(testPhone)
	if err != nil {
		t.Fatalf("ListLogEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected inbound+outbound entries, got %d", len(entries))
	}
	if entries[0].Direction != models.DirectionInbound || entries[0].Body != "sim" {
		t.Errorf("Unexpected first entry: %+v", entries[0])
	}
	if entries[1].Direction != models.DirectionOutbound || entries[1].Stage != models.StageNutrition {
		t.Errorf("Unexpected second entry: %+v", entries[1])
	}
}

func TestHandleInbound_FullAffirmativePath(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	wantStages := []models.Stage{
		models.StageNutrition,
		models.StageCase,
		models.StageProjection,
		models.StageOffer,
		models.StageCheckout,
	}
	for i, want := range wantStages {
		sid := "SM" + string(rune('a'+i))
		if err := f.engine.HandleInbound(ctx, inbound(sid, testPhone, "sim")); err != nil {
			t.Fatalf("HandleInbound %d failed: %v", i, err)
		}
		if got := f.mustLead(t, testPhone).Stage; got != want {
			t.Fatalf("Step %d: expected %s, got %s", i, want, got)
		}
	}

	// A further "sim" at checkout resends the payment link without moving.
	if err := f.engine.HandleInbound(ctx, inbound("SMz", testPhone, "sim")); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	if got := f.mustLead(t, testPhone).Stage; got != models.StageCheckout {
		t.Errorf("Expected to stay at checkout, got %s", got)
	}
	last := f.mock.SentTemplates[len(f.mock.SentTemplates)-1]
	if last.ContentSID != DefaultTemplates().Checkout {
		t.Errorf("Expected payment link resend, got %s", last.ContentSID)
	}
}

func TestHandleInbound_NegativeGoesToRecovery(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if err := f.engine.HandleInbound(ctx, inbound("SM1", testPhone, "não")); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	lead := f.mustLead(t, testPhone)
	if lead.Stage != models.StageRecovery {
		t.Errorf("Expected recovery, got %s", lead.Stage)
	}
	if f.mock.SentTemplates[0].ContentSID != DefaultTemplates().Declined {
		t.Errorf("Expected declined template, got %s", f.mock.SentTemplates[0].ContentSID)
	}

	// A second "no" in recovery stays silent.
	sends := len(f.mock.SentTemplates)
	if err := f.engine.HandleInbound(ctx, inbound("SM2", testPhone, "nao quero")); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	if f.mustLead(t, testPhone).Stage != models.StageRecovery {
		t.Error("Expected to stay in recovery")
	}
	if len(f.mock.SentTemplates) != sends {
		t.Errorf("Expected no send on recovery decline, got %d new", len(f.mock.SentTemplates)-sends)
	}

	// Coming back with "sim" recovers straight to projection, by name.
	if err := f.engine.HandleInbound(ctx, inbound("SM3", testPhone, "sim")); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	lead = f.mustLead(t, testPhone)
	if lead.Stage != models.StageProjection {
		t.Errorf("Expected projection after recovery, got %s", lead.Stage)
	}
	last := f.mock.SentTemplates[len(f.mock.SentTemplates)-1]
	if last.ContentSID != DefaultTemplates().RecoveryReturn {
		t.Errorf("Expected recovery-return template, got %s", last.ContentSID)
	}
	if last.Variables["nome"] != models.DefaultLeadName {
		t.Errorf("Expected name variable, got %v", last.Variables)
	}
}

func TestHandleInbound_NegativeLateInFunnelEnds(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	for i, body := range []string{"sim", "sim", "sim"} {
		if err := f.engine.HandleInbound(ctx, inbound("SMa"+string(rune('0'+i)), testPhone, body)); err != nil {
			t.Fatalf("HandleInbound failed: %v", err)
		}
	}
	if got := f.mustLead(t, testPhone).Stage; got != models.StageOffer {
		t.Fatalf("Expected offer, got %s", got)
	}

	if err := f.engine.HandleInbound(ctx, inbound("SMneg", testPhone, "não quero")); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	if got := f.mustLead(t, testPhone).Stage; got != models.StageEnd {
		t.Errorf("Expected end, got %s", got)
	}

	// Terminal stage: further messages are logged but never move the lead
	// or trigger sends.
	sends := len(f.mock.SentTemplates)
	if err := f.engine.HandleInbound(ctx, inbound("SMafter", testPhone, "sim")); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	if got := f.mustLead(t, testPhone).Stage; got != models.StageEnd {
		t.Errorf("Expected to stay at end, got %s", got)
	}
	if len(f.mock.SentTemplates) != sends {
		t.Error("Expected no sends in terminal stage")
	}
	entries, _ := f.st.ListLogEntries(testPhone)
	found := false
	for _, e := range entries {
		if e.MessageSID == "SMafter" {
			found = true
		}
	}
	if !found {
		t.Error("Expected terminal-stage inbound to still be logged")
	}
}

func TestHandleInbound_UnknownIntentStays(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if err := f.engine.HandleInbound(ctx, inbound("SM1", testPhone, "qual o preço?")); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	lead := f.mustLead(t, testPhone)
	if lead.Stage != models.StageStart {
		t.Errorf("Expected start, got %s", lead.Stage)
	}
	if len(f.mock.SentTemplates) != 0 {
		t.Errorf("Expected no sends for unknown intent, got %d", len(f.mock.SentTemplates))
	}
	entries, _ := f.st.ListLogEntries(testPhone)
	if len(entries) != 1 || entries[0].Direction != models.DirectionInbound {
		t.Errorf("Expected inbound still logged, got %+v", entries)
	}
}

func TestHandleInbound_DuplicateSIDShortCircuits(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if err := f.engine.HandleInbound(ctx, inbound("SM1", testPhone, "sim")); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	stage := f.mustLead(t, testPhone).Stage
	sends := len(f.mock.SentTemplates)
	entries, _ := f.st.ListLogEntries(testPhone)
	logged := len(entries)

	// Same SID redelivered: no state change, no log, no send.
	if err := f.engine.HandleInbound(ctx, inbound("SM1", testPhone, "sim")); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	if got := f.mustLead(t, testPhone).Stage; got != stage {
		t.Errorf("Duplicate moved stage: %s", got)
	}
	if len(f.mock.SentTemplates) != sends {
		t.Error("Duplicate triggered a send")
	}
	entries, _ = f.st.ListLogEntries(testPhone)
	if len(entries) != logged {
		t.Error("Duplicate appended log entries")
	}
}

func TestHandleInbound_InvalidSenderIgnored(t *testing.T) {
	f := newEngineFixture(t)

	if err := f.engine.HandleInbound(context.Background(), inbound("SM1", "whatsapp:+123", "sim")); err != nil {
		t.Fatalf("Expected silent drop, got %v", err)
	}
	leads, _ := f.st.ListLeads()
	if len(leads) != 0 {
		t.Errorf("Expected no leads, got %d", len(leads))
	}
}

func TestStartOutreach(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	canonical, err := f.engine.StartOutreach(ctx, "Ana", "11 97777-1234")
	if err != nil {
		t.Fatalf("StartOutreach failed: %v", err)
	}
	if canonical != "whatsapp:+5511977771234" {
		t.Errorf("Unexpected canonical phone: %s", canonical)
	}

	lead := f.mustLead(t, canonical)
	if lead.Name != "Ana" || lead.Stage != models.StageStart || lead.Answered {
		t.Errorf("Unexpected lead state: %+v", lead)
	}
	if len(f.mock.SentTemplates) != 1 {
		t.Fatalf("Expected 1 send, got %d", len(f.mock.SentTemplates))
	}
	sent := f.mock.SentTemplates[0]
	if sent.ContentSID != DefaultTemplates().Intro {
		t.Errorf("Expected intro template, got %s", sent.ContentSID)
	}
	if sent.Variables["nome"] != "Ana" {
		t.Errorf("Expected name variable, got %v", sent.Variables)
	}

	// Follow-up armed as a durable job under the lead's dedupe key.
	n, err := f.st.CancelJobsByDedupeKey("followup:" + canonical)
	if err != nil {
		t.Fatalf("CancelJobsByDedupeKey failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 armed follow-up, got %d", n)
	}
}

func TestStartOutreach_InvalidPhone(t *testing.T) {
	f := newEngineFixture(t)

	if _, err := f.engine.StartOutreach(context.Background(), "Ana", "12345"); err == nil {
		t.Fatal("Expected invalid-phone error")
	}
	if len(f.mock.SentTemplates) != 0 {
		t.Error("Expected no send for invalid phone")
	}
}

func TestMarkPurchased(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if err := f.engine.MarkPurchased(ctx, testPhone); err != models.ErrLeadNotFound {
		t.Errorf("Expected ErrLeadNotFound, got %v", err)
	}

	if _, err := f.engine.StartOutreach(ctx, "Ana", testPhone); err != nil {
		t.Fatalf("StartOutreach failed: %v", err)
	}
	if err := f.engine.MarkPurchased(ctx, testPhone); err != nil {
		t.Fatalf("MarkPurchased failed: %v", err)
	}

	lead := f.mustLead(t, testPhone)
	if lead.Stage != models.StagePurchased {
		t.Errorf("Expected purchased, got %s", lead.Stage)
	}
	entries, _ := f.st.ListLogEntries(testPhone)
	last := entries[len(entries)-1]
	if last.Direction != models.DirectionSystem || last.Body != "purchased" {
		t.Errorf("Expected system purchase entry, got %+v", last)
	}
}

func TestDeleteLead(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if err := f.engine.DeleteLead(ctx, testPhone); err != models.ErrLeadNotFound {
		t.Errorf("Expected ErrLeadNotFound, got %v", err)
	}

	if _, err := f.engine.StartOutreach(ctx, "Ana", testPhone); err != nil {
		t.Fatalf("StartOutreach failed: %v", err)
	}
	if err := f.engine.DeleteLead(ctx, testPhone); err != nil {
		t.Fatalf("DeleteLead failed: %v", err)
	}

	lead, err := f.st.GetLead(testPhone)
	if err != nil {
		t.Fatalf("GetLead failed: %v", err)
	}
	if lead != nil {
		t.Error("Expected lead removed")
	}
	entries, _ := f.st.ListLogEntries(testPhone)
	if len(entries) != 0 {
		t.Errorf("Expected log cascade, got %d entries", len(entries))
	}
}

func TestRecordCheckoutClick(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// Works even for unknown leads: the click is still worth recording.
	if err := f.engine.RecordCheckoutClick(ctx, testPhone); err != nil {
		t.Fatalf("RecordCheckoutClick failed: %v", err)
	}
	entries, _ := f.st.ListLogEntries(testPhone)
	if len(entries) != 1 || entries[0].Body != "checkout_click" || entries[0].Direction != models.DirectionSystem {
		t.Errorf("Unexpected entries: %+v", entries)
	}
}

func TestDedupeLeads(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	now := time.Now()
	// Legacy record keyed by a 12-digit number missing the trunk digit,
	// plus the canonical record for the same phone.
	legacy := models.Lead{
		Phone:     "whatsapp:+551177771234",
		Name:      "Ana",
		Stage:     models.StageNutrition,
		Answered:  true,
		CreatedAt: now.Add(-time.Hour),
		UpdatedAt: now.Add(-time.Hour),
	}
	canonical := models.Lead{
		Phone:     "whatsapp:+5511977771234",
		Name:      "Ana Paula",
		Stage:     models.StageCase,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.st.SaveLead(legacy); err != nil {
		t.Fatalf("SaveLead failed: %v", err)
	}
	if err := f.st.SaveLead(canonical); err != nil {
		t.Fatalf("SaveLead failed: %v", err)
	}
	if err := f.st.AddLogEntry(models.LogEntry{Timestamp: now.Add(-time.Hour), Lead: legacy.Phone, Direction: models.DirectionInbound, Stage: models.StageStart, Body: "oi"}); err != nil {
		t.Fatalf("AddLogEntry failed: %v", err)
	}

	removed, err := f.engine.DedupeLeads(ctx)
	if err != nil {
		t.Fatalf("DedupeLeads failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 removed record, got %d", removed)
	}

	merged := f.mustLead(t, canonical.Phone)
	if merged.Name != "Ana Paula" || merged.Stage != models.StageCase {
		t.Errorf("Expected freshest record to win, got %+v", merged)
	}
	if !merged.Answered {
		t.Error("Expected answered flag OR-ed from legacy record")
	}
	if !merged.CreatedAt.Equal(legacy.CreatedAt) {
		t.Error("Expected earliest creation time kept")
	}

	if stale, _ := f.st.GetLead(legacy.Phone); stale != nil {
		t.Error("Expected legacy record removed")
	}
	entries, _ := f.st.ListLogEntries(canonical.Phone)
	if len(entries) != 1 || entries[0].Body != "oi" {
		t.Errorf("Expected log reassigned, got %+v", entries)
	}
}
