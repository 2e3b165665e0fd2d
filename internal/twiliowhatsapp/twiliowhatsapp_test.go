package twiliowhatsapp

import (
	"context"
	"errors"
	"testing"
)

func TestMockClient_SendTemplate(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	sid, err := mock.SendTemplate(ctx, "whatsapp:+5511999998888", "HXc2ac1b55b65a5b1e2cf11ba1b6dee6bb", map[string]string{"1": "Ana"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sid == "" {
		t.Error("expected non-empty message SID")
	}

	if len(mock.SentTemplates) != 1 {
		t.Fatalf("expected 1 template, got %d", len(mock.SentTemplates))
	}
	sent := mock.SentTemplates[0]
	if sent.ContentSID != "HXc2ac1b55b65a5b1e2cf11ba1b6dee6bb" {
		t.Errorf("expected content SID preserved, got %q", sent.ContentSID)
	}
	if sent.Variables["1"] != "Ana" {
		t.Errorf("expected variable preserved, got %v", sent.Variables)
	}
}

func TestMockClient_FailNext(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()
	mock.FailNext = errors.New("provider down")

	if _, err := mock.SendTemplate(ctx, "whatsapp:+5511999998888", "HX1", nil); err == nil {
		t.Fatal("expected injected failure")
	}
	if len(mock.SentTemplates) != 0 {
		t.Errorf("expected no recorded sends after failure, got %d", len(mock.SentTemplates))
	}

	// Failure is one-shot.
	if _, err := mock.SendTemplate(ctx, "whatsapp:+5511999998888", "HX1", nil); err != nil {
		t.Fatalf("unexpected error after one-shot failure: %v", err)
	}
}

func TestQualify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+5511999998888", "whatsapp:+5511999998888"},
		{"whatsapp:+5511999998888", "whatsapp:+5511999998888"},
	}
	for _, tt := range tests {
		if got := qualify(tt.in); got != tt.want {
			t.Errorf("qualify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Fatal("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Fatal("expected error without from number")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromWhats("whatsapp:+14155238886")); err != nil {
		t.Fatalf("unexpected error with full config: %v", err)
	}
}
