package models

import "testing"

func TestIsValidStage(t *testing.T) {
	valid := []Stage{
		StageStart, StageNutrition, StageCase, StageRecovery,
		StageProjection, StageOffer, StageCheckout, StageEnd, StagePurchased,
	}
	for _, s := range valid {
		if !IsValidStage(s) {
			t.Errorf("expected stage %q to be valid", s)
		}
	}
	if IsValidStage("nutricao") {
		t.Error("expected unknown stage to be invalid")
	}
	if IsValidStage("") {
		t.Error("expected empty stage to be invalid")
	}
}

func TestStageIsTerminal(t *testing.T) {
	tests := []struct {
		stage    Stage
		terminal bool
	}{
		{StageStart, false},
		{StageNutrition, false},
		{StageCase, false},
		{StageRecovery, false},
		{StageProjection, false},
		{StageOffer, false},
		{StageCheckout, false},
		{StageEnd, true},
		{StagePurchased, true},
	}
	for _, tt := range tests {
		if got := tt.stage.IsTerminal(); got != tt.terminal {
			t.Errorf("stage %q: IsTerminal() = %v, want %v", tt.stage, got, tt.terminal)
		}
	}
}

func TestOutreachRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     OutreachRequest
		wantErr error
	}{
		{"valid", OutreachRequest{Name: "Ana", Phone: "11999999999"}, nil},
		{"missing name", OutreachRequest{Phone: "11999999999"}, ErrEmptyName},
		{"missing phone", OutreachRequest{Name: "Ana"}, ErrEmptyPhone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
