package phone

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"11 digit national", "11999999999", "whatsapp:+5511999999999", false},
		{"10 digit national missing trunk", "1199999999", "whatsapp:+5511999999999", false},
		{"13 digits with country code", "5511999999999", "whatsapp:+5511999999999", false},
		{"12 digits with country code missing trunk", "551199999999", "whatsapp:+5511999999999", false},
		{"channel prefix", "whatsapp:+5511999999999", "whatsapp:+5511999999999", false},
		{"plus and spaces", "+55 11 99999 9999", "whatsapp:+5511999999999", false},
		{"dashes", "11 99999-9999", "whatsapp:+5511999999999", false},
		{"12 digits wrong country code", "441199999999", "", true},
		{"13 digits wrong country code", "4411999999999", "", true},
		{"too short", "99999", "", true},
		{"too long", "55119999999990", "", true},
		{"no digits", "abc", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Normalize(%q) = %q, expected error", tt.input, got)
				}
				if !errors.Is(err, ErrInvalidPhone) {
					t.Errorf("Normalize(%q) error = %v, want ErrInvalidPhone", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// Valid national input always yields country code + 11 national digits.
func TestNormalizeDigitCount(t *testing.T) {
	inputs := []string{"1199999999", "11999999999", "2188888888", "21988888888"}
	const wantDigits = len(DefaultCountryCode) + 11
	for _, in := range inputs {
		out, err := Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%q) unexpected error: %v", in, err)
		}
		n := 0
		for i := 0; i < len(out); i++ {
			if out[i] >= '0' && out[i] <= '9' {
				n++
			}
		}
		if n != wantDigits {
			t.Errorf("Normalize(%q) = %q with %d digits, want %d", in, out, n, wantDigits)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"11999999999", "551199999999", "5511999999999", "whatsapp:+5521988888888"}
	for _, in := range inputs {
		once, err := Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%q) unexpected error: %v", in, err)
		}
		twice, err := Normalize(once)
		if err != nil {
			t.Fatalf("Normalize(Normalize(%q)) unexpected error: %v", in, err)
		}
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}
