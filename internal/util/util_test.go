package util

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateRandomID(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		hexLength  int
		wantPrefix string
		wantLength int // expected total length: prefix + hexLength
	}{
		{
			name:       "job ID format",
			prefix:     "job_",
			hexLength:  32,
			wantPrefix: "job_",
			wantLength: 36, // 4 + 32
		},
		{
			name:       "custom prefix",
			prefix:     "test_",
			hexLength:  16,
			wantPrefix: "test_",
			wantLength: 21, // 5 + 16
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomID(tt.prefix, tt.hexLength)

			if !strings.HasPrefix(got, tt.wantPrefix) {
				t.Errorf("GenerateRandomID() = %v, want prefix %v", got, tt.wantPrefix)
			}

			if len(got) != tt.wantLength {
				t.Errorf("GenerateRandomID() length = %v, want %v", len(got), tt.wantLength)
			}

			hexPart := got[len(tt.wantPrefix):]
			if !isValidHex(hexPart) {
				t.Errorf("GenerateRandomID() hex part = %v is not valid hex", hexPart)
			}
		})
	}
}

func TestGenerateRandomHex(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   int
	}{
		{"zero length", 0, 0},
		{"negative length", -1, 0},
		{"small length", 8, 8},
		{"large length", 64, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomHex(tt.length)

			if len(got) != tt.want {
				t.Errorf("GenerateRandomHex() length = %v, want %v", len(got), tt.want)
			}

			if tt.want > 0 && !isValidHex(got) {
				t.Errorf("GenerateRandomHex() = %v is not valid hex", got)
			}
		})
	}
}

func TestRandomIDUniqueness(t *testing.T) {
	const iterations = 1000
	seen := make(map[string]bool)

	for i := 0; i < iterations; i++ {
		id := GenerateRandomID("test_", 16)
		if seen[id] {
			t.Errorf("GenerateRandomID() generated duplicate: %v", id)
		}
		seen[id] = true
	}
}

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value        string
		defaultValue bool
		want         bool
	}{
		{"", true, true},
		{"true", false, true},
		{"1", false, true},
		{"ON", false, true},
		{"false", true, false},
		{"no", true, false},
		{"banana", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_BOOL_ENV", tt.value)
			if got := ParseBoolEnv("TEST_BOOL_ENV", tt.defaultValue); got != tt.want {
				t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.defaultValue, got, tt.want)
			}
		})
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 45 * time.Second},
		{"30s", 30 * time.Second},
		{"2m", 2 * time.Minute},
		{"not-a-duration", 45 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_DURATION_ENV", tt.value)
			if got := ParseDurationEnv("TEST_DURATION_ENV", 45*time.Second); got != tt.want {
				t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

// Helper function to validate hex strings
func isValidHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
