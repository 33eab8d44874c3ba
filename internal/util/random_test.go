package util

import (
	"strings"
	"testing"
)

func TestGenerateRandomID(t *testing.T) {
	tests := []struct {
		name       string
		gen        func() string
		wantPrefix string
		wantLength int // expected total length: prefix + hex length
	}{
		{"task ID format", GenerateTaskID, "img_", 20},
		{"outbox ID format", GenerateOutboxID, "outbox_", 39},
		{"job ID format", GenerateJobID, "job_", 36},
		{"custom prefix", func() string { return GenerateRandomID("test_", 16) }, "test_", 21},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.gen()

			if !strings.HasPrefix(got, tt.wantPrefix) {
				t.Errorf("ID = %v, want prefix %v", got, tt.wantPrefix)
			}
			if len(got) != tt.wantLength {
				t.Errorf("ID length = %v, want %v", len(got), tt.wantLength)
			}
			if hexPart := got[len(tt.wantPrefix):]; !isValidHex(hexPart) {
				t.Errorf("ID hex part = %v is not valid hex", hexPart)
			}
		})
	}
}

func TestGenerateRandomHex(t *testing.T) {
	for _, length := range []int{-1, 0, 1, 16, 64} {
		got := GenerateRandomHex(length)
		want := length
		if want < 0 {
			want = 0
		}
		if len(got) != want {
			t.Errorf("GenerateRandomHex(%d) length = %d", length, len(got))
		}
		if !isValidHex(got) {
			t.Errorf("GenerateRandomHex(%d) = %q is not valid hex", length, got)
		}
	}
}

func TestRandomIDUniqueness(t *testing.T) {
	const iterations = 1000
	seen := make(map[string]bool)

	for i := 0; i < iterations; i++ {
		id := GenerateTaskID()
		if seen[id] {
			t.Errorf("GenerateTaskID() generated duplicate: %v", id)
		}
		seen[id] = true
	}
}

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("PLANPIPE_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("PLANPIPE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseBool(t *testing.T) {
	for _, raw := range []string{"true", " Yes ", "1", "on"} {
		if v, ok := ParseBool(raw); !v || !ok {
			t.Errorf("ParseBool(%q) = %v, %v; want true, true", raw, v, ok)
		}
	}
	if v, ok := ParseBool("nope"); v || ok {
		t.Errorf("ParseBool(nope) = %v, %v; want false, false", v, ok)
	}
}

func TestGetEnvDefault(t *testing.T) {
	t.Setenv("PLANPIPE_TEST_VALUE", "  ")
	if got := GetEnvDefault("PLANPIPE_TEST_VALUE", "Asia/Taipei"); got != "Asia/Taipei" {
		t.Errorf("blank value: got %q", got)
	}
	t.Setenv("PLANPIPE_TEST_VALUE", "UTC")
	if got := GetEnvDefault("PLANPIPE_TEST_VALUE", "Asia/Taipei"); got != "UTC" {
		t.Errorf("set value: got %q", got)
	}
}

// Helper function to validate hex strings
func isValidHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
