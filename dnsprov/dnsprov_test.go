// dnsprov/dnsprov_test.go
package dnsprov

import (
	"strings"
	"testing"
)

func TestValidateChallengeValue(t *testing.T) {
	valid := strings.Repeat("a", 40) + "-_A" // 43 chars, base64url alphabet

	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"valid", valid, false},
		{"empty", "", true},
		{"too short", "abc", true},
		{"too long", valid + "a", true},
		{"bad character", strings.Repeat("a", 42) + "+", true},
		{"embedded space", strings.Repeat("a", 42) + " ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChallengeValue(tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateChallengeValue(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRecordName(t *testing.T) {
	tests := []struct {
		name    string
		record  string
		wantErr bool
	}{
		{"plain", "_acme-challenge.example.com", false},
		{"trailing dot", "_acme-challenge.example.com.", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 254), true},
		{"control character", "bad\x00name", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRecordName(tt.record)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRecordName(%q) error = %v, wantErr %v", tt.record, err, tt.wantErr)
			}
		})
	}
}

func TestChallengeFQDN(t *testing.T) {
	tests := []struct {
		identifier string
		want       string
	}{
		{"example.com", "_acme-challenge.example.com"},
		{"*.example.com", "_acme-challenge.example.com"},
		{"*.sub.example.com", "_acme-challenge.sub.example.com"},
	}

	for _, tt := range tests {
		if got := ChallengeFQDN(tt.identifier); got != tt.want {
			t.Errorf("ChallengeFQDN(%q) = %q, want %q", tt.identifier, got, tt.want)
		}
	}
}
