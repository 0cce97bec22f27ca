// lifecycle/decider_test.go

package lifecycle

import (
	"testing"
	"time"

	"github.com/hearthd/certward/material"
)

func mustDomainSet(t *testing.T, primary string, sans ...string) material.DomainSet {
	t.Helper()
	ds, err := material.NewDomainSet(primary, sans...)
	if err != nil {
		t.Fatalf("NewDomainSet(%q): %v", primary, err)
	}
	return ds
}

func resultWith(issuer material.IssuerClass, notAfter time.Time, names ...string) *material.ValidationResult {
	return &material.ValidationResult{
		WellFormed:  true,
		MatchesKey:  true,
		NotAfter:    notAfter,
		IssuerClass: issuer,
		DNSNames:    names,
	}
}

func TestDecideTable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ds := []string{"home.example.com", "*.home.example.com"}

	tests := []struct {
		name     string
		existing *material.ValidationResult
		force    bool
		publicCA bool
		want     Decision
	}{
		{
			name: "absent issues",
			want: Issue,
		},
		{
			name:     "invalid treated as absent",
			existing: nil,
			publicCA: true,
			want:     Issue,
		},
		{
			name:     "force renews regardless of state",
			existing: resultWith(material.IssuerPublicCA, now.Add(80*24*time.Hour), ds...),
			force:    true,
			want:     Renew,
		},
		{
			name:     "self-signed upgrades when public CA configured",
			existing: resultWith(material.IssuerSelfSigned, now.Add(300*24*time.Hour), ds...),
			publicCA: true,
			want:     Renew,
		},
		{
			name:     "self-signed stays without public CA",
			existing: resultWith(material.IssuerSelfSigned, now.Add(300*24*time.Hour), ds...),
			want:     Skip,
		},
		{
			name:     "missing SAN coverage renews",
			existing: resultWith(material.IssuerPublicCA, now.Add(80*24*time.Hour), "home.example.com"),
			publicCA: true,
			want:     Renew,
		},
		{
			name:     "expiring in 10 days renews",
			existing: resultWith(material.IssuerPublicCA, now.Add(10*24*time.Hour), ds...),
			publicCA: true,
			want:     Renew,
		},
		{
			name:     "expiring in 29 days renews",
			existing: resultWith(material.IssuerPublicCA, now.Add(29*24*time.Hour), ds...),
			publicCA: true,
			want:     Renew,
		},
		{
			name:     "expiring in exactly 30 days skips",
			existing: resultWith(material.IssuerPublicCA, now.Add(30*24*time.Hour), ds...),
			publicCA: true,
			want:     Skip,
		},
		{
			name:     "expiring in 31 days skips",
			existing: resultWith(material.IssuerPublicCA, now.Add(31*24*time.Hour), ds...),
			publicCA: true,
			want:     Skip,
		},
		{
			name:     "healthy material skips",
			existing: resultWith(material.IssuerPublicCA, now.Add(80*24*time.Hour), ds...),
			publicCA: true,
			want:     Skip,
		},
	}

	set := mustDomainSet(t, "home.example.com", "*.home.example.com")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecider(0, tt.publicCA)
			d.now = func() time.Time { return now }

			if got := d.Decide(tt.existing, set, tt.force); got != tt.want {
				t.Errorf("Decide() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecideCustomThreshold(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	set := mustDomainSet(t, "home.example.com")
	existing := resultWith(material.IssuerPublicCA, now.Add(5*24*time.Hour), "home.example.com")

	d := NewDecider(3*24*time.Hour, true)
	d.now = func() time.Time { return now }

	if got := d.Decide(existing, set, false); got != Skip {
		t.Errorf("5 days out with 3 day threshold = %v, want Skip", got)
	}

	d = NewDecider(7*24*time.Hour, true)
	d.now = func() time.Time { return now }
	if got := d.Decide(existing, set, false); got != Renew {
		t.Errorf("5 days out with 7 day threshold = %v, want Renew", got)
	}
}

func TestDecisionString(t *testing.T) {
	tests := []struct {
		d    Decision
		want string
	}{
		{Skip, "skip"},
		{Issue, "issue"},
		{Renew, "renew"},
		{Decision(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.d.String(); got != tt.want {
			t.Errorf("Decision(%d).String() = %q, want %q", int(tt.d), got, tt.want)
		}
	}
}
