// material/validate_test.go
package material

import (
	"errors"
	"testing"
	"time"
)

func TestValidate_MatchingECPair(t *testing.T) {
	v := NewValidator()
	m := selfSignedMaterial(t, time.Now().Add(90*24*time.Hour), "example.com", "*.example.com")

	res, err := v.Validate(m)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.WellFormed {
		t.Error("WellFormed = false, want true")
	}
	if !res.MatchesKey {
		t.Error("MatchesKey = false, want true")
	}
	if res.IssuerClass != IssuerSelfSigned {
		t.Errorf("IssuerClass = %v, want %v", res.IssuerClass, IssuerSelfSigned)
	}
	if len(res.DNSNames) != 2 {
		t.Errorf("DNSNames = %v, want 2 names", res.DNSNames)
	}
}

func TestValidate_MatchingRSAPair(t *testing.T) {
	v := NewValidator()
	key := newRSAKey(t)
	m := Material{
		FullChain:  leafCertPEM(t, key, nil, time.Now().Add(time.Hour), "example.com"),
		PrivateKey: keyPEM(t, key),
	}

	res, err := v.Validate(m)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.MatchesKey {
		t.Error("MatchesKey = false, want true")
	}
}

func TestValidate_MismatchedPairs(t *testing.T) {
	v := NewValidator()
	notAfter := time.Now().Add(time.Hour)

	certKeyEC := newECKey(t)
	otherEC := newECKey(t)
	certKeyRSA := newRSAKey(t)
	otherRSA := newRSAKey(t)

	tests := []struct {
		name string
		m    Material
	}{
		{"ec cert, different ec key", Material{
			FullChain:  leafCertPEM(t, certKeyEC, nil, notAfter, "example.com"),
			PrivateKey: keyPEM(t, otherEC),
		}},
		{"rsa cert, different rsa key", Material{
			FullChain:  leafCertPEM(t, certKeyRSA, nil, notAfter, "example.com"),
			PrivateKey: keyPEM(t, otherRSA),
		}},
		{"ec cert, rsa key", Material{
			FullChain:  leafCertPEM(t, certKeyEC, nil, notAfter, "example.com"),
			PrivateKey: keyPEM(t, certKeyRSA),
		}},
		{"rsa cert, ec key", Material{
			FullChain:  leafCertPEM(t, certKeyRSA, nil, notAfter, "example.com"),
			PrivateKey: keyPEM(t, certKeyEC),
		}},
		{"valid cert, empty key", Material{
			FullChain:  leafCertPEM(t, certKeyEC, nil, notAfter, "example.com"),
			PrivateKey: nil,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.Validate(tt.m)
			if !errors.Is(err, ErrKeyMismatch) {
				t.Fatalf("Validate error = %v, want ErrKeyMismatch", err)
			}
			if res.MatchesKey {
				t.Error("MatchesKey = true on mismatch")
			}
			if !res.WellFormed {
				t.Error("WellFormed = false; certificate itself is fine")
			}
		})
	}
}

func TestValidate_Malformed(t *testing.T) {
	v := NewValidator()
	goodKey := keyPEM(t, newECKey(t))
	goodCert := leafCertPEM(t, newECKey(t), nil, time.Now().Add(time.Hour), "example.com")

	tests := []struct {
		name string
		m    Material
		want error
	}{
		{"empty chain", Material{FullChain: nil, PrivateKey: goodKey}, ErrUnreadable},
		{"garbage chain", Material{FullChain: []byte("not a pem"), PrivateKey: goodKey}, ErrMalformed},
		{"key pem in cert slot", Material{FullChain: goodKey, PrivateKey: goodKey}, ErrMalformed},
		{"garbage key", Material{FullChain: goodCert, PrivateKey: []byte("not a pem")}, ErrMalformed},
		{"truncated chain tail", Material{
			FullChain:  append(append([]byte{}, goodCert...), []byte("-----BEGIN CERTIFICATE-----\ntruncated")...),
			PrivateKey: goodKey,
		}, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Validate(tt.m); !errors.Is(err, tt.want) {
				t.Errorf("Validate error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidate_IssuerClassification(t *testing.T) {
	leKey := newECKey(t)
	le := newTestCA(t, "Let's Encrypt")
	otherCA := newTestCA(t, "Example Corp Internal CA")
	selfKey := newECKey(t)
	notAfter := time.Now().Add(time.Hour)

	v := NewValidator()

	tests := []struct {
		name string
		m    Material
		want IssuerClass
	}{
		{"lets encrypt issued", Material{
			FullChain:  leafCertPEM(t, leKey, le, notAfter, "example.com"),
			PrivateKey: keyPEM(t, leKey),
		}, IssuerPublicCA},
		{"self signed", Material{
			FullChain:  leafCertPEM(t, selfKey, nil, notAfter, "example.com"),
			PrivateKey: keyPEM(t, selfKey),
		}, IssuerSelfSigned},
		{"unknown ca", Material{
			FullChain:  leafCertPEM(t, leKey, otherCA, notAfter, "example.com"),
			PrivateKey: keyPEM(t, leKey),
		}, IssuerUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.Validate(tt.m)
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if res.IssuerClass != tt.want {
				t.Errorf("IssuerClass = %v, want %v", res.IssuerClass, tt.want)
			}
		})
	}
}

func TestValidate_CustomPublicCAOrganizations(t *testing.T) {
	ca := newTestCA(t, "ZeroSSL")
	key := newECKey(t)
	m := Material{
		FullChain:  leafCertPEM(t, key, ca, time.Now().Add(time.Hour), "example.com"),
		PrivateKey: keyPEM(t, key),
	}

	v := NewValidator(WithPublicCAOrganizations([]string{"ZeroSSL"}))
	res, err := v.Validate(m)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.IssuerClass != IssuerPublicCA {
		t.Errorf("IssuerClass = %v, want %v", res.IssuerClass, IssuerPublicCA)
	}
}

func TestExpiresWithin_Boundary(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	threshold := 30 * 24 * time.Hour

	tests := []struct {
		name     string
		notAfter time.Time
		want     bool
	}{
		{"29 days out", now.Add(29 * 24 * time.Hour), true},
		{"31 days out", now.Add(31 * 24 * time.Hour), false},
		{"exactly 30 days out", now.Add(threshold), false},
		{"already expired", now.Add(-time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidationResult{NotAfter: tt.notAfter}
			if got := res.ExpiresWithin(now, threshold); got != tt.want {
				t.Errorf("ExpiresWithin = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	v := NewValidator(WithClock(func() time.Time { return now }))

	if err := v.CheckExpiry(ValidationResult{NotAfter: now.Add(time.Hour)}); err != nil {
		t.Errorf("unexpired: %v", err)
	}
	if err := v.CheckExpiry(ValidationResult{NotAfter: now.Add(-time.Hour)}); !errors.Is(err, ErrExpired) {
		t.Errorf("expired: err = %v, want ErrExpired", err)
	}
}
