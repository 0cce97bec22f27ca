// material/material.go
package material

import "time"

// Material is one certificate's PEM-encoded artifacts. FullChain holds the
// leaf certificate first, followed by any intermediates. Chain, when
// present, holds the intermediates only. PrivateKey holds only the key.
//
// Material is never installable until a Validator has confirmed that
// FullChain and PrivateKey form a matching pair.
type Material struct {
	FullChain  []byte
	PrivateKey []byte
	Chain      []byte
}

// Source records how a store entry's material was produced.
type Source string

const (
	SourceACME       Source = "acme"
	SourceSelfSigned Source = "self-signed"
)

// IssuerClass classifies who issued a certificate.
type IssuerClass int

const (
	IssuerUnknown IssuerClass = iota
	IssuerPublicCA
	IssuerSelfSigned
)

func (c IssuerClass) String() string {
	switch c {
	case IssuerPublicCA:
		return "public-ca"
	case IssuerSelfSigned:
		return "self-signed"
	default:
		return "unknown"
	}
}

// ValidationResult is the derived outcome of validating one Material. It is
// recomputed on every check and never persisted.
type ValidationResult struct {
	WellFormed  bool
	MatchesKey  bool
	NotAfter    time.Time
	IssuerClass IssuerClass

	// DNSNames are the subject alternative names of the leaf certificate,
	// used for coverage checks against the configured DomainSet.
	DNSNames []string
}

// Expired reports whether the certificate's NotAfter has passed.
func (r ValidationResult) Expired(now time.Time) bool {
	return r.NotAfter.Before(now)
}

// ExpiresWithin reports whether the certificate expires within d of now.
// A certificate expiring exactly at now+d is not yet within the window.
func (r ValidationResult) ExpiresWithin(now time.Time, d time.Duration) bool {
	return r.NotAfter.Before(now.Add(d))
}
