// material/validate.go
package material

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"
)

// Hard validation failures. Every path that rejects material surfaces one of
// these so callers can classify the outcome without string matching.
var (
	ErrUnreadable  = errors.New("material: unreadable")
	ErrMalformed   = errors.New("material: malformed")
	ErrKeyMismatch = errors.New("material: certificate and key do not match")
	ErrExpired     = errors.New("material: certificate expired")
)

// DefaultPublicCAOrganizations are the issuer organization names recognized
// as publicly trusted. Matching is exact per organization entry.
var DefaultPublicCAOrganizations = []string{"Let's Encrypt"}

// Validator inspects certificate material. The zero value is not usable;
// construct with NewValidator.
type Validator struct {
	publicCAOrgs []string
	now          func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithPublicCAOrganizations overrides the issuer organizations classified
// as public CAs.
func WithPublicCAOrganizations(orgs []string) Option {
	return func(v *Validator) {
		if len(orgs) > 0 {
			v.publicCAOrgs = orgs
		}
	}
}

// WithClock overrides the validator's clock. Tests use this to pin "now".
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// NewValidator returns a Validator classifying issuers against the known
// public CA organizations.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		publicCAOrgs: DefaultPublicCAOrganizations,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks one Material: the certificate parses and is unexpired, the
// private key parses, and the two form a cryptographic pair. It reads only
// its inputs and has no side effects.
//
// The returned ValidationResult is populated as far as validation got. A
// non-nil error wraps exactly one of ErrUnreadable, ErrMalformed, or
// ErrKeyMismatch; expiry alone is not an error here (NotAfter is reported
// and the lifecycle decision reacts to it).
func (v *Validator) Validate(m Material) (ValidationResult, error) {
	var res ValidationResult

	if len(m.FullChain) == 0 {
		return res, fmt.Errorf("%w: empty certificate chain", ErrUnreadable)
	}

	leaf, err := parseLeafCertificate(m.FullChain)
	if err != nil {
		return res, err
	}

	res.WellFormed = true
	res.NotAfter = leaf.NotAfter
	res.DNSNames = append([]string(nil), leaf.DNSNames...)
	res.IssuerClass = v.classifyIssuer(leaf)

	// An empty key alongside a well-formed certificate is a pair that can
	// never match, not merely an unreadable file.
	if len(m.PrivateKey) == 0 {
		return res, fmt.Errorf("%w: private key is empty", ErrKeyMismatch)
	}

	key, err := parsePrivateKey(m.PrivateKey)
	if err != nil {
		return res, err
	}

	if err := publicKeysMatch(leaf, key); err != nil {
		return res, err
	}
	res.MatchesKey = true

	return res, nil
}

// CheckExpiry returns ErrExpired when the material's certificate has passed
// NotAfter. It is a convenience for diagnostic call sites; the lifecycle
// decision itself works from ValidationResult.
func (v *Validator) CheckExpiry(res ValidationResult) error {
	if res.Expired(v.now()) {
		return fmt.Errorf("%w: not valid after %s", ErrExpired, res.NotAfter.UTC().Format(time.RFC3339))
	}
	return nil
}

// parseLeafCertificate decodes the first PEM block of a full chain as the
// leaf certificate and verifies the remaining blocks also parse.
func parseLeafCertificate(fullChain []byte) (*x509.Certificate, error) {
	block, rest := pem.Decode(fullChain)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM data in certificate chain", ErrMalformed)
	}
	if block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("%w: first PEM block is %q, want CERTIFICATE", ErrMalformed, block.Type)
	}

	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse leaf certificate: %v", ErrMalformed, err)
	}

	// Intermediates must at least parse; a truncated write shows up here.
	for i := 0; len(bytes.TrimSpace(rest)) > 0; i++ {
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, fmt.Errorf("%w: trailing garbage after certificate %d", ErrMalformed, i+1)
		}
		if block.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("%w: chain block %d is %q, want CERTIFICATE", ErrMalformed, i+2, block.Type)
		}
		if _, err := x509.ParseCertificate(block.Bytes); err != nil {
			return nil, fmt.Errorf("%w: parse chain certificate %d: %v", ErrMalformed, i+2, err)
		}
	}

	return leaf, nil
}

// parsePrivateKey accepts PKCS#1 RSA, SEC1 EC, and PKCS#8 keys. Anything
// else is malformed as far as the manager is concerned.
func parsePrivateKey(keyPEM []byte) (any, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM data in private key", ErrMalformed)
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse RSA key: %v", ErrMalformed, err)
		}
		return key, nil
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse EC key: %v", ErrMalformed, err)
		}
		return key, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse PKCS#8 key: %v", ErrMalformed, err)
		}
		switch k := key.(type) {
		case *rsa.PrivateKey, *ecdsa.PrivateKey:
			return k, nil
		default:
			return nil, fmt.Errorf("%w: unsupported key type %T", ErrMalformed, key)
		}
	default:
		return nil, fmt.Errorf("%w: unexpected PEM type %q in private key", ErrMalformed, block.Type)
	}
}

// publicKeysMatch compares a structural fingerprint of the certificate's
// public key against one derived independently from the private key: the
// modulus and exponent for RSA, the curve and public point for EC. Any
// mismatch is a hard failure.
func publicKeysMatch(leaf *x509.Certificate, key any) error {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		pub, ok := leaf.PublicKey.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: certificate holds %T public key, private key is RSA", ErrKeyMismatch, leaf.PublicKey)
		}
		if pub.N.Cmp(k.N) != 0 || pub.E != k.E {
			return fmt.Errorf("%w: RSA modulus differs", ErrKeyMismatch)
		}
	case *ecdsa.PrivateKey:
		pub, ok := leaf.PublicKey.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: certificate holds %T public key, private key is EC", ErrKeyMismatch, leaf.PublicKey)
		}
		if pub.Curve != k.Curve {
			return fmt.Errorf("%w: EC curve differs", ErrKeyMismatch)
		}
		if pub.X.Cmp(k.X) != 0 || pub.Y.Cmp(k.Y) != 0 {
			return fmt.Errorf("%w: EC public point differs", ErrKeyMismatch)
		}
	default:
		return fmt.Errorf("%w: unsupported private key type %T", ErrMalformed, key)
	}
	return nil
}

// classifyIssuer maps the leaf's issuer to an IssuerClass. Known public CA
// organizations win; a self-issued certificate (issuer equals subject)
// classifies as self-signed; everything else is unknown.
func (v *Validator) classifyIssuer(leaf *x509.Certificate) IssuerClass {
	for _, org := range leaf.Issuer.Organization {
		for _, known := range v.publicCAOrgs {
			if org == known {
				return IssuerPublicCA
			}
		}
	}
	if bytes.Equal(leaf.RawIssuer, leaf.RawSubject) {
		return IssuerSelfSigned
	}
	return IssuerUnknown
}
