// dnsprov/dnsprov.go

// Package dnsprov abstracts the DNS provider API used to publish ACME
// DNS-01 challenge records. Implementations live in subpackages, one per
// provider.
package dnsprov

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrPropagationTimeout reports that a provider accepted a record change
// but could not confirm it within its propagation deadline.
var ErrPropagationTimeout = errors.New("dnsprov: timed out waiting for record propagation")

// Provider publishes and removes TXT records. Record names are fully
// qualified (e.g. "_acme-challenge.example.com"), values are the raw
// challenge digest without surrounding quotes.
type Provider interface {
	CreateTXT(ctx context.Context, fqdn, value string) error
	DeleteTXT(ctx context.Context, fqdn, value string) error
}

// challengeValueLength is the length of an ACME DNS-01 value:
// base64url(SHA-256(token || "." || thumbprint)) is 43 characters unpadded.
const challengeValueLength = 43

// ValidateChallengeValue checks that a DNS-01 value is exactly the expected
// base64url digest before it is handed to any provider API.
func ValidateChallengeValue(value string) error {
	if len(value) == 0 {
		return errors.New("dnsprov: challenge value is empty")
	}
	if len(value) != challengeValueLength {
		return fmt.Errorf("dnsprov: challenge value has invalid length %d (expected %d)", len(value), challengeValueLength)
	}
	for _, c := range value {
		if !((c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_') {
			return fmt.Errorf("dnsprov: invalid character %q in challenge value", c)
		}
	}
	return nil
}

// ValidateRecordName checks basic DNS name constraints on a record name,
// with or without a trailing dot.
func ValidateRecordName(name string) error {
	if name == "" {
		return errors.New("dnsprov: record name cannot be empty")
	}
	check := strings.TrimSuffix(name, ".")
	if len(check) > 253 {
		return errors.New("dnsprov: record name exceeds maximum length of 253 characters")
	}
	for _, c := range check {
		if c < 0x20 || c == 0x7f {
			return errors.New("dnsprov: record name contains control character")
		}
	}
	return nil
}

// ChallengeFQDN returns the TXT record name for a challenge on the given
// identifier. Wildcard identifiers publish on the base name: the record for
// "*.example.com" lives at "_acme-challenge.example.com".
func ChallengeFQDN(identifier string) string {
	return "_acme-challenge." + strings.TrimPrefix(identifier, "*.")
}
