// material/domainset.go
package material

import (
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
)

// DomainSet identifies the coverage of one certificate: a primary domain
// plus zero or more Subject Alternative Names (typically wildcards such as
// "*.example.com"). Values are immutable after construction.
type DomainSet struct {
	primary string
	sans    []string
}

// NewDomainSet validates the primary domain and SANs and returns the set.
// Duplicate names (including a SAN equal to the primary) are rejected.
func NewDomainSet(primary string, sans ...string) (DomainSet, error) {
	if primary == "" {
		return DomainSet{}, errors.New("material: primary domain is required")
	}
	if strings.HasPrefix(primary, "*.") {
		return DomainSet{}, fmt.Errorf("material: primary domain %q must not be a wildcard", primary)
	}
	if err := validateDomainFormat(primary); err != nil {
		return DomainSet{}, fmt.Errorf("material: invalid primary domain: %w", err)
	}

	seen := map[string]bool{primary: true}
	cleaned := make([]string, 0, len(sans))
	for _, san := range sans {
		if err := validateDomainFormat(san); err != nil {
			return DomainSet{}, fmt.Errorf("material: invalid SAN %q: %w", san, err)
		}
		if seen[san] {
			return DomainSet{}, fmt.Errorf("material: duplicate name %q", san)
		}
		seen[san] = true
		cleaned = append(cleaned, san)
	}

	return DomainSet{primary: primary, sans: cleaned}, nil
}

// Primary returns the primary domain.
func (d DomainSet) Primary() string { return d.primary }

// SANs returns a copy of the additional names.
func (d DomainSet) SANs() []string {
	out := make([]string, len(d.sans))
	copy(out, d.sans)
	return out
}

// Names returns the primary domain followed by the SANs, which is the order
// certificate requests use.
func (d DomainSet) Names() []string {
	return append([]string{d.primary}, d.SANs()...)
}

// String renders the set for logging, e.g. "example.com [*.example.com]".
func (d DomainSet) String() string {
	if len(d.sans) == 0 {
		return d.primary
	}
	return d.primary + " [" + strings.Join(d.sans, " ") + "]"
}

// CoveredBy reports whether a certificate covers every name in the set,
// taking wildcard DNS names in the certificate into account.
func (d DomainSet) CoveredBy(leaf *x509.Certificate) bool {
	if leaf == nil {
		return false
	}
	return d.CoveredByNames(leaf.DNSNames)
}

// CoveredByNames is CoveredBy against an already extracted DNS name list,
// as carried by a ValidationResult.
func (d DomainSet) CoveredByNames(dnsNames []string) bool {
	for _, name := range d.Names() {
		if !nameCovered(dnsNames, name) {
			return false
		}
	}
	return true
}

// nameCovered checks a single name against the certificate's DNS names. A
// wildcard DNS name matches exactly one additional label and never the bare
// base domain, per x509 semantics; a wildcard in the set is matched only by
// the identical wildcard entry.
func nameCovered(dnsNames []string, name string) bool {
	for _, dnsName := range dnsNames {
		if dnsName == name {
			return true
		}
		if !strings.HasPrefix(dnsName, "*.") || strings.HasPrefix(name, "*.") {
			continue
		}
		suffix := "." + dnsName[2:]
		label := strings.TrimSuffix(name, suffix)
		if label != name && label != "" && !strings.Contains(label, ".") {
			return true
		}
	}
	return false
}

// validateDomainFormat checks RFC 1035 / RFC 1123 syntax: dot-separated
// labels of 1-63 characters, 253 characters total, alphanumerics and
// interior hyphens only. A single leading "*." wildcard label is allowed.
func validateDomainFormat(domain string) error {
	original := domain

	if len(domain) > 253 {
		return fmt.Errorf("domain %q exceeds maximum length of 253 characters", original)
	}

	if strings.HasPrefix(domain, "*.") {
		domain = domain[2:]
	}

	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return fmt.Errorf("domain %q must have at least two labels (e.g., example.com)", original)
	}

	for i, label := range labels {
		if len(label) == 0 {
			return fmt.Errorf("domain %q has empty label at position %d", original, i)
		}
		if len(label) > 63 {
			return fmt.Errorf("domain label %q exceeds maximum length of 63 characters", label)
		}
		for j, c := range label {
			if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
				(c >= '0' && c <= '9') || c == '-') {
				return fmt.Errorf("domain label %q contains invalid character %q", label, c)
			}
			if c == '-' && (j == 0 || j == len(label)-1) {
				return fmt.Errorf("domain label %q cannot start or end with hyphen", label)
			}
		}
	}

	return nil
}
