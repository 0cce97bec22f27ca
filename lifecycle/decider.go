// lifecycle/decider.go

// Package lifecycle decides what to do with a domain's certificate material
// and drives one full cycle: load, decide, issue or fall back, validate,
// install, reload. The decision table lives here and nowhere else; no other
// component re-derives the "should we touch certificates" answer.
package lifecycle

import (
	"time"

	"github.com/hearthd/certward/material"
)

// Decision is the decider's verdict for one domain set. Falling back to
// self-signed material is deliberately not a fourth verdict: the decider
// only answers whether new material is needed (Issue or Renew), and the
// manager records on the Outcome, as FellBack, when the ACME path could
// not satisfy that need and the self-signed issuer stood in.
type Decision int

const (
	// Skip leaves existing material untouched.
	Skip Decision = iota

	// Issue obtains material where none usable exists. Invalid existing
	// material is treated as absent, never repaired by mixing files.
	Issue

	// Renew replaces working material before it becomes a problem.
	Renew
)

func (d Decision) String() string {
	switch d {
	case Skip:
		return "skip"
	case Issue:
		return "issue"
	case Renew:
		return "renew"
	default:
		return "unknown"
	}
}

// DefaultRenewThreshold is chosen so a single missed periodic run cannot
// lapse past a CA's own warning window.
const DefaultRenewThreshold = 30 * 24 * time.Hour

// Decider evaluates the decision table.
type Decider struct {
	// Threshold is the renewal window. Zero means DefaultRenewThreshold.
	Threshold time.Duration

	// PublicCAConfigured reports whether an ACME path exists, which makes
	// upgrading off self-signed material worthwhile.
	PublicCAConfigured bool

	now func() time.Time
}

// NewDecider builds a Decider with the default threshold.
func NewDecider(threshold time.Duration, publicCAConfigured bool) *Decider {
	if threshold <= 0 {
		threshold = DefaultRenewThreshold
	}
	return &Decider{Threshold: threshold, PublicCAConfigured: publicCAConfigured, now: time.Now}
}

// Decide applies the decision table in order. existing is nil when the
// store has no entry or the entry failed validation; both count as absent.
func (d *Decider) Decide(existing *material.ValidationResult, ds material.DomainSet, forceRenew bool) Decision {
	if existing == nil {
		return Issue
	}
	if forceRenew {
		return Renew
	}
	if existing.IssuerClass == material.IssuerSelfSigned && d.PublicCAConfigured {
		return Renew
	}
	if !ds.CoveredByNames(existing.DNSNames) {
		return Renew
	}

	threshold := d.Threshold
	if threshold <= 0 {
		threshold = DefaultRenewThreshold
	}
	now := time.Now()
	if d.now != nil {
		now = d.now()
	}
	if existing.ExpiresWithin(now, threshold) {
		return Renew
	}

	return Skip
}
