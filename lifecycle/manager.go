// lifecycle/manager.go

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hearthd/certward/install"
	"github.com/hearthd/certward/material"
	"github.com/hearthd/certward/reload"
	"github.com/hearthd/certward/store"
)

// ErrNoIssuer reports that new material is needed but neither an ACME
// issuer nor the fallback is available to produce it.
var ErrNoIssuer = errors.New("lifecycle: no issuer available")

// CertificateIssuer obtains material from a public CA.
type CertificateIssuer interface {
	Issue(ctx context.Context, ds material.DomainSet) (material.Material, error)
}

// FallbackIssuer generates local self-signed material.
type FallbackIssuer interface {
	Generate(ds material.DomainSet) (material.Material, error)
}

// Recorder receives cycle observations. Implementations must not block.
type Recorder interface {
	ObserveDecision(ds material.DomainSet, decision Decision)
	ObserveOutcome(ds material.DomainSet, outcome Outcome, err error)
}

// Notifier is told about failed cycles. Failures to notify never fail the
// cycle itself.
type Notifier interface {
	CycleFailed(ctx context.Context, ds material.DomainSet, err error)
}

// Outcome summarizes one completed cycle.
type Outcome struct {
	Decision Decision
	Source   material.Source
	NotAfter time.Time

	// FellBack is set when the ACME path failed or was absent and the
	// self-signed fallback was installed instead. The cycle still counts
	// as a success; FallbackReason carries the operator-facing warning.
	FellBack       bool
	FallbackReason string
}

// Config wires a Manager.
type Config struct {
	Store     *store.Store
	Locker    store.Locker
	Validator *material.Validator
	Installer *install.Installer
	Reloader  reload.Signaler

	// Acme may be nil when no public CA path is configured.
	Acme CertificateIssuer

	// Fallback may be nil; then failed issuance is always an error.
	Fallback FallbackIssuer

	// FallbackEnabled gates fallback use. Falling back is never silent
	// and never implicit.
	FallbackEnabled bool

	// ForceRenew renews even material that would otherwise be skipped.
	ForceRenew bool

	// DryRun evaluates and logs the decision without taking the lock or
	// writing anything.
	DryRun bool

	// FallbackOnly skips the ACME path entirely, for when the CA is known
	// to be unreachable. Still subject to FallbackEnabled.
	FallbackOnly bool

	RenewThreshold time.Duration
	LockTTL        time.Duration

	Recorder Recorder
	Notifier Notifier
	Logger   *zap.Logger
}

// DefaultLockTTL bounds how long a crashed run can block the next one.
const DefaultLockTTL = 15 * time.Minute

// Manager runs full lifecycle cycles.
type Manager struct {
	cfg     Config
	decider *Decider
	logger  *zap.Logger
	now     func() time.Time
}

// NewManager validates the wiring and builds a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("lifecycle: store is required")
	}
	if cfg.Locker == nil {
		return nil, errors.New("lifecycle: locker is required")
	}
	if cfg.Installer == nil {
		return nil, errors.New("lifecycle: installer is required")
	}
	if cfg.Validator == nil {
		cfg.Validator = material.NewValidator()
	}
	if cfg.Reloader == nil {
		cfg.Reloader = reload.Nop{}
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Manager{
		cfg:     cfg,
		decider: NewDecider(cfg.RenewThreshold, cfg.Acme != nil && !cfg.FallbackOnly),
		logger:  cfg.Logger,
		now:     time.Now,
	}, nil
}

// Run executes one cycle for the domain set. The advisory lock is taken
// only when the decision requires writing; read-only Skip evaluations do
// not contend with a concurrent run.
func (m *Manager) Run(ctx context.Context, ds material.DomainSet) (Outcome, error) {
	logger := m.logger.With(zap.String("domains", ds.String()))

	existing := m.evaluate(ds, logger)
	decision := m.decider.Decide(existing, ds, m.cfg.ForceRenew)
	logger.Info("lifecycle decision", zap.Stringer("decision", decision))
	m.observeDecision(ds, decision)

	if decision == Skip {
		outcome := Outcome{Decision: Skip, NotAfter: existing.NotAfter, Source: sourceOf(existing)}
		m.observeOutcome(ds, outcome, nil)
		return outcome, nil
	}

	if m.cfg.DryRun {
		logger.Info("dry run, not acting on decision")
		outcome := Outcome{Decision: decision, Source: sourceOf(existing)}
		if existing != nil {
			outcome.NotAfter = existing.NotAfter
		}
		m.observeOutcome(ds, outcome, nil)
		return outcome, nil
	}

	var outcome Outcome
	err := store.WithLock(ctx, m.cfg.Locker, ds.Primary(), m.cfg.LockTTL, func(ctx context.Context) error {
		// Another run may have finished while we were unlocked.
		existing = m.evaluate(ds, logger)
		decision = m.decider.Decide(existing, ds, m.cfg.ForceRenew)
		if decision == Skip {
			logger.Info("material became current while acquiring lock, skipping")
			outcome = Outcome{Decision: Skip, NotAfter: existing.NotAfter, Source: sourceOf(existing)}
			return nil
		}

		var err error
		outcome, err = m.renew(ctx, ds, decision, existing, logger)
		return err
	})
	if err != nil {
		m.observeOutcome(ds, outcome, err)
		m.notifyFailure(ctx, ds, err)
		return Outcome{Decision: decision}, err
	}

	m.observeOutcome(ds, outcome, nil)
	return outcome, nil
}

// evaluate loads and validates the store entry, returning nil for absent
// or invalid material so the decider treats both as "issue from scratch".
func (m *Manager) evaluate(ds material.DomainSet, logger *zap.Logger) *material.ValidationResult {
	existing, _, err := m.cfg.Store.Load(ds)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Info("no existing material in store")
		} else {
			logger.Warn("existing material unreadable, treating as absent", zap.Error(err))
		}
		return nil
	}

	res, err := m.cfg.Validator.Validate(existing)
	if err != nil {
		logger.Warn("existing material failed validation, treating as absent", zap.Error(err))
		return nil
	}
	logger.Info("existing material validated",
		zap.Stringer("issuer_class", res.IssuerClass),
		zap.Time("not_after", res.NotAfter))
	return &res
}

// renew produces new material, installs it, and signals the proxy. The
// existing material is only replaced once the new material has fully
// validated; a failed issuance leaves the store untouched.
func (m *Manager) renew(ctx context.Context, ds material.DomainSet, decision Decision, existing *material.ValidationResult, logger *zap.Logger) (Outcome, error) {
	outcome := Outcome{Decision: decision}

	produced, source, fellBackErr, err := m.produce(ctx, ds, existing, logger)
	if err != nil {
		return outcome, err
	}
	outcome.Source = source
	if fellBackErr != nil {
		outcome.FellBack = true
		outcome.FallbackReason = fellBackErr.Error()
	}

	res, err := m.cfg.Validator.Validate(produced)
	if err != nil {
		return outcome, fmt.Errorf("lifecycle: produced material failed validation: %w", err)
	}
	outcome.NotAfter = res.NotAfter

	if err := m.cfg.Installer.Install(ds, produced, source); err != nil {
		return outcome, err
	}

	if err := m.cfg.Reloader.Notify(ctx); err != nil {
		return outcome, err
	}

	logger.Info("cycle complete",
		zap.String("source", string(source)),
		zap.Time("not_after", res.NotAfter),
		zap.Bool("fell_back", outcome.FellBack))
	return outcome, nil
}

// produce obtains material from the ACME issuer, falling back to the
// self-signed issuer only when the fallback is enabled and no valid
// material would be lost by installing it.
func (m *Manager) produce(ctx context.Context, ds material.DomainSet, existing *material.ValidationResult, logger *zap.Logger) (material.Material, material.Source, error, error) {
	if m.cfg.Acme != nil && !m.cfg.FallbackOnly {
		produced, err := m.cfg.Acme.Issue(ctx, ds)
		if err == nil {
			return produced, material.SourceACME, nil, nil
		}

		if !m.fallbackAllowed(existing) {
			return material.Material{}, "", nil, err
		}
		logger.Warn("ACME issuance failed, falling back to self-signed material", zap.Error(err))
		produced, genErr := m.cfg.Fallback.Generate(ds)
		if genErr != nil {
			return material.Material{}, "", nil, errors.Join(err, genErr)
		}
		return produced, material.SourceSelfSigned, err, nil
	}

	if m.cfg.FallbackEnabled && m.cfg.Fallback != nil {
		logger.Info("no ACME issuer configured, generating self-signed material")
		produced, err := m.cfg.Fallback.Generate(ds)
		if err != nil {
			return material.Material{}, "", nil, err
		}
		return produced, material.SourceSelfSigned, nil, nil
	}

	return material.Material{}, "", nil, ErrNoIssuer
}

// fallbackAllowed permits the self-signed fallback only when configured
// and only when it would not replace working publicly trusted material.
func (m *Manager) fallbackAllowed(existing *material.ValidationResult) bool {
	if !m.cfg.FallbackEnabled || m.cfg.Fallback == nil {
		return false
	}
	if existing == nil {
		return true
	}
	if existing.IssuerClass != material.IssuerPublicCA {
		return true
	}
	// A still-valid public certificate beats a fresh self-signed one.
	return existing.Expired(m.now())
}

func sourceOf(existing *material.ValidationResult) material.Source {
	if existing == nil {
		return ""
	}
	if existing.IssuerClass == material.IssuerSelfSigned {
		return material.SourceSelfSigned
	}
	return material.SourceACME
}

func (m *Manager) observeDecision(ds material.DomainSet, decision Decision) {
	if m.cfg.Recorder != nil {
		m.cfg.Recorder.ObserveDecision(ds, decision)
	}
}

func (m *Manager) observeOutcome(ds material.DomainSet, outcome Outcome, err error) {
	if m.cfg.Recorder != nil {
		m.cfg.Recorder.ObserveOutcome(ds, outcome, err)
	}
}

func (m *Manager) notifyFailure(ctx context.Context, ds material.DomainSet, err error) {
	if m.cfg.Notifier != nil {
		m.cfg.Notifier.CycleFailed(ctx, ds, err)
	}
}
