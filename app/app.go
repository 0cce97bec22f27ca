// app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hearthd/certward/acmeissuer"
	"github.com/hearthd/certward/config"
	"github.com/hearthd/certward/dnsprov"
	"github.com/hearthd/certward/dnsprov/cloudflare"
	"github.com/hearthd/certward/dnsprov/route53"
	"github.com/hearthd/certward/install"
	"github.com/hearthd/certward/lifecycle"
	"github.com/hearthd/certward/material"
	"github.com/hearthd/certward/metrics"
	"github.com/hearthd/certward/notify"
	"github.com/hearthd/certward/reload"
	"github.com/hearthd/certward/selfsigned"
	"github.com/hearthd/certward/server"
	"github.com/hearthd/certward/store"
)

// App holds the wired components for one certward invocation.
type App struct {
	Cfg       *config.Config
	Logger    *zap.Logger
	Store     *store.Store
	DomainSet material.DomainSet
	Manager   *lifecycle.Manager

	validator *material.Validator
	installer *install.Installer
}

// New builds the full component graph from config:
//
//  1. Domain set from primary domain + SANs
//  2. Material store and file-based advisory locker
//  3. DNS provider (route53 or cloudflare) when ACME is enabled
//  4. ACME issuer with account state under the store
//  5. Installer with the optional runtime target
//  6. Reload signaler (command > pidfile > none)
//  7. Failure notifier when SMTP is configured
//  8. Lifecycle manager tying it all together
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	ds, err := material.NewDomainSet(cfg.Domain.PrimaryDomain, cfg.Domain.SANs...)
	if err != nil {
		return nil, fmt.Errorf("app: invalid domain configuration: %w", err)
	}

	st := store.New(cfg.StoreDir)
	locker := store.NewFileLocker(filepath.Join(cfg.StoreDir, "locks"))
	validator := material.NewValidator()

	var acme lifecycle.CertificateIssuer
	if cfg.ACME.Enabled {
		provider, err := buildProvider(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		issuer, err := acmeissuer.New(acmeissuer.Config{
			DirectoryURL:    cfg.ACME.DirectoryURL,
			Email:           cfg.ACME.ContactEmail,
			AccountDir:      st.AccountDir(),
			PropagationWait: cfg.ACME.PropagationWait,
		}, provider, logger)
		if err != nil {
			return nil, err
		}
		acme = issuer
	}

	installer := install.New(st, install.Target{
		CertPath: cfg.Install.RuntimeCertFile,
		KeyPath:  cfg.Install.RuntimeKeyFile,
	}, validator, logger)

	reloader, err := buildReloader(cfg, logger)
	if err != nil {
		return nil, err
	}

	var notifier lifecycle.Notifier
	if cfg.Notify.SMTPHost != "" {
		mailer, err := notify.New(notify.Config{
			Host:     cfg.Notify.SMTPHost,
			Port:     cfg.Notify.SMTPPort,
			Username: cfg.Notify.SMTPUser,
			Password: cfg.Notify.SMTPPassword,
			From:     cfg.Notify.NotifyFrom,
			To:       cfg.Notify.NotifyTo,
		}, logger)
		if err != nil {
			return nil, err
		}
		notifier = mailer
	}

	mgr, err := lifecycle.NewManager(lifecycle.Config{
		Store:           st,
		Locker:          locker,
		Validator:       validator,
		Installer:       installer,
		Reloader:        reloader,
		Acme:            acme,
		Fallback:        selfsigned.New(),
		FallbackEnabled: cfg.FallbackEnabled,
		ForceRenew:      cfg.ForceRenew,
		DryRun:          cfg.DryRun,
		FallbackOnly:    cfg.FallbackOnly,
		RenewThreshold:  time.Duration(cfg.RenewThresholdDays) * 24 * time.Hour,
		LockTTL:         cfg.LockTTL,
		Recorder:        metrics.CycleRecorder{},
		Notifier:        notifier,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		Cfg:       cfg,
		Logger:    logger,
		Store:     st,
		DomainSet: ds,
		Manager:   mgr,
		validator: validator,
		installer: installer,
	}, nil
}

// SyncRuntime re-derives the proxy's runtime copy from the store when the
// two differ. The store is the source of truth on every startup.
func (a *App) SyncRuntime() error {
	rewritten, err := a.installer.SyncRuntime(a.DomainSet)
	if err != nil {
		return err
	}
	if rewritten {
		a.Logger.Info("runtime material re-derived from store")
	}
	return nil
}

func buildProvider(ctx context.Context, cfg *config.Config, logger *zap.Logger) (dnsprov.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DNS.Provider)) {
	case "route53":
		return route53.New(ctx, route53.Config{
			HostedZoneID:    cfg.DNS.Route53HostedZoneID,
			Region:          cfg.DNS.AWSRegion,
			AccessKeyID:     cfg.DNS.AWSAccessKeyID,
			SecretAccessKey: cfg.DNS.AWSSecretAccessKey,
		}, logger)
	case "cloudflare":
		return cloudflare.New(ctx, cloudflare.Config{
			APIToken: cfg.DNS.CloudflareAPIToken,
			ZoneID:   cfg.DNS.CloudflareZoneID,
			ZoneName: cfg.DNS.CloudflareZoneName,
		}, logger)
	default:
		return nil, fmt.Errorf("app: unknown DNS provider %q", cfg.DNS.Provider)
	}
}

func buildReloader(cfg *config.Config, logger *zap.Logger) (reload.Signaler, error) {
	if len(cfg.Reload.ReloadCommand) > 0 {
		return reload.NewCommand(cfg.Reload.ReloadCommand, 30*time.Second, logger)
	}
	if cfg.Reload.ProxyPidfile != "" {
		return reload.NewPidfile(cfg.Reload.ProxyPidfile, logger), nil
	}
	return reload.Nop{}, nil
}

// Status summarizes the store entry for the admin surface and the status
// subcommand.
func (a *App) Status() server.Status {
	s := server.Status{Domains: a.DomainSet.String()}

	m, meta, err := a.Store.Load(a.DomainSet)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return s
		}
		s.Error = err.Error()
		return s
	}
	s.Present = true
	s.Source = string(meta.Source)

	res, err := a.validator.Validate(m)
	if err != nil {
		s.Error = err.Error()
		return s
	}
	s.IssuerClass = res.IssuerClass.String()
	s.NotAfter = res.NotAfter
	s.DaysRemaining = int(time.Until(res.NotAfter).Hours() / 24)
	s.RuntimeInSync = a.installer.RuntimeInSync(m)
	if err := a.validator.CheckExpiry(res); err != nil {
		s.Error = err.Error()
	}
	return s
}
