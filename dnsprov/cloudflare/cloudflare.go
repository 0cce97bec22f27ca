// dnsprov/cloudflare/cloudflare.go

// Package cloudflare publishes DNS-01 challenge records through the
// Cloudflare API. Credentials are an API token plus the zone identifier;
// when the zone ID is not configured it is resolved from the zone name.
package cloudflare

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	cf "github.com/cloudflare/cloudflare-go"
	"go.uber.org/zap"

	"github.com/hearthd/certward/dnsprov"
)

// recordTTL keeps challenge records short-lived.
const recordTTL = 60

// Config holds provider settings.
type Config struct {
	APIToken string

	// ZoneID is the zone identifier. Optional when ZoneName is set.
	ZoneID string

	// ZoneName resolves the zone ID when ZoneID is empty, e.g. "example.com".
	ZoneName string
}

// Provider implements dnsprov.Provider against one Cloudflare zone.
type Provider struct {
	api    *cf.API
	zoneID string
	logger *zap.Logger

	// mu serializes record operations against the zone.
	mu sync.Mutex
}

// New builds a Provider for the configured zone.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.APIToken == "" {
		return nil, errors.New("cloudflare: API token is required")
	}
	if cfg.ZoneID == "" && cfg.ZoneName == "" {
		return nil, errors.New("cloudflare: zone ID or zone name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	api, err := cf.NewWithAPIToken(cfg.APIToken)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: create API client: %w", err)
	}

	zoneID := cfg.ZoneID
	if zoneID == "" {
		zoneID, err = api.ZoneIDByName(cfg.ZoneName)
		if err != nil {
			return nil, fmt.Errorf("cloudflare: resolve zone %q: %w", cfg.ZoneName, err)
		}
	}

	return &Provider{api: api, zoneID: zoneID, logger: logger}, nil
}

// CreateTXT publishes the challenge record. The Cloudflare API confirms the
// write synchronously; edge visibility is covered by the caller's
// propagation wait.
func (p *Provider) CreateTXT(ctx context.Context, fqdn, value string) error {
	name, err := checkRecord(fqdn, value)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	_, err = p.api.CreateDNSRecord(ctx, cf.ZoneIdentifier(p.zoneID), cf.CreateDNSRecordParams{
		Type:    "TXT",
		Name:    name,
		Content: value,
		TTL:     recordTTL,
	})
	if err != nil {
		return fmt.Errorf("cloudflare: create TXT record: %w", err)
	}

	p.logger.Debug("cloudflare TXT record created", zap.String("record", name))
	return nil
}

// DeleteTXT removes every TXT record matching the name and value. Cleanup
// is best-effort; callers log rather than fail on an error here.
func (p *Provider) DeleteTXT(ctx context.Context, fqdn, value string) error {
	name, err := checkRecord(fqdn, value)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	records, _, err := p.api.ListDNSRecords(ctx, cf.ZoneIdentifier(p.zoneID), cf.ListDNSRecordsParams{
		Type: "TXT",
		Name: name,
	})
	if err != nil {
		return fmt.Errorf("cloudflare: list TXT records: %w", err)
	}

	var errs []error
	for _, rec := range records {
		if rec.Content != value {
			continue
		}
		if err := p.api.DeleteDNSRecord(ctx, cf.ZoneIdentifier(p.zoneID), rec.ID); err != nil {
			errs = append(errs, fmt.Errorf("cloudflare: delete record %s: %w", rec.ID, err))
		}
	}
	return errors.Join(errs...)
}

// checkRecord validates name and value and strips any trailing dot; the
// Cloudflare API wants bare names.
func checkRecord(fqdn, value string) (string, error) {
	if err := dnsprov.ValidateRecordName(fqdn); err != nil {
		return "", err
	}
	if err := dnsprov.ValidateChallengeValue(value); err != nil {
		return "", err
	}
	return strings.TrimSuffix(fqdn, "."), nil
}
