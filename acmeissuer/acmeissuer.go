// acmeissuer/acmeissuer.go

// Package acmeissuer obtains publicly trusted certificates from an ACME CA
// using DNS-01 challenges. The certificate key is generated locally before
// the order and never leaves the process. A failed order leaves any
// existing material untouched because nothing is written here at all;
// material flows back to the caller only on full success.
package acmeissuer

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme"

	"github.com/hearthd/certward/dnsprov"
	"github.com/hearthd/certward/material"
)

// DefaultPropagationWait is how long the issuer sleeps between publishing a
// challenge record and telling the CA to validate. It is a deliberate fixed
// delay, not a poll: visibility from the CA's resolvers cannot be observed
// from here, so a conservative wait bounds the run time predictably.
const DefaultPropagationWait = 60 * time.Second

// Issuance failure kinds. Everything Issue returns wraps exactly one of
// these so callers can classify without inspecting transport errors.
var (
	ErrChallengeFailed    = errors.New("acmeissuer: challenge failed")
	ErrPropagationTimeout = errors.New("acmeissuer: DNS propagation timed out")
	ErrRateLimited        = errors.New("acmeissuer: rate limited by CA")
)

// Config holds issuer settings.
type Config struct {
	// DirectoryURL is the ACME directory, e.g. Let's Encrypt production
	// or staging.
	DirectoryURL string

	// Email is the CA account contact.
	Email string

	// AccountDir persists the account key and registration URI.
	AccountDir string

	// PropagationWait overrides DefaultPropagationWait when positive.
	PropagationWait time.Duration
}

// Issuer requests certificates for domain sets. Safe for sequential use;
// the lifecycle manager never issues concurrently for the same set.
type Issuer struct {
	cfg      Config
	provider dnsprov.Provider
	logger   *zap.Logger

	clientMu sync.Mutex
	client   acmeAPI

	// Seams for tests.
	newClient func(key crypto.Signer, directoryURL string) acmeAPI
	sleep     func(ctx context.Context, d time.Duration) error
}

// New builds an Issuer publishing challenges through the given provider.
func New(cfg Config, provider dnsprov.Provider, logger *zap.Logger) (*Issuer, error) {
	if cfg.DirectoryURL == "" {
		return nil, errors.New("acmeissuer: directory URL is required")
	}
	if cfg.Email == "" {
		return nil, errors.New("acmeissuer: contact email is required")
	}
	if cfg.AccountDir == "" {
		return nil, errors.New("acmeissuer: account directory is required")
	}
	if provider == nil {
		return nil, errors.New("acmeissuer: DNS provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PropagationWait <= 0 {
		cfg.PropagationWait = DefaultPropagationWait
	}

	return &Issuer{
		cfg:      cfg,
		provider: provider,
		logger:   logger,
		newClient: func(key crypto.Signer, directoryURL string) acmeAPI {
			return &clientAdapter{client: &acme.Client{Key: key, DirectoryURL: directoryURL}}
		},
		sleep: sleepCtx,
	}, nil
}

// Issue runs one full DNS-01 order for the domain set and returns the
// resulting material. The context covers the whole CA round-trip; beyond
// the propagation wait no additional manager-owned timeout applies.
func (i *Issuer) Issue(ctx context.Context, ds material.DomainSet) (material.Material, error) {
	client, err := i.ensureClient(ctx)
	if err != nil {
		return material.Material{}, err
	}

	names := ds.Names()
	i.logger.Info("requesting certificate order", zap.String("domains", ds.String()))

	order, err := client.AuthorizeOrder(ctx, acme.DomainIDs(names...))
	if err != nil {
		return material.Material{}, i.classify("authorize order", err)
	}
	if order == nil {
		return material.Material{}, fmt.Errorf("%w: CA returned nil order", ErrChallengeFailed)
	}

	for _, authzURL := range order.AuthzURLs {
		if err := ctx.Err(); err != nil {
			return material.Material{}, fmt.Errorf("acmeissuer: %w", err)
		}
		if err := i.solveAuthorization(ctx, client, authzURL); err != nil {
			return material.Material{}, err
		}
	}

	certKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return material.Material{}, fmt.Errorf("acmeissuer: generate certificate key: %w", err)
	}

	csr, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{DNSNames: names}, certKey)
	if err != nil {
		return material.Material{}, fmt.Errorf("acmeissuer: create CSR: %w", err)
	}

	der, _, err := client.CreateOrderCert(ctx, order.FinalizeURL, csr, true)
	if err != nil {
		return material.Material{}, i.classify("finalize order", err)
	}
	if len(der) == 0 || len(der[0]) == 0 {
		return material.Material{}, fmt.Errorf("%w: CA returned empty certificate chain", ErrChallengeFailed)
	}

	m, err := encodeMaterial(der, certKey)
	if err != nil {
		return material.Material{}, err
	}

	leaf, err := x509.ParseCertificate(der[0])
	if err != nil {
		return material.Material{}, fmt.Errorf("acmeissuer: parse issued certificate: %w", err)
	}
	if !ds.CoveredBy(leaf) {
		return material.Material{}, fmt.Errorf("%w: issued certificate does not cover %s", ErrChallengeFailed, ds)
	}
	i.logger.Info("certificate issued",
		zap.String("domains", ds.String()),
		zap.Time("not_after", leaf.NotAfter))

	return m, nil
}

// solveAuthorization publishes the DNS-01 record for one authorization,
// waits the fixed propagation interval, and asks the CA to validate. The
// challenge record is removed afterwards in every path.
func (i *Issuer) solveAuthorization(ctx context.Context, client acmeAPI, authzURL string) error {
	authz, err := client.GetAuthorization(ctx, authzURL)
	if err != nil {
		return i.classify("get authorization", err)
	}
	if authz == nil {
		return fmt.Errorf("%w: CA returned nil authorization", ErrChallengeFailed)
	}
	if authz.Status == acme.StatusValid {
		return nil
	}

	var chal *acme.Challenge
	for _, c := range authz.Challenges {
		if c.Type == "dns-01" {
			chal = c
			break
		}
	}
	if chal == nil {
		return fmt.Errorf("%w: no DNS-01 challenge offered for %s", ErrChallengeFailed, authz.Identifier.Value)
	}

	txtValue, err := client.DNS01ChallengeRecord(chal.Token)
	if err != nil {
		return fmt.Errorf("%w: compute challenge record: %v", ErrChallengeFailed, err)
	}

	recordName := dnsprov.ChallengeFQDN(authz.Identifier.Value)
	if err := i.provider.CreateTXT(ctx, recordName, txtValue); err != nil {
		if errors.Is(err, dnsprov.ErrPropagationTimeout) {
			return fmt.Errorf("%w: %v", ErrPropagationTimeout, err)
		}
		return fmt.Errorf("%w: publish %s: %v", ErrChallengeFailed, recordName, err)
	}
	defer i.cleanupRecord(recordName, txtValue)

	i.logger.Info("waiting fixed propagation interval",
		zap.String("record", recordName),
		zap.Duration("wait", i.cfg.PropagationWait))
	if err := i.sleep(ctx, i.cfg.PropagationWait); err != nil {
		return fmt.Errorf("acmeissuer: %w", err)
	}

	if _, err := client.Accept(ctx, chal); err != nil {
		return i.classify("accept challenge", err)
	}
	if _, err := client.WaitAuthorization(ctx, authzURL); err != nil {
		return i.classify("wait authorization", err)
	}

	return nil
}

// cleanupRecord removes a challenge record. Cleanup never fails the
// issuance; an orphaned TXT record is only noise.
func (i *Issuer) cleanupRecord(recordName, txtValue string) {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := i.provider.DeleteTXT(cleanupCtx, recordName, txtValue); err != nil {
		i.logger.Warn("failed to delete challenge record",
			zap.String("record", recordName),
			zap.Error(err))
	}
}

// classify wraps an ACME transport error into the issuer's failure kinds.
func (i *Issuer) classify(stage string, err error) error {
	var acmeErr *acme.Error
	if errors.As(err, &acmeErr) {
		if acmeErr.StatusCode == http.StatusTooManyRequests ||
			strings.HasSuffix(acmeErr.ProblemType, ":rateLimited") {
			return fmt.Errorf("%w: %s: %v", ErrRateLimited, stage, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrChallengeFailed, stage, err)
}

// encodeMaterial converts the DER chain and key into PEM material with the
// leaf first and intermediates both bundled and split out.
func encodeMaterial(der [][]byte, key *ecdsa.PrivateKey) (material.Material, error) {
	var fullChain, chain []byte
	for n, block := range der {
		p := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: block})
		fullChain = append(fullChain, p...)
		if n > 0 {
			chain = append(chain, p...)
		}
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return material.Material{}, fmt.Errorf("acmeissuer: marshal certificate key: %w", err)
	}

	return material.Material{
		FullChain:  fullChain,
		PrivateKey: pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
		Chain:      chain,
	}, nil
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
