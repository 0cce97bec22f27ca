// dnsprov/route53/route53.go

// Package route53 publishes DNS-01 challenge records through AWS Route 53.
package route53

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"go.uber.org/zap"

	"github.com/hearthd/certward/dnsprov"
)

// changeWaitTimeout bounds how long we wait for Route 53 to report a change
// batch as INSYNC across its authoritative servers.
const changeWaitTimeout = 5 * time.Minute

// recordTTL keeps challenge records short-lived; they are deleted after the
// authorization anyway.
const recordTTL = 60

// Config holds provider settings. AccessKeyID/SecretAccessKey are optional;
// when empty the default AWS credential chain applies (environment,
// shared config, instance role).
type Config struct {
	HostedZoneID    string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Provider implements dnsprov.Provider against one hosted zone.
type Provider struct {
	client       *route53.Client
	hostedZoneID string
	logger       *zap.Logger

	// mu serializes record operations; Route 53 rate limits change batches
	// and challenges for multiple SANs would otherwise race.
	mu sync.Mutex
}

// New builds a Provider. Credential loading is bounded so an unreachable
// metadata service cannot hang startup.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.HostedZoneID == "" {
		return nil, errors.New("route53: hosted zone ID is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(loadCtx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("route53: load AWS config (check credentials): %w", err)
	}

	return &Provider{
		client:       route53.NewFromConfig(awsCfg),
		hostedZoneID: cfg.HostedZoneID,
		logger:       logger,
	}, nil
}

// CreateTXT upserts the challenge record and waits until Route 53 reports
// the change as in sync.
func (p *Provider) CreateTXT(ctx context.Context, fqdn, value string) error {
	name, err := p.checkRecord(fqdn, value)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	result, err := p.client.ChangeResourceRecordSets(ctx, p.changeInput(types.ChangeActionUpsert, name, value))
	if err != nil {
		return fmt.Errorf("route53: create TXT record: %w", err)
	}
	if result == nil || result.ChangeInfo == nil || result.ChangeInfo.Id == nil {
		return errors.New("route53: change response missing ChangeInfo")
	}

	waiter := route53.NewResourceRecordSetsChangedWaiter(p.client)
	if err := waiter.Wait(ctx, &route53.GetChangeInput{Id: result.ChangeInfo.Id}, changeWaitTimeout); err != nil {
		p.logger.Error("route53 record change did not sync",
			zap.String("record", name),
			zap.String("change_id", aws.ToString(result.ChangeInfo.Id)),
			zap.Error(err))
		return fmt.Errorf("%w: route53 change for %s", dnsprov.ErrPropagationTimeout, name)
	}

	p.logger.Debug("route53 TXT record in sync", zap.String("record", name))
	return nil
}

// DeleteTXT removes the challenge record. Deletion is best-effort cleanup;
// callers log rather than fail on an error here.
func (p *Provider) DeleteTXT(ctx context.Context, fqdn, value string) error {
	name, err := p.checkRecord(fqdn, value)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.client.ChangeResourceRecordSets(ctx, p.changeInput(types.ChangeActionDelete, name, value)); err != nil {
		return fmt.Errorf("route53: delete TXT record: %w", err)
	}
	return nil
}

// checkRecord normalizes the record name to Route 53's trailing-dot form
// and validates both name and value.
func (p *Provider) checkRecord(fqdn, value string) (string, error) {
	if !strings.HasSuffix(fqdn, ".") {
		fqdn += "."
	}
	if err := dnsprov.ValidateRecordName(fqdn); err != nil {
		return "", err
	}
	if err := dnsprov.ValidateChallengeValue(value); err != nil {
		return "", err
	}
	return fqdn, nil
}

func (p *Provider) changeInput(action types.ChangeAction, name, value string) *route53.ChangeResourceRecordSetsInput {
	return &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(p.hostedZoneID),
		ChangeBatch: &types.ChangeBatch{
			Changes: []types.Change{
				{
					Action: action,
					ResourceRecordSet: &types.ResourceRecordSet{
						Name: aws.String(name),
						Type: types.RRTypeTxt,
						TTL:  aws.Int64(recordTTL),
						ResourceRecords: []types.ResourceRecord{
							{Value: aws.String(`"` + value + `"`)},
						},
					},
				},
			},
		},
	}
}
