// config/config_test.go
package config

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

// minimal flags for a loadable route53 configuration.
func baseArgs() []string {
	return []string{
		"--primary_domain", "home.example.com",
		"--contact_email", "admin@example.com",
		"--route53_hosted_zone_id", "Z123456",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(zap.NewNop(), baseArgs())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.RenewThresholdDays != 30 {
		t.Errorf("RenewThresholdDays = %d, want 30", cfg.RenewThresholdDays)
	}
	if cfg.ACME.PropagationWait != 60*time.Second {
		t.Errorf("PropagationWait = %v, want 60s", cfg.ACME.PropagationWait)
	}
	if cfg.ACME.DirectoryURL != LetsEncryptDirectoryURL {
		t.Errorf("DirectoryURL = %q, want default", cfg.ACME.DirectoryURL)
	}
	if cfg.LockTTL != 15*time.Minute {
		t.Errorf("LockTTL = %v, want 15m", cfg.LockTTL)
	}
	if cfg.FallbackEnabled {
		t.Error("FallbackEnabled should default to false; falling back is explicit")
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("CERTWARD_RENEW_THRESHOLD_DAYS", "14")
	t.Setenv("CERTWARD_DNS_PROVIDER", "cloudflare")
	t.Setenv("CERTWARD_CLOUDFLARE_API_TOKEN", "tok")
	t.Setenv("CERTWARD_CLOUDFLARE_ZONE_NAME", "example.com")

	cfg, err := Load(zap.NewNop(), []string{
		"--primary_domain", "home.example.com",
		"--contact_email", "admin@example.com",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RenewThresholdDays != 14 {
		t.Errorf("RenewThresholdDays = %d, want 14 from env", cfg.RenewThresholdDays)
	}
	if cfg.DNS.Provider != "cloudflare" {
		t.Errorf("Provider = %q, want cloudflare from env", cfg.DNS.Provider)
	}
}

func TestLoadFlagOverridesEnv(t *testing.T) {
	t.Setenv("CERTWARD_RENEW_THRESHOLD_DAYS", "14")

	cfg, err := Load(zap.NewNop(), append(baseArgs(), "--renew_threshold_days", "7"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RenewThresholdDays != 7 {
		t.Errorf("RenewThresholdDays = %d, want 7 from explicit flag", cfg.RenewThresholdDays)
	}
}

func TestLoadParsesJSONLists(t *testing.T) {
	cfg, err := Load(zap.NewNop(), append(baseArgs(),
		"--sans", `["*.home.example.com","media.example.com"]`,
		"--reload_command", `["systemctl","reload","nginx"]`,
	))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Domain.SANs) != 2 || cfg.Domain.SANs[0] != "*.home.example.com" {
		t.Errorf("SANs = %v, want two parsed entries", cfg.Domain.SANs)
	}
	if len(cfg.Reload.ReloadCommand) != 3 || cfg.Reload.ReloadCommand[0] != "systemctl" {
		t.Errorf("ReloadCommand = %v, want parsed argv", cfg.Reload.ReloadCommand)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "missing primary domain",
			args: []string{"--contact_email", "a@b.c", "--route53_hosted_zone_id", "Z1"},
			want: "primary_domain",
		},
		{
			name: "missing contact email",
			args: []string{"--primary_domain", "home.example.com", "--route53_hosted_zone_id", "Z1"},
			want: "contact_email",
		},
		{
			name: "unknown dns provider",
			args: append(baseArgs(), "--dns_provider", "gandi"),
			want: "dns_provider",
		},
		{
			name: "route53 without hosted zone",
			args: []string{"--primary_domain", "home.example.com", "--contact_email", "a@b.c"},
			want: "route53_hosted_zone_id",
		},
		{
			name: "half a runtime target",
			args: append(baseArgs(), "--runtime_cert_file", "/etc/ssl/cert.pem"),
			want: "runtime_key_file",
		},
		{
			name: "half an aws static credential",
			args: append(baseArgs(), "--aws_access_key_id", "AKIA123"),
			want: "aws_secret_access_key",
		},
		{
			name: "no issuer at all",
			args: []string{"--primary_domain", "home.example.com", "--acme_enabled=false"},
			want: "fallback_enabled",
		},
		{
			name: "fallback only without fallback enabled",
			args: append(baseArgs(), "--fallback_only"),
			want: "fallback_only",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(zap.NewNop(), tt.args)
			if err == nil {
				t.Fatal("Load should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestDumpRedactsSecrets(t *testing.T) {
	cfg := Config{
		DNS: DNSConfig{
			AWSSecretAccessKey: "super-secret",
			CloudflareAPIToken: "cf-token",
		},
		Notify: NotifyConfig{SMTPPassword: "hunter2"},
	}

	dump := cfg.Dump()
	for _, secret := range []string{"super-secret", "cf-token", "hunter2"} {
		if strings.Contains(dump, secret) {
			t.Errorf("Dump leaked secret %q", secret)
		}
	}
	if !strings.Contains(dump, "****") {
		t.Error("Dump should mark redacted fields")
	}
}

func TestParseDurationFlexible(t *testing.T) {
	tests := []struct {
		name    string
		raw     interface{}
		def     time.Duration
		want    time.Duration
		wantErr bool
	}{
		{"duration string", "90s", time.Minute, 90 * time.Second, false},
		{"plain seconds", "120", time.Minute, 120 * time.Second, false},
		{"int seconds", 30, time.Minute, 30 * time.Second, false},
		{"empty uses default", "", time.Minute, time.Minute, false},
		{"nil uses default", nil, time.Minute, time.Minute, false},
		{"garbage", "soon", time.Minute, time.Minute, true},
		{"negative", "-5s", time.Minute, time.Minute, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDurationFlexible(tt.raw, tt.def)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
