// config/config.go
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DomainConfig identifies the certificate's coverage.
type DomainConfig struct {
	PrimaryDomain string   `mapstructure:"primary_domain"`
	SANs          []string `mapstructure:"sans"`
}

// ACMEConfig groups CA account and issuance settings.
type ACMEConfig struct {
	Enabled      bool   `mapstructure:"acme_enabled"`
	DirectoryURL string `mapstructure:"acme_directory_url"`
	ContactEmail string `mapstructure:"contact_email"`

	// PropagationWait is the fixed delay between publishing a challenge
	// record and asking the CA to validate.
	PropagationWait time.Duration `mapstructure:"-"`
}

// DNSConfig selects and configures the DNS provider for DNS-01 challenges.
type DNSConfig struct {
	// Provider is "route53" or "cloudflare".
	Provider string `mapstructure:"dns_provider"`

	Route53HostedZoneID string `mapstructure:"route53_hosted_zone_id"`
	AWSRegion           string `mapstructure:"aws_region"`
	AWSAccessKeyID      string `mapstructure:"aws_access_key_id"`
	AWSSecretAccessKey  string `mapstructure:"aws_secret_access_key"`

	CloudflareAPIToken string `mapstructure:"cloudflare_api_token"`
	CloudflareZoneID   string `mapstructure:"cloudflare_zone_id"`
	CloudflareZoneName string `mapstructure:"cloudflare_zone_name"`
}

// InstallConfig is the runtime location the proxy reads material from.
// Both empty means the store itself is the runtime location.
type InstallConfig struct {
	RuntimeCertFile string `mapstructure:"runtime_cert_file"`
	RuntimeKeyFile  string `mapstructure:"runtime_key_file"`
}

// ReloadConfig selects how the proxy is told about new material. When
// both are empty no reload signal is sent.
type ReloadConfig struct {
	// ProxyPidfile, when set, receives SIGHUP on install.
	ProxyPidfile string `mapstructure:"proxy_pidfile"`

	// ReloadCommand, when set, is executed instead (JSON array, e.g.
	// '["systemctl","reload","nginx"]'). Takes precedence over the pidfile.
	ReloadCommand []string `mapstructure:"reload_command"`
}

// NotifyConfig configures failure notification mail. Disabled when the
// SMTP host is empty.
type NotifyConfig struct {
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUser     string `mapstructure:"smtp_user"`
	SMTPPassword string `mapstructure:"smtp_password"`
	NotifyFrom   string `mapstructure:"notify_from"`
	NotifyTo     string `mapstructure:"notify_to"`
}

// ServeConfig applies to the long-running serve mode.
type ServeConfig struct {
	MetricsPort   int           `mapstructure:"metrics_port"`
	CheckInterval time.Duration `mapstructure:"-"`
}

// Config holds everything the certificate manager needs for one run.
type Config struct {
	// runtime
	Env      string `mapstructure:"env"`       // "dev" | "prod"
	LogLevel string `mapstructure:"log_level"` // debug, info, warn, error …

	// grouped config
	Domain  DomainConfig  `mapstructure:",squash"`
	ACME    ACMEConfig    `mapstructure:",squash"`
	DNS     DNSConfig     `mapstructure:",squash"`
	Install InstallConfig `mapstructure:",squash"`
	Reload  ReloadConfig  `mapstructure:",squash"`
	Notify  NotifyConfig  `mapstructure:",squash"`
	Serve   ServeConfig   `mapstructure:",squash"`

	// store
	StoreDir string `mapstructure:"store_dir"`

	// lifecycle behavior
	RenewThresholdDays int  `mapstructure:"renew_threshold_days"`
	ForceRenew         bool `mapstructure:"force_renew"`
	DryRun             bool `mapstructure:"dry_run"`
	FallbackOnly       bool `mapstructure:"fallback_only"`
	FallbackEnabled    bool `mapstructure:"fallback_enabled"`

	LockTTL time.Duration `mapstructure:"-"`
}

// LetsEncryptDirectoryURL is the production directory of the default CA.
const LetsEncryptDirectoryURL = "https://acme-v02.api.letsencrypt.org/directory"

// Dump returns a pretty, redacted JSON string of the config for debugging.
// Never logs secrets; use at debug level only.
func (c Config) Dump() string {
	s := c.redactedCopy()
	b, _ := json.MarshalIndent(s, "", "  ")
	return string(b)
}

func (c Config) redactedCopy() Config {
	cp := c
	cp.DNS.AWSSecretAccessKey = redact(cp.DNS.AWSSecretAccessKey)
	cp.DNS.CloudflareAPIToken = redact(cp.DNS.CloudflareAPIToken)
	cp.Notify.SMTPPassword = redact(cp.Notify.SMTPPassword)
	return cp
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// Load merges defaults → config.* file(s) → env vars → explicit flags into
// one Config. Final precedence (highest wins): flags(explicit) > env >
// config > defaults.
func Load(logger *zap.Logger, args []string) (*Config, error) {
	// 0) Optionally load .env (safe: real env still wins over .env)
	if err := godotenv.Load(); err == nil && logger != nil {
		logger.Info("Loaded .env file")
	}

	// 1) Define flags (only *explicitly set* flags will override)
	fs := pflag.NewFlagSet("certward", pflag.ContinueOnError)

	fs.String("env", "dev", `Runtime environment "dev"|"prod"`)
	fs.String("log_level", "info", "Log level")

	fs.String("primary_domain", "", "Primary domain the certificate covers")
	fs.String("sans", "", `JSON array of additional names, e.g. '["*.example.com"]'`)

	// ACME
	fs.Bool("acme_enabled", true, "Use a public ACME CA")
	fs.String("acme_directory_url", LetsEncryptDirectoryURL, "ACME directory URL")
	fs.String("contact_email", "", "ACME account e-mail")
	fs.String("propagation_wait", "60s", "Fixed DNS propagation wait before CA validation")

	// DNS provider
	fs.String("dns_provider", "route53", "DNS provider for DNS-01: route53 or cloudflare")
	fs.String("route53_hosted_zone_id", "", "Route53 hosted zone ID")
	fs.String("aws_region", "", "AWS region override")
	fs.String("aws_access_key_id", "", "AWS access key (empty = default credential chain)")
	fs.String("aws_secret_access_key", "", "AWS secret key")
	fs.String("cloudflare_api_token", "", "Cloudflare API token")
	fs.String("cloudflare_zone_id", "", "Cloudflare zone ID")
	fs.String("cloudflare_zone_name", "", "Cloudflare zone name (used when zone ID is unset)")

	// store / install / reload
	fs.String("store_dir", "certward-data", "Material store directory")
	fs.String("runtime_cert_file", "", "Runtime certificate path the proxy reads")
	fs.String("runtime_key_file", "", "Runtime key path the proxy reads")
	fs.String("proxy_pidfile", "", "Proxy pidfile for SIGHUP reload")
	fs.String("reload_command", "", `JSON array reload command, e.g. '["systemctl","reload","nginx"]'`)

	// lifecycle behavior
	fs.Int("renew_threshold_days", 30, "Renew when fewer than this many days remain")
	fs.Bool("force_renew", false, "Renew even when existing material is current")
	fs.Bool("dry_run", false, "Evaluate and log the decision without changing anything")
	fs.Bool("fallback_only", false, "Skip the ACME path and use the self-signed fallback")
	fs.Bool("fallback_enabled", false, "Install self-signed material when public issuance fails")
	fs.String("lock_ttl", "15m", "Advisory lock TTL")

	// notification
	fs.String("smtp_host", "", "SMTP host for failure notification (empty disables)")
	fs.Int("smtp_port", 587, "SMTP port")
	fs.String("smtp_user", "", "SMTP user")
	fs.String("smtp_password", "", "SMTP password")
	fs.String("notify_from", "", "Failure notification sender")
	fs.String("notify_to", "", "Failure notification recipient")

	// serve mode
	fs.Int("metrics_port", 9310, "Metrics/health port for serve mode")
	fs.String("check_interval", "12h", "Cycle interval for serve mode")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// 2) Viper + env
	v := viper.New()
	v.SetEnvPrefix("CERTWARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Bind env for all keys so Unmarshal sees them.
	for _, k := range allKeys() {
		_ = v.BindEnv(k)
	}

	// 3) Optional config.* files (yaml|yml|json|toml)
	for _, ext := range [...]string{"yaml", "yml", "json", "toml"} {
		file := "config." + ext
		if _, err := os.Stat(file); err != nil {
			continue
		}
		b, err := os.ReadFile(file)
		if err != nil {
			if logger != nil {
				logger.Warn("cannot read config file", zap.String("file", file), zap.Error(err))
			}
			continue
		}
		v.SetConfigType(ext)
		if err := v.MergeConfig(bytes.NewReader(b)); err != nil {
			if logger != nil {
				logger.Warn("cannot decode config file", zap.String("file", file), zap.Error(err))
			}
			continue
		}
		if logger != nil {
			logger.Info("Loaded config file", zap.String("file", file))
		}
	}

	// 4) Defaults (lowest precedence)
	setDefaults(v)

	// 5) Apply *explicit* flags (highest precedence)
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			_ = v.BindPFlag(f.Name, f)
		}
	})

	// 6) Normalize list keys (accept JSON strings → []string)
	if err := normalizeListKeys(logger, v, "sans", "reload_command"); err != nil {
		return nil, err
	}

	// 7) Build struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Parse durations
	wait, err := parseDurationFlexible(v.Get("propagation_wait"), 60*time.Second)
	if err != nil && logger != nil {
		logger.Warn("invalid propagation_wait; using default 60s",
			zap.Any("value", v.Get("propagation_wait")), zap.Error(err))
	}
	cfg.ACME.PropagationWait = wait

	ttl, err := parseDurationFlexible(v.Get("lock_ttl"), 15*time.Minute)
	if err != nil && logger != nil {
		logger.Warn("invalid lock_ttl; using default 15m",
			zap.Any("value", v.Get("lock_ttl")), zap.Error(err))
	}
	cfg.LockTTL = ttl

	interval, err := parseDurationFlexible(v.Get("check_interval"), 12*time.Hour)
	if err != nil && logger != nil {
		logger.Warn("invalid check_interval; using default 12h",
			zap.Any("value", v.Get("check_interval")), zap.Error(err))
	}
	cfg.Serve.CheckInterval = interval

	// 8) Validate
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func allKeys() []string {
	return []string{
		"env", "log_level",
		"primary_domain", "sans",
		"acme_enabled", "acme_directory_url", "contact_email", "propagation_wait",
		"dns_provider",
		"route53_hosted_zone_id", "aws_region", "aws_access_key_id", "aws_secret_access_key",
		"cloudflare_api_token", "cloudflare_zone_id", "cloudflare_zone_name",
		"store_dir",
		"runtime_cert_file", "runtime_key_file",
		"proxy_pidfile", "reload_command",
		"renew_threshold_days", "force_renew", "dry_run", "fallback_only",
		"fallback_enabled", "lock_ttl",
		"smtp_host", "smtp_port", "smtp_user", "smtp_password",
		"notify_from", "notify_to",
		"metrics_port", "check_interval",
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")

	v.SetDefault("primary_domain", "")
	v.SetDefault("sans", []string{})

	v.SetDefault("acme_enabled", true)
	v.SetDefault("acme_directory_url", LetsEncryptDirectoryURL)
	v.SetDefault("contact_email", "")
	v.SetDefault("propagation_wait", "60s")

	v.SetDefault("dns_provider", "route53")
	v.SetDefault("route53_hosted_zone_id", "")
	v.SetDefault("aws_region", "")
	v.SetDefault("aws_access_key_id", "")
	v.SetDefault("aws_secret_access_key", "")
	v.SetDefault("cloudflare_api_token", "")
	v.SetDefault("cloudflare_zone_id", "")
	v.SetDefault("cloudflare_zone_name", "")

	v.SetDefault("store_dir", "certward-data")
	v.SetDefault("runtime_cert_file", "")
	v.SetDefault("runtime_key_file", "")
	v.SetDefault("proxy_pidfile", "")
	v.SetDefault("reload_command", []string{})

	v.SetDefault("renew_threshold_days", 30)
	v.SetDefault("force_renew", false)
	v.SetDefault("dry_run", false)
	v.SetDefault("fallback_only", false)
	v.SetDefault("fallback_enabled", false)
	v.SetDefault("lock_ttl", "15m")

	v.SetDefault("smtp_host", "")
	v.SetDefault("smtp_port", 587)
	v.SetDefault("smtp_user", "")
	v.SetDefault("smtp_password", "")
	v.SetDefault("notify_from", "")
	v.SetDefault("notify_to", "")

	v.SetDefault("metrics_port", 9310)
	v.SetDefault("check_interval", "12h")
}

// normalizeListKeys coerces JSON-string values into []string for the given keys.
func normalizeListKeys(logger *zap.Logger, v *viper.Viper, keys ...string) error {
	for _, key := range keys {
		val := v.Get(key)
		switch t := val.(type) {
		case string:
			s := strings.TrimSpace(t)
			if s == "" {
				continue
			}
			var arr []string
			if err := json.Unmarshal([]byte(s), &arr); err != nil {
				return fmt.Errorf("config key %q expects a JSON array string, got %q: %w", key, s, err)
			}
			v.Set(key, arr)
		case []interface{}:
			arr := make([]string, 0, len(t))
			for _, e := range t {
				arr = append(arr, fmt.Sprint(e))
			}
			v.Set(key, arr)
		case []string, nil:
			// already correct or unset
		default:
			if logger != nil {
				logger.Warn("unexpected type for list key; expected JSON array/string",
					zap.String("key", key), zap.Any("value", t))
			}
		}
	}
	return nil
}

func validateConfig(cfg Config) error {
	var missing []string
	var invalid []string

	if strings.TrimSpace(cfg.Domain.PrimaryDomain) == "" {
		missing = append(missing, "CERTWARD_PRIMARY_DOMAIN (or --primary_domain)")
	}

	if cfg.ACME.Enabled {
		if s := strings.TrimSpace(cfg.ACME.ContactEmail); s == "" {
			missing = append(missing, "CERTWARD_CONTACT_EMAIL (or --contact_email)")
		} else if !strings.Contains(s, "@") {
			invalid = append(invalid, "contact_email must look like an email address")
		}
		if strings.TrimSpace(cfg.ACME.DirectoryURL) == "" {
			missing = append(missing, "CERTWARD_ACME_DIRECTORY_URL (or --acme_directory_url)")
		}

		switch strings.ToLower(strings.TrimSpace(cfg.DNS.Provider)) {
		case "route53":
			if strings.TrimSpace(cfg.DNS.Route53HostedZoneID) == "" {
				missing = append(missing, "CERTWARD_ROUTE53_HOSTED_ZONE_ID (or --route53_hosted_zone_id)")
			}
			if (cfg.DNS.AWSAccessKeyID == "") != (cfg.DNS.AWSSecretAccessKey == "") {
				invalid = append(invalid, "aws_access_key_id and aws_secret_access_key must be set together")
			}
		case "cloudflare":
			if strings.TrimSpace(cfg.DNS.CloudflareAPIToken) == "" {
				missing = append(missing, "CERTWARD_CLOUDFLARE_API_TOKEN (or --cloudflare_api_token)")
			}
			if strings.TrimSpace(cfg.DNS.CloudflareZoneID) == "" && strings.TrimSpace(cfg.DNS.CloudflareZoneName) == "" {
				missing = append(missing, "CERTWARD_CLOUDFLARE_ZONE_ID or CERTWARD_CLOUDFLARE_ZONE_NAME")
			}
		default:
			invalid = append(invalid, `dns_provider must be "route53" or "cloudflare"`)
		}
	} else if !cfg.FallbackEnabled {
		invalid = append(invalid, "acme_enabled=false requires fallback_enabled=true, otherwise no issuer exists")
	}

	if cfg.FallbackOnly && !cfg.FallbackEnabled {
		invalid = append(invalid, "fallback_only requires fallback_enabled=true")
	}

	// Runtime target needs both halves.
	if (cfg.Install.RuntimeCertFile == "") != (cfg.Install.RuntimeKeyFile == "") {
		invalid = append(invalid, "runtime_cert_file and runtime_key_file must be set together")
	}

	if cfg.RenewThresholdDays <= 0 {
		invalid = append(invalid, "renew_threshold_days must be > 0")
	}
	if strings.TrimSpace(cfg.StoreDir) == "" {
		missing = append(missing, "CERTWARD_STORE_DIR (or --store_dir)")
	}

	// Notification needs a full set once the host is given.
	if cfg.Notify.SMTPHost != "" {
		if cfg.Notify.NotifyFrom == "" || cfg.Notify.NotifyTo == "" {
			missing = append(missing, "notify_from and notify_to when smtp_host is set")
		}
		if cfg.Notify.SMTPPort <= 0 || cfg.Notify.SMTPPort > 65535 {
			invalid = append(invalid, "smtp_port must be in 1..65535")
		}
	}

	if cfg.Serve.MetricsPort <= 0 || cfg.Serve.MetricsPort > 65535 {
		invalid = append(invalid, "metrics_port must be in 1..65535")
	}

	if len(missing) == 0 && len(invalid) == 0 {
		return nil
	}

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		parts = append(parts, "invalid: "+strings.Join(invalid, ", "))
	}
	return fmt.Errorf("configuration errors: %s", strings.Join(parts, " | "))
}
