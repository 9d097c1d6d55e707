package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/nanosip/nanosip-license/pkg/licensing"
)

const (
	DefaultEnvFile          = "/etc/nanosip/license.env"
	DefaultEndpoint         = "https://gerenciamento.bar7cordas.com.br/api/ativar_licenca"
	DefaultServiceUnit      = "asterisk"
	DefaultServiceTimeout   = 30 * time.Second
	DefaultNetInterface     = "eth0"
	DefaultCheckSchedule    = "*/30 * * * *"
	DefaultPostCheckCommand = "/opt/nanosip/system_manager.sh apply_config"
	DefaultPostCheckTimeout = 2 * time.Minute
	DefaultMetricsAddr      = "127.0.0.1:9109"
	DefaultLogFile          = "/var/log/nanosip/nanosip_license.log"

	StorageFile   = "file"
	StorageBolt   = "bolt"
	StorageSQLite = "sqlite"

	boltFileName   = "license.db"
	sqliteFileName = "license.sqlite"
)

// ScheduleParser accepts standard five-field cron expressions.
var ScheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Config holds runtime settings for the license tool.
type Config struct {
	EnvFile string

	Endpoint        string
	Timeout         time.Duration
	TLSFingerprint  string
	ProductPhysical string
	ProductVirtual  string
	DNSCacheTTL     time.Duration

	ServiceUnit    string
	ServiceTimeout time.Duration

	ToleranceDays int
	FailOpen      bool

	Storage      string
	LicenseDir   string
	LicenseFile  string
	NetInterface string

	CheckSchedule    string
	PostCheckCommand string
	PostCheckTimeout time.Duration
	MetricsAddr      string

	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxAgeDays int
	LogCompress   bool
}

// Load reads configuration from the environment. The env file named by
// NANOSIP_ENV_FILE (default /etc/nanosip/license.env) and a local .env are
// loaded first when present; variables already set in the environment win.
func Load() (*Config, error) {
	envFile := envOrDefault("NANOSIP_ENV_FILE", DefaultEnvFile)
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file %s: %w", envFile, err)
	}
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	var errs []error
	duration := func(key string, fallback time.Duration) time.Duration {
		d, err := envOrDefaultDuration(key, fallback)
		errs = append(errs, err)
		return d
	}
	integer := func(key string, fallback int) int {
		n, err := envOrDefaultInt(key, fallback)
		errs = append(errs, err)
		return n
	}
	boolean := func(key string, fallback bool) bool {
		b, err := envOrDefaultBool(key, fallback)
		errs = append(errs, err)
		return b
	}

	cfg := &Config{
		EnvFile:          envFile,
		Endpoint:         envOrDefault("NANOSIP_LICENSE_ENDPOINT", DefaultEndpoint),
		Timeout:          duration("NANOSIP_LICENSE_TIMEOUT", licensing.DefaultActivationTimeout),
		TLSFingerprint:   strings.TrimSpace(os.Getenv("NANOSIP_LICENSE_TLS_FINGERPRINT")),
		ProductPhysical:  envOrDefault("NANOSIP_PRODUCT_PHYSICAL", licensing.DefaultProductPhysical),
		ProductVirtual:   envOrDefault("NANOSIP_PRODUCT_VIRTUAL", licensing.DefaultProductVirtual),
		DNSCacheTTL:      duration("NANOSIP_DNS_CACHE_TTL", 5*time.Minute),
		ServiceUnit:      envOrDefault("NANOSIP_SERVICE_UNIT", DefaultServiceUnit),
		ServiceTimeout:   duration("NANOSIP_SERVICE_TIMEOUT", DefaultServiceTimeout),
		ToleranceDays:    integer("NANOSIP_TOLERANCE_DAYS", licensing.DefaultToleranceDays),
		FailOpen:         boolean("NANOSIP_FAIL_OPEN", true),
		Storage:          strings.ToLower(envOrDefault("NANOSIP_STORAGE", StorageFile)),
		LicenseDir:       envOrDefault("NANOSIP_LICENSE_DIR", licensing.DefaultLicenseDir),
		LicenseFile:      envOrDefault("NANOSIP_LICENSE_FILE", licensing.DefaultLicenseFileName),
		NetInterface:     envOrDefault("NANOSIP_NET_IFACE", DefaultNetInterface),
		CheckSchedule:    envOrDefault("NANOSIP_CHECK_SCHEDULE", DefaultCheckSchedule),
		PostCheckCommand: envOrDefaultAllowEmpty("NANOSIP_POST_CHECK_COMMAND", DefaultPostCheckCommand),
		PostCheckTimeout: duration("NANOSIP_POST_CHECK_TIMEOUT", DefaultPostCheckTimeout),
		MetricsAddr:      envOrDefaultAllowEmpty("NANOSIP_METRICS_ADDR", DefaultMetricsAddr),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "auto"),
		LogFile:          envOrDefaultAllowEmpty("NANOSIP_LOG_FILE", DefaultLogFile),
		LogMaxSizeMB:     integer("NANOSIP_LOG_MAX_SIZE_MB", 10),
		LogMaxAgeDays:    integer("NANOSIP_LOG_MAX_AGE_DAYS", 30),
		LogCompress:      boolean("NANOSIP_LOG_COMPRESS", true),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate license config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var problems []error

	parsed, err := url.Parse(c.Endpoint)
	switch {
	case err != nil:
		problems = append(problems, fmt.Errorf("NANOSIP_LICENSE_ENDPOINT must be a valid URL: %w", err))
	case parsed.Scheme != "http" && parsed.Scheme != "https":
		problems = append(problems, errors.New("NANOSIP_LICENSE_ENDPOINT must use http or https scheme"))
	case parsed.Host == "":
		problems = append(problems, errors.New("NANOSIP_LICENSE_ENDPOINT must include a host"))
	}

	if c.Timeout <= 0 {
		problems = append(problems, fmt.Errorf("NANOSIP_LICENSE_TIMEOUT must be positive, got %s", c.Timeout))
	}
	if c.ServiceTimeout <= 0 {
		problems = append(problems, fmt.Errorf("NANOSIP_SERVICE_TIMEOUT must be positive, got %s", c.ServiceTimeout))
	}
	if c.ToleranceDays < 0 {
		problems = append(problems, fmt.Errorf("NANOSIP_TOLERANCE_DAYS must not be negative, got %d", c.ToleranceDays))
	}
	switch c.Storage {
	case StorageFile, StorageBolt, StorageSQLite:
	default:
		problems = append(problems, fmt.Errorf("NANOSIP_STORAGE must be one of file, bolt, sqlite; got %q", c.Storage))
	}
	if strings.ContainsRune(c.LicenseFile, filepath.Separator) {
		problems = append(problems, fmt.Errorf("NANOSIP_LICENSE_FILE must be a file name, got %q", c.LicenseFile))
	}
	if c.TLSFingerprint != "" {
		fp := strings.ReplaceAll(c.TLSFingerprint, ":", "")
		if len(fp) != 64 {
			problems = append(problems, errors.New("NANOSIP_LICENSE_TLS_FINGERPRINT must be a SHA-256 fingerprint"))
		}
	}
	if _, err := ScheduleParser.Parse(c.CheckSchedule); err != nil {
		problems = append(problems, fmt.Errorf("NANOSIP_CHECK_SCHEDULE is invalid: %w", err))
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			problems = append(problems, fmt.Errorf("NANOSIP_METRICS_ADDR must be host:port: %w", err))
		}
	}
	return errors.Join(problems...)
}

// Policy returns the evaluation policy described by the configuration.
func (c *Config) Policy() licensing.Policy {
	return licensing.Policy{ToleranceDays: c.ToleranceDays, FailOpenUnknown: c.FailOpen}
}

// LicensePath returns the file that holds the license record for the
// configured storage backend.
func (c *Config) LicensePath() string {
	switch c.Storage {
	case StorageBolt:
		return filepath.Join(c.LicenseDir, boltFileName)
	case StorageSQLite:
		return filepath.Join(c.LicenseDir, sqliteFileName)
	default:
		return filepath.Join(c.LicenseDir, c.LicenseFile)
	}
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// envOrDefaultAllowEmpty lets an explicitly empty variable disable a feature.
func envOrDefaultAllowEmpty(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultBool(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
		return fallback, nil
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
}

// envOrDefaultDuration accepts Go durations ("45s") or bare seconds ("45").
func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
