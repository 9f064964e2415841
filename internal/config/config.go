package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Auth      AuthConfig      `yaml:"auth"`
	Azure     AzureConfig     `yaml:"azure"`
	Batch     BatchConfig     `yaml:"batch"`
	Reports   ReportsConfig   `yaml:"reports"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuthConfig describes the identity provider that issues bearer tokens.
// Issuer and DiscoveryURL are derived from TenantID when left empty.
type AuthConfig struct {
	TenantID     string        `yaml:"tenant_id"`
	Issuer       string        `yaml:"issuer"`
	Audience     string        `yaml:"audience"`
	DiscoveryURL string        `yaml:"discovery_url"`
	JWKSURL      string        `yaml:"jwks_url"` // skips discovery when set
	Algorithms   []string      `yaml:"algorithms"`
	ClockSkew    time.Duration `yaml:"clock_skew"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
}

type AzureConfig struct {
	ManagementURL     string        `yaml:"management_url"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 disables pacing
	Burst             int           `yaml:"burst"`
}

type BatchConfig struct {
	Size              int           `yaml:"size"`
	RetryMax          int           `yaml:"retry_max"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
}

type ReportsConfig struct {
	DefenderTopN int `yaml:"defender_top_n"`
	TopN         int `yaml:"top_n"`
}

type RateLimitConfig struct {
	Default int           `yaml:"default"`
	Window  time.Duration `yaml:"window"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Load reads an optional .env file, then the YAML file at path (if any), and
// finally applies environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		expanded := expandEnvVars(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.Auth.derive()

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         3001,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Auth: AuthConfig{
			Audience:    "https://management.azure.com",
			Algorithms:  []string{"RS256"},
			ClockSkew:   time.Minute,
			HTTPTimeout: 10 * time.Second,
		},
		Azure: AzureConfig{
			ManagementURL: "https://management.azure.com",
			HTTPTimeout:   60 * time.Second,
		},
		Batch: BatchConfig{
			Size:              5,
			RetryMax:          5,
			RetryInitialDelay: time.Second,
		},
		Reports: ReportsConfig{
			DefenderTopN: 5,
			TopN:         10,
		},
		RateLimit: RateLimitConfig{
			Default: 60,
			Window:  time.Minute,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
		},
	}
}

func expandEnvVars(s string) string {
	return os.ExpandEnv(s)
}

func applyEnvOverrides(cfg *Config) {
	if v := firstEnv("COSTSCOPE_PORT", "PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("COSTSCOPE_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("COSTSCOPE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := firstEnv("COSTSCOPE_TENANT_ID", "AZURE_TENANT_ID"); v != "" {
		cfg.Auth.TenantID = v
	}
	if v := os.Getenv("COSTSCOPE_ISSUER"); v != "" {
		cfg.Auth.Issuer = v
	}
	if v := os.Getenv("COSTSCOPE_AUDIENCE"); v != "" {
		cfg.Auth.Audience = v
	}
	if v := os.Getenv("COSTSCOPE_JWKS_URL"); v != "" {
		cfg.Auth.JWKSURL = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORS.AllowedOrigins = splitList(v)
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// derive fills the issuer and discovery endpoint from the tenant id.
func (a *AuthConfig) derive() {
	if a.TenantID == "" {
		return
	}
	if a.Issuer == "" {
		a.Issuer = fmt.Sprintf("https://sts.windows.net/%s/", a.TenantID)
	}
	if a.DiscoveryURL == "" && a.JWKSURL == "" {
		a.DiscoveryURL = fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0/.well-known/openid-configuration", a.TenantID)
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, errors.New("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, errors.New("server.write_timeout must be positive"))
	}
	if c.Auth.Issuer == "" {
		errs = append(errs, errors.New("auth.issuer or auth.tenant_id is required"))
	}
	if c.Auth.Audience == "" {
		errs = append(errs, errors.New("auth.audience is required"))
	}
	if c.Auth.DiscoveryURL == "" && c.Auth.JWKSURL == "" {
		errs = append(errs, errors.New("auth.discovery_url or auth.jwks_url is required"))
	}
	if len(c.Auth.Algorithms) == 0 {
		errs = append(errs, errors.New("auth.algorithms must not be empty"))
	}
	for _, alg := range c.Auth.Algorithms {
		if strings.HasPrefix(strings.ToUpper(alg), "HS") || strings.EqualFold(alg, "none") {
			errs = append(errs, fmt.Errorf("auth.algorithms: %q is not an asymmetric algorithm", alg))
		}
	}
	if c.Azure.ManagementURL == "" {
		errs = append(errs, errors.New("azure.management_url is required"))
	}
	if c.Azure.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("azure.http_timeout must be positive"))
	}
	if c.Azure.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("azure.requests_per_second must not be negative"))
	}
	if c.Batch.Size < 1 {
		errs = append(errs, errors.New("batch.size must be at least 1"))
	}
	if c.Batch.RetryMax < 0 {
		errs = append(errs, errors.New("batch.retry_max must not be negative"))
	}
	if c.Batch.RetryInitialDelay <= 0 {
		errs = append(errs, errors.New("batch.retry_initial_delay must be positive"))
	}
	if c.Reports.TopN < 1 || c.Reports.DefenderTopN < 1 {
		errs = append(errs, errors.New("reports top-N limits must be at least 1"))
	}
	if c.RateLimit.Default < 0 {
		errs = append(errs, errors.New("rate_limit.default must not be negative"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
