package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"genaiportal.org/internal/auth"
	"genaiportal.org/internal/playground"
)

const (
	defaultAddr     = ":8080"
	defaultTokenTTL = 12 * time.Hour
	defaultEnvFile  = ".env"
)

// RateLimit configures the per-client token buckets.
type RateLimit struct {
	RPS        float64 `yaml:"rps"`
	Burst      int     `yaml:"burst"`
	LoginRPS   float64 `yaml:"login_rps"`
	LoginBurst int     `yaml:"login_burst"`
}

// Config is the resolved server configuration.
type Config struct {
	Addr           string
	GRPCAddr       string
	DSN            string
	ConfigPath     string
	AuthSecret     string
	TokenTTL       time.Duration
	ChatURL        string
	ChatAPIKey     string
	AllowedOrigins []string
	TrustedProxies []netip.Prefix
	SeedDefaults   bool
	Users          []auth.SeedUser
	RateLimit      RateLimit
	Models         []playground.ModelConfig
}

// fileConfig is the optional YAML document named by -config.
type fileConfig struct {
	Users          []auth.SeedUser `yaml:"users"`
	RateLimit      *RateLimit      `yaml:"rate_limit"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	TrustedProxies []string        `yaml:"trusted_proxies"`
	Playground     struct {
		ChatURL string                   `yaml:"chat_url"`
		Models  []playground.ModelConfig `yaml:"models"`
	} `yaml:"playground"`
}

// DefaultRateLimit allows bursts for normal traffic and keeps login attempts slow.
func DefaultRateLimit() RateLimit {
	return RateLimit{RPS: 20, Burst: 40, LoginRPS: 1, LoginBurst: 5}
}

// Load resolves configuration from flags, then environment (after an optional .env
// file), then the YAML file. Flags win over environment.
func Load(args []string) (Config, error) {
	var (
		cfg     Config
		ttl     string
		envFile string
	)
	fset := flag.NewFlagSet("portal-api", flag.ContinueOnError)
	fset.StringVar(&cfg.Addr, "addr", "", "HTTP listen address")
	fset.StringVar(&cfg.GRPCAddr, "grpc-addr", "", "gRPC health listen address (empty disables)")
	fset.StringVar(&cfg.DSN, "dsn", "", "PostgreSQL DSN (empty uses the in-memory store)")
	fset.StringVar(&cfg.ConfigPath, "config", "", "Path to YAML config")
	fset.StringVar(&cfg.AuthSecret, "auth-secret", "", "Token signing secret (prefer env)")
	fset.StringVar(&ttl, "token-ttl", "", "Access token lifetime, e.g. 12h")
	fset.StringVar(&cfg.ChatURL, "chat-url", "", "Chat completions endpoint for live playground models")
	fset.StringVar(&envFile, "env-file", "", "Dotenv file loaded before reading the environment")
	fset.BoolVar(&cfg.SeedDefaults, "seed-defaults", false, "Provision the fixture accounts even when a DSN is set")
	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}

	if envFile == "" {
		envFile = os.Getenv("PORTAL_ENV_FILE")
	}
	explicitEnv := envFile != ""
	if envFile == "" {
		envFile = defaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil {
		if explicitEnv || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg.Addr = firstNonEmpty(cfg.Addr, os.Getenv("PORTAL_ADDR"), defaultAddr)
	cfg.GRPCAddr = firstNonEmpty(cfg.GRPCAddr, os.Getenv("PORTAL_GRPC_ADDR"))
	cfg.DSN = firstNonEmpty(cfg.DSN, os.Getenv("PORTAL_PG_DSN"))
	cfg.ConfigPath = firstNonEmpty(cfg.ConfigPath, os.Getenv("PORTAL_CONFIG"))
	cfg.AuthSecret = firstNonEmpty(cfg.AuthSecret, os.Getenv("PORTAL_AUTH_SECRET"))
	cfg.ChatURL = firstNonEmpty(cfg.ChatURL, os.Getenv("PORTAL_CHAT_URL"))
	cfg.ChatAPIKey = os.Getenv("PORTAL_CHAT_API_KEY")
	if origins := os.Getenv("PORTAL_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}
	if proxies := os.Getenv("PORTAL_TRUSTED_PROXIES"); proxies != "" {
		prefixes, err := ParsePrefixes(splitList(proxies))
		if err != nil {
			return Config{}, fmt.Errorf("PORTAL_TRUSTED_PROXIES: %w", err)
		}
		cfg.TrustedProxies = prefixes
	}
	if !cfg.SeedDefaults {
		if raw := os.Getenv("PORTAL_SEED_DEFAULTS"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return Config{}, errors.New("invalid PORTAL_SEED_DEFAULTS env variable")
			}
			cfg.SeedDefaults = v
		}
	}

	cfg.TokenTTL = defaultTokenTTL
	if raw := firstNonEmpty(ttl, os.Getenv("PORTAL_TOKEN_TTL")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("invalid token ttl %q", raw)
		}
		cfg.TokenTTL = d
	}

	cfg.RateLimit = DefaultRateLimit()
	if raw := os.Getenv("PORTAL_RATE_LIMIT_RPS"); raw != "" {
		rps, err := strconv.ParseFloat(raw, 64)
		if err != nil || rps <= 0 {
			return Config{}, errors.New("invalid PORTAL_RATE_LIMIT_RPS env variable")
		}
		cfg.RateLimit.RPS = rps
	}

	if cfg.ConfigPath != "" {
		if err := cfg.applyFile(cfg.ConfigPath); err != nil {
			return Config{}, err
		}
	}
	if len(cfg.Users) == 0 && (cfg.DSN == "" || cfg.SeedDefaults) {
		cfg.Users = auth.DefaultSeedUsers()
	}
	if len(cfg.Models) == 0 {
		cfg.Models = playground.DefaultModels()
	}

	if strings.TrimSpace(cfg.AuthSecret) == "" {
		return Config{}, errors.New("auth secret required (use -auth-secret or PORTAL_AUTH_SECRET env)")
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(fc.Users) > 0 {
		c.Users = fc.Users
	}
	if fc.RateLimit != nil {
		rl := *fc.RateLimit
		def := DefaultRateLimit()
		if rl.RPS <= 0 {
			rl.RPS = def.RPS
		}
		if rl.Burst <= 0 {
			rl.Burst = def.Burst
		}
		if rl.LoginRPS <= 0 {
			rl.LoginRPS = def.LoginRPS
		}
		if rl.LoginBurst <= 0 {
			rl.LoginBurst = def.LoginBurst
		}
		c.RateLimit = rl
	}
	if len(fc.AllowedOrigins) > 0 && len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = fc.AllowedOrigins
	}
	if len(fc.TrustedProxies) > 0 && len(c.TrustedProxies) == 0 {
		prefixes, err := ParsePrefixes(fc.TrustedProxies)
		if err != nil {
			return fmt.Errorf("config %s: trusted_proxies: %w", path, err)
		}
		c.TrustedProxies = prefixes
	}
	if c.ChatURL == "" {
		c.ChatURL = fc.Playground.ChatURL
	}
	if len(fc.Playground.Models) > 0 {
		c.Models = fc.Playground.Models
	}
	return nil
}

// SeedUsers returns the users declared in the YAML file at path. The fixture
// accounts are returned only when the file declares none and defaults is set.
func SeedUsers(path string, defaults bool) ([]auth.SeedUser, error) {
	var c Config
	if strings.TrimSpace(path) != "" {
		if err := c.applyFile(path); err != nil {
			return nil, err
		}
	}
	if len(c.Users) == 0 && defaults {
		return auth.DefaultSeedUsers(), nil
	}
	return c.Users, nil
}

// ParsePrefixes accepts CIDR ranges or bare addresses, the latter as single-host prefixes.
func ParsePrefixes(values []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
