package escrowd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for escrowd.
type Config struct {
	ListenAddress string             `yaml:"listen" toml:"listen"`
	DataDir       string             `yaml:"data_dir" toml:"data_dir"`
	JournalPath   string             `yaml:"journal" toml:"journal"`
	Escrow        EscrowConfig       `yaml:"escrow" toml:"escrow"`
	Tokens        []TokenConfig      `yaml:"tokens" toml:"tokens"`
	Genesis       []AllocationConfig `yaml:"genesis" toml:"genesis"`
	Auth          AuthConfig         `yaml:"auth" toml:"auth"`
	RateLimit     RateLimitConfig    `yaml:"rate_limit" toml:"rate_limit"`
	Log           LogConfig          `yaml:"log" toml:"log"`
}

// EscrowConfig describes the escrow instance served by the daemon. Asset is
// either a token address or "native" (empty) for the chain coin.
type EscrowConfig struct {
	Address  string `yaml:"address" toml:"address"`
	Owner    string `yaml:"owner" toml:"owner"`
	Asset    string `yaml:"asset" toml:"asset"`
	Admin    string `yaml:"admin" toml:"admin"`
	Exchange string `yaml:"exchange" toml:"exchange"`
}

// TokenConfig declares a fungible token deployed at genesis.
type TokenConfig struct {
	Address       string `yaml:"address" toml:"address"`
	Symbol        string `yaml:"symbol" toml:"symbol"`
	Name          string `yaml:"name" toml:"name"`
	Decimals      uint8  `yaml:"decimals" toml:"decimals"`
	FeeBps        uint32 `yaml:"fee_bps" toml:"fee_bps"`
	FlatFee       uint64 `yaml:"flat_fee" toml:"flat_fee"`
	MintAuthority string `yaml:"mint_authority" toml:"mint_authority"`
}

// AllocationConfig credits a holder at genesis. An empty asset credits the
// native coin; token allocations are minted by the token's mint authority.
type AllocationConfig struct {
	Holder string `yaml:"holder" toml:"holder"`
	Asset  string `yaml:"asset" toml:"asset"`
	Amount string `yaml:"amount" toml:"amount"`
}

// AuthConfig controls challenge login and session tokens.
type AuthConfig struct {
	HMACSecret     string   `yaml:"hmac_secret" toml:"hmac_secret"`
	HMACSecretEnv  string   `yaml:"hmac_secret_env" toml:"hmac_secret_env"`
	HMACSecretFile string   `yaml:"hmac_secret_file" toml:"hmac_secret_file"`
	Issuer         string   `yaml:"issuer" toml:"issuer"`
	TokenTTL       Duration `yaml:"token_ttl" toml:"token_ttl"`
	ChallengeTTL   Duration `yaml:"challenge_ttl" toml:"challenge_ttl"`
	ClockSkew      Duration `yaml:"clock_skew" toml:"clock_skew"`
}

// RateLimitConfig bounds requests per client address.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// LogConfig tunes structured logging.
type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// LoadConfig reads configuration from the supplied path. Files ending in
// .toml are decoded as TOML, everything else as YAML.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	} else {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyDefaults(&cfg)
	if err := cfg.Auth.normalise(); err != nil {
		return cfg, fmt.Errorf("auth: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data/escrowd"
	}
	if cfg.JournalPath == "" {
		cfg.JournalPath = filepath.Join(cfg.DataDir, "journal.db")
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "escrowd"
	}
	if cfg.Auth.TokenTTL.Duration == 0 {
		cfg.Auth.TokenTTL.Duration = 15 * time.Minute
	}
	if cfg.Auth.ChallengeTTL.Duration == 0 {
		cfg.Auth.ChallengeTTL.Duration = 2 * time.Minute
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 30 * time.Second
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 100
	}
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Escrow.Owner) == "" {
		return fmt.Errorf("escrow owner must be configured")
	}
	if len(cfg.Auth.HMACSecret) < 32 {
		return fmt.Errorf("auth hmac secret must be at least 32 bytes")
	}
	for i, tok := range cfg.Tokens {
		if strings.TrimSpace(tok.Address) == "" {
			return fmt.Errorf("tokens[%d]: address must be configured", i)
		}
		if tok.FeeBps > 10_000 {
			return fmt.Errorf("tokens[%d]: fee_bps must not exceed 10000", i)
		}
	}
	for i, alloc := range cfg.Genesis {
		if strings.TrimSpace(alloc.Holder) == "" || strings.TrimSpace(alloc.Amount) == "" {
			return fmt.Errorf("genesis[%d]: holder and amount must be configured", i)
		}
	}
	return nil
}

func (a *AuthConfig) normalise() error {
	if a == nil {
		return fmt.Errorf("auth configuration missing")
	}
	a.HMACSecret = strings.TrimSpace(a.HMACSecret)
	a.HMACSecretEnv = strings.TrimSpace(a.HMACSecretEnv)
	a.HMACSecretFile = strings.TrimSpace(a.HMACSecretFile)
	if a.HMACSecret != "" {
		return nil
	}
	switch {
	case a.HMACSecretEnv != "":
		value := strings.TrimSpace(os.Getenv(a.HMACSecretEnv))
		if value == "" {
			return fmt.Errorf("hmac_secret_env %s is empty", a.HMACSecretEnv)
		}
		a.HMACSecret = value
	case a.HMACSecretFile != "":
		contents, err := os.ReadFile(a.HMACSecretFile)
		if err != nil {
			return fmt.Errorf("read hmac_secret_file: %w", err)
		}
		a.HMACSecret = strings.TrimSpace(string(contents))
	default:
		return fmt.Errorf("hmac_secret is required")
	}
	return nil
}
