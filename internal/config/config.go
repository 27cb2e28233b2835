// Package config loads daemon configuration from defaults, an optional config file
// and AUTOTUNEZ_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/MatthewCalhoun/AutoTunez/internal/identitycache"
	"github.com/MatthewCalhoun/AutoTunez/internal/overlay"
	"github.com/MatthewCalhoun/AutoTunez/internal/wallet"
)

// EnvPrefix prefixes every environment override, e.g. AUTOTUNEZ_OVERLAY_HOSTS.
const EnvPrefix = "AUTOTUNEZ"

// Config is the daemon configuration.
type Config struct {
	Network    string    `mapstructure:"network" validate:"oneof=main test"`
	ListenAddr string    `mapstructure:"listen_addr" validate:"required,hostname_port"`
	TLSAddr    string    `mapstructure:"tls_addr" validate:"omitempty,hostname_port"`
	TLS        TLSConfig `mapstructure:"tls"`
	DataDir    string    `mapstructure:"data_dir" validate:"required"`
	LogLevel   string    `mapstructure:"log_level" validate:"oneof=debug info warn error"`

	Overlay OverlayConfig `mapstructure:"overlay"`
	API     APIConfig     `mapstructure:"api"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Wallet  WalletConfig  `mapstructure:"wallet"`
}

// TLSConfig describes the self-signed certificate of the HTTPS listener.
type TLSConfig struct {
	CertHosts    []string      `mapstructure:"cert_hosts"`
	CertValidity time.Duration `mapstructure:"cert_validity" validate:"gte=0"`
}

// OverlayConfig selects the lookup hosts and the certifiers queried on them.
type OverlayConfig struct {
	Hosts      []string      `mapstructure:"hosts" validate:"min=1,dive,url"`
	Service    string        `mapstructure:"service" validate:"required"`
	Certifiers []string      `mapstructure:"certifiers" validate:"dive,hexadecimal,len=66"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// APIConfig points at the secondary identity directory.
type APIConfig struct {
	URL             string `mapstructure:"url" validate:"omitempty,url"`
	ResolveFallback bool   `mapstructure:"resolve_fallback"`
}

// CacheConfig selects and configures the identity cache store.
type CacheConfig struct {
	Backend       string        `mapstructure:"backend" validate:"oneof=memory file sqlite redis"`
	Namespace     string        `mapstructure:"namespace" validate:"required"`
	MaxAge        time.Duration `mapstructure:"max_age" validate:"gte=0"`
	RedisAddr     string        `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" validate:"gte=0"`
}

// WalletConfig locates the wallet identity file.
type WalletConfig struct {
	KeyFile string `mapstructure:"key_file"`
}

// DefaultDataDir returns ~/.autotunez.
func DefaultDataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".autotunez"), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network", "main")
	v.SetDefault("listen_addr", "127.0.0.1:3330")
	v.SetDefault("tls_addr", "")
	v.SetDefault("tls.cert_hosts", []string{})
	v.SetDefault("tls.cert_validity", time.Duration(0))
	v.SetDefault("data_dir", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("overlay.hosts", []string{})
	v.SetDefault("overlay.service", overlay.IdentityService)
	v.SetDefault("overlay.certifiers", []string{})
	v.SetDefault("overlay.timeout", overlay.DefaultTimeout)

	v.SetDefault("api.url", "")
	v.SetDefault("api.resolve_fallback", false)

	v.SetDefault("cache.backend", identitycache.BackendFile)
	v.SetDefault("cache.namespace", identitycache.DefaultNamespace)
	v.SetDefault("cache.max_age", time.Duration(0))
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("wallet.key_file", "")
}

// Load reads the configuration. path may be empty, in which case only defaults and
// the environment are used.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	network, err := wallet.ParseNetwork(c.Network)
	if err != nil {
		return err
	}
	c.Network = string(network)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))

	if c.DataDir == "" {
		if c.DataDir, err = DefaultDataDir(); err != nil {
			return err
		}
	} else if strings.HasPrefix(c.DataDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		c.DataDir = filepath.Join(homeDir, c.DataDir[2:])
	}

	c.Overlay.Hosts = compact(c.Overlay.Hosts)
	c.Overlay.Certifiers = compact(c.Overlay.Certifiers)
	c.TLS.CertHosts = compact(c.TLS.CertHosts)
	if len(c.Overlay.Hosts) == 0 {
		if c.Network == "test" {
			c.Overlay.Hosts = append([]string(nil), overlay.TestnetHosts...)
		} else {
			c.Overlay.Hosts = append([]string(nil), overlay.MainnetHosts...)
		}
	}
	return nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// StoreConfig returns the cache store settings.
func (c *Config) StoreConfig() identitycache.StoreConfig {
	return identitycache.StoreConfig{
		Backend:       c.Cache.Backend,
		DataDir:       c.DataDir,
		RedisAddr:     c.Cache.RedisAddr,
		RedisPassword: c.Cache.RedisPassword,
		RedisDB:       c.Cache.RedisDB,
	}
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
