package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/nulzo/llm-gateway-api/internal/core/domain"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig            `mapstructure:"server"`
	Redis        RedisConfig             `mapstructure:"redis"`
	RateLimit    RateLimitConfig         `mapstructure:"rate_limit"`
	Analytics    AnalyticsConfig         `mapstructure:"analytics"`
	Resolver     ResolverConfig          `mapstructure:"resolver"`
	Conversation ConversationConfig      `mapstructure:"conversation"`
	Providers    []domain.ProviderConfig `mapstructure:"providers"`

	// DefaultProvider scopes alias resolution when a request names no
	// provider explicitly.
	DefaultProvider string `mapstructure:"default_provider"`

	// Aliases maps provider name -> alias -> target. Targets may name a
	// plain model, another alias, or a `provider:alias` in a different
	// provider's table.
	Aliases map[string]map[string]string `mapstructure:"aliases"`

	// Fallbacks are consulted when an alias matches nothing anywhere.
	Fallbacks map[string]string `mapstructure:"fallbacks"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`

	// APIKeys lock the gateway itself down. Empty means open, with
	// client keys only forwarded to passthrough providers.
	APIKeys []string `mapstructure:"api_keys"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type AnalyticsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

type ResolverConfig struct {
	CacheSize    int `mapstructure:"cache_size"`
	CacheTTLSecs int `mapstructure:"cache_ttl"`
	MaxChainHops int `mapstructure:"max_chain_hops"`
}

type ConversationConfig struct {
	TTLMinutes int `mapstructure:"ttl_minutes"`
}

// Loader owns the viper instance so the config file can be watched for
// hot reloads after the initial load.
type Loader struct {
	v *viper.Viper
}

func NewLoader() *Loader {
	// Load .env file if present
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./internal/config")

	// CONFIG_FILE pins an explicit path, used by the benchmark harness.
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
	}

	// Default Values
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("analytics.enabled", false)
	v.SetDefault("analytics.dsn", "file:gateway.db?cache=shared&mode=rwc&_journal_mode=WAL&_busy_timeout=5000")
	v.SetDefault("resolver.cache_size", 1024)
	v.SetDefault("resolver.cache_ttl", 300)
	v.SetDefault("resolver.max_chain_hops", 8)
	v.SetDefault("conversation.ttl_minutes", 30)

	// Environment Variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

// Load reads configuration from file or environment variables.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return l.unmarshal()
}

// Watch re-reads the config file on change and hands the result to
// onReload. Unparseable edits are reported through onError and the
// previous config stays live.
func (l *Loader) Watch(onReload func(*Config), onError func(error)) {
	l.v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := l.unmarshal()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onReload(cfg)
	})
	l.v.WatchConfig()
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Resolve API key indirection: entries of the form ENV:VAR_NAME are
	// replaced with the variable's value.
	for i, p := range cfg.Providers {
		cfg.Providers[i].Order = i
		for j, key := range p.APIKeys {
			if envVar, found := strings.CutPrefix(key, "ENV:"); found {
				// Check process environment first (explicit override)
				val := os.Getenv(envVar)
				if val == "" {
					// Then check viper (which might have it from other sources)
					val = l.v.GetString(envVar)
				}
				cfg.Providers[i].APIKeys[j] = val
			}
		}
	}

	return &cfg, nil
}

// LoadConfig reads configuration once, without watching.
func LoadConfig() (*Config, error) {
	return NewLoader().Load()
}

// AliasTable builds the immutable resolver snapshot from the loaded
// configuration. Provider declaration order comes from the providers
// list, with alias-only providers appended after it.
func (c *Config) AliasTable() *domain.AliasTable {
	order := make([]string, 0, len(c.Providers))
	seen := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		name := strings.ToLower(p.Name)
		order = append(order, name)
		seen[name] = struct{}{}
	}
	for provider := range c.Aliases {
		if _, ok := seen[strings.ToLower(provider)]; !ok {
			order = append(order, strings.ToLower(provider))
		}
	}

	// Providers with no alias block still get an (empty) table so
	// provider-scoped resolution can see them.
	aliases := make(map[string]map[string]string, len(c.Aliases)+len(c.Providers))
	for provider, m := range c.Aliases {
		aliases[strings.ToLower(provider)] = m
	}
	for _, p := range c.Providers {
		name := strings.ToLower(p.Name)
		if _, ok := aliases[name]; !ok {
			aliases[name] = map[string]string{}
		}
	}

	return domain.NewAliasTable(aliases, c.DefaultProvider, c.Fallbacks, order)
}
