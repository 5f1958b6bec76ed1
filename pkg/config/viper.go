package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/papercomputeco/mnemo/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the MNEMO_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (MNEMO_CONTEXT_BUDGET, MNEMO_LOCK_PROVIDER, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: MNEMO_CONTEXT_BUDGET, MNEMO_STORAGE_DIR, etc.
	v.SetEnvPrefix("MNEMO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// FromViper materializes a Config from the merged viper state.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Version: v.GetInt("version"),
		Context: ContextConfig{
			Budget:  v.GetInt("context.budget"),
			Reserve: v.GetInt("context.reserve"),
		},
		Facts: FactsConfig{
			TokenCeiling:        v.GetInt("facts.token_ceiling"),
			PruneDaysThreshold:  v.GetInt("facts.prune_days_threshold"),
			PruneReferenceFloor: v.GetInt("facts.prune_reference_floor"),
			MinContentLength:    v.GetInt("facts.min_content_length"),
			DefaultConfidence:   v.GetFloat64("facts.default_confidence"),
			Resource:            v.GetString("facts.resource"),
			PruneSchedule:       v.GetString("facts.prune_schedule"),
		},
		Storage: StorageConfig{
			Dir:         v.GetString("storage.dir"),
			Provider:    v.GetString("storage.provider"),
			SQLitePath:  v.GetString("storage.sqlite_path"),
			PostgresDSN: v.GetString("storage.postgres_dsn"),
			Period:      v.GetString("storage.period"),
		},
		Lock: LockConfig{
			Provider:   v.GetString("lock.provider"),
			RedisAddr:  v.GetString("lock.redis_addr"),
			Retries:    v.GetInt("lock.retries"),
			Backoff:    v.GetString("lock.backoff"),
			MaxBackoff: v.GetString("lock.max_backoff"),
			TTL:        v.GetString("lock.ttl"),
		},
		Tokenizer: TokenizerConfig{
			Provider: v.GetString("tokenizer.provider"),
			Encoding: v.GetString("tokenizer.encoding"),
		},
		API: APIConfig{
			Listen: v.GetString("api.listen"),
		},
		Events: EventsConfig{
			Provider: v.GetString("events.provider"),
			Brokers:  v.GetStringSlice("events.brokers"),
			Topic:    v.GetString("events.topic"),
		},
	}

	if len(cfg.Events.Brokers) == 0 {
		cfg.Events.Brokers = nil
	}

	if cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}
	if _, _, _, err := cfg.Lock.Durations(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Context
	v.SetDefault("context.budget", d.Context.Budget)
	v.SetDefault("context.reserve", d.Context.Reserve)

	// Facts
	v.SetDefault("facts.token_ceiling", d.Facts.TokenCeiling)
	v.SetDefault("facts.prune_days_threshold", d.Facts.PruneDaysThreshold)
	v.SetDefault("facts.prune_reference_floor", d.Facts.PruneReferenceFloor)
	v.SetDefault("facts.min_content_length", d.Facts.MinContentLength)
	v.SetDefault("facts.default_confidence", d.Facts.DefaultConfidence)
	v.SetDefault("facts.resource", d.Facts.Resource)
	v.SetDefault("facts.prune_schedule", d.Facts.PruneSchedule)

	// Storage
	v.SetDefault("storage.dir", d.Storage.Dir)
	v.SetDefault("storage.provider", d.Storage.Provider)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.postgres_dsn", d.Storage.PostgresDSN)
	v.SetDefault("storage.period", d.Storage.Period)

	// Lock
	v.SetDefault("lock.provider", d.Lock.Provider)
	v.SetDefault("lock.redis_addr", d.Lock.RedisAddr)
	v.SetDefault("lock.retries", d.Lock.Retries)
	v.SetDefault("lock.backoff", d.Lock.Backoff)
	v.SetDefault("lock.max_backoff", d.Lock.MaxBackoff)
	v.SetDefault("lock.ttl", d.Lock.TTL)

	// Tokenizer
	v.SetDefault("tokenizer.provider", d.Tokenizer.Provider)
	v.SetDefault("tokenizer.encoding", d.Tokenizer.Encoding)

	// API
	v.SetDefault("api.listen", d.API.Listen)

	// Events
	v.SetDefault("events.provider", d.Events.Provider)
	v.SetDefault("events.brokers", d.Events.Brokers)
	v.SetDefault("events.topic", d.Events.Topic)
}
