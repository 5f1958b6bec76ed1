package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config represents the persistent mnemo configuration stored as config.toml
// in the .mnemo/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version   int             `toml:"version"`
	Context   ContextConfig   `toml:"context"`
	Facts     FactsConfig     `toml:"facts"`
	Storage   StorageConfig   `toml:"storage"`
	Lock      LockConfig      `toml:"lock"`
	Tokenizer TokenizerConfig `toml:"tokenizer"`
	API       APIConfig       `toml:"api"`
	Events    EventsConfig    `toml:"events"`
}

// ContextConfig holds context window budgeting settings.
type ContextConfig struct {
	// Budget is the total token allowance for an assembled context.
	Budget int `toml:"budget"`

	// Reserve is withheld from Budget for system prompt and tool overhead.
	Reserve int `toml:"reserve"`
}

// FactsConfig holds fact store policy settings.
type FactsConfig struct {
	TokenCeiling        int     `toml:"token_ceiling"`
	PruneDaysThreshold  int     `toml:"prune_days_threshold"`
	PruneReferenceFloor int     `toml:"prune_reference_floor"`
	MinContentLength    int     `toml:"min_content_length"`
	DefaultConfidence   float64 `toml:"default_confidence"`

	// Resource names the fact document in storage.
	Resource string `toml:"resource,omitempty"`

	// PruneSchedule is a cron spec for prune_stale under "mnemo serve".
	// Empty disables scheduled pruning.
	PruneSchedule string `toml:"prune_schedule,omitempty"`
}

// StorageConfig holds storage backend settings.
type StorageConfig struct {
	// Dir holds the message partitions, and the fact document, audit trail
	// and lock files when the file providers are used. Empty means the data
	// directory inside .mnemo/.
	Dir string `toml:"dir,omitempty"`

	// Provider is the fact store backend: "file", "memory", "sqlite" or
	// "postgres".
	Provider    string `toml:"provider,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`

	// Period is the message partition granularity: "monthly" or "daily".
	Period string `toml:"period,omitempty"`
}

// LockConfig holds advisory lock settings.
type LockConfig struct {
	// Provider is "file", "memory" or "redis".
	Provider   string `toml:"provider,omitempty"`
	RedisAddr  string `toml:"redis_addr,omitempty"`
	Retries    int    `toml:"retries"`
	Backoff    string `toml:"backoff,omitempty"`
	MaxBackoff string `toml:"max_backoff,omitempty"`
	TTL        string `toml:"ttl,omitempty"`
}

// TokenizerConfig selects the token estimator.
type TokenizerConfig struct {
	// Provider is "chars" or "tiktoken".
	Provider string `toml:"provider,omitempty"`
	Encoding string `toml:"encoding,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// EventsConfig holds event stream settings.
type EventsConfig struct {
	// Provider is "nop" or "kafka".
	Provider string   `toml:"provider,omitempty"`
	Brokers  []string `toml:"brokers,omitempty"`
	Topic    string   `toml:"topic,omitempty"`
}

// Durations parses the lock timing settings. Empty values yield zero.
func (l LockConfig) Durations() (backoff, maxBackoff, ttl time.Duration, err error) {
	parse := func(key, v string) (time.Duration, error) {
		if v == "" {
			return 0, nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid value for lock.%s: %w", key, err)
		}
		return d, nil
	}

	if backoff, err = parse("backoff", l.Backoff); err != nil {
		return
	}
	if maxBackoff, err = parse("max_backoff", l.MaxBackoff); err != nil {
		return
	}
	ttl, err = parse("ttl", l.TTL)
	return
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func intKey(name string, field func(c *Config) *int) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.Itoa(*field(c)) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			if n < 0 {
				return fmt.Errorf("invalid value for %s: must not be negative", name)
			}
			*field(c) = n
			return nil
		},
	}
}

func durationKey(name string, field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error {
			if _, err := time.ParseDuration(v); err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = v
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"context.budget":  intKey("context.budget", func(c *Config) *int { return &c.Context.Budget }),
	"context.reserve": intKey("context.reserve", func(c *Config) *int { return &c.Context.Reserve }),

	"facts.token_ceiling":         intKey("facts.token_ceiling", func(c *Config) *int { return &c.Facts.TokenCeiling }),
	"facts.prune_days_threshold":  intKey("facts.prune_days_threshold", func(c *Config) *int { return &c.Facts.PruneDaysThreshold }),
	"facts.prune_reference_floor": intKey("facts.prune_reference_floor", func(c *Config) *int { return &c.Facts.PruneReferenceFloor }),
	"facts.min_content_length":    intKey("facts.min_content_length", func(c *Config) *int { return &c.Facts.MinContentLength }),
	"facts.default_confidence": {
		get: func(c *Config) string { return strconv.FormatFloat(c.Facts.DefaultConfidence, 'f', -1, 64) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for facts.default_confidence: %w", err)
			}
			if f < 0 || f > 1 {
				return fmt.Errorf("invalid value for facts.default_confidence: %v is outside [0,1]", f)
			}
			c.Facts.DefaultConfidence = f
			return nil
		},
	},
	"facts.resource":       stringKey(func(c *Config) *string { return &c.Facts.Resource }),
	"facts.prune_schedule": stringKey(func(c *Config) *string { return &c.Facts.PruneSchedule }),

	"storage.dir":          stringKey(func(c *Config) *string { return &c.Storage.Dir }),
	"storage.provider":     stringKey(func(c *Config) *string { return &c.Storage.Provider }),
	"storage.sqlite_path":  stringKey(func(c *Config) *string { return &c.Storage.SQLitePath }),
	"storage.postgres_dsn": stringKey(func(c *Config) *string { return &c.Storage.PostgresDSN }),
	"storage.period":       stringKey(func(c *Config) *string { return &c.Storage.Period }),

	"lock.provider":    stringKey(func(c *Config) *string { return &c.Lock.Provider }),
	"lock.redis_addr":  stringKey(func(c *Config) *string { return &c.Lock.RedisAddr }),
	"lock.retries":     intKey("lock.retries", func(c *Config) *int { return &c.Lock.Retries }),
	"lock.backoff":     durationKey("lock.backoff", func(c *Config) *string { return &c.Lock.Backoff }),
	"lock.max_backoff": durationKey("lock.max_backoff", func(c *Config) *string { return &c.Lock.MaxBackoff }),
	"lock.ttl":         durationKey("lock.ttl", func(c *Config) *string { return &c.Lock.TTL }),

	"tokenizer.provider": stringKey(func(c *Config) *string { return &c.Tokenizer.Provider }),
	"tokenizer.encoding": stringKey(func(c *Config) *string { return &c.Tokenizer.Encoding }),

	"api.listen": stringKey(func(c *Config) *string { return &c.API.Listen }),

	"events.provider": stringKey(func(c *Config) *string { return &c.Events.Provider }),
	"events.topic":    stringKey(func(c *Config) *string { return &c.Events.Topic }),
	"events.brokers": {
		get: func(c *Config) string { return strings.Join(c.Events.Brokers, ",") },
		set: func(c *Config, v string) error {
			c.Events.Brokers = nil
			for _, b := range strings.Split(v, ",") {
				if b = strings.TrimSpace(b); b != "" {
					c.Events.Brokers = append(c.Events.Brokers, b)
				}
			}
			return nil
		},
	},
}
