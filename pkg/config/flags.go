package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline. This prevents flag drift
// when the same logical flag appears on multiple commands (e.g., --budget
// on both "mnemo context" and "mnemo serve").
type Flag struct {
	// Name is the long flag name (e.g. "budget").
	Name string

	// Shorthand is the one-letter short flag (e.g. "b"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "context.budget").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddIntFlag,
// and BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagBudget          = "budget"
	FlagReserve         = "reserve"
	FlagStorageDir      = "storage-dir"
	FlagStorageProvider = "storage"
	FlagSQLite          = "sqlite"
	FlagPostgres        = "postgres"
	FlagLockProvider    = "lock"
	FlagRedisAddr       = "redis-addr"
	FlagTokenizer       = "tokenizer"
	FlagResource        = "resource"
	FlagAPIListen       = "listen"
	FlagPruneSchedule   = "prune-schedule"
	FlagEventsProvider  = "events"
	FlagEventsTopic     = "events-topic"
)

// Flags is the registry of every shared flag.
var Flags = FlagSet{
	FlagBudget:          {Name: "budget", Shorthand: "b", ViperKey: "context.budget", Description: "Total context token budget"},
	FlagReserve:         {Name: "reserve", ViperKey: "context.reserve", Description: "Tokens withheld for system prompt and tool overhead"},
	FlagStorageDir:      {Name: "storage-dir", ViperKey: "storage.dir", Description: "Directory for message partitions, audit trail and lock files"},
	FlagStorageProvider: {Name: "storage", ViperKey: "storage.provider", Description: "Fact store backend (file, memory, sqlite, postgres)"},
	FlagSQLite:          {Name: "sqlite", ViperKey: "storage.sqlite_path", Description: "Path to the SQLite database"},
	FlagPostgres:        {Name: "postgres", ViperKey: "storage.postgres_dsn", Description: "PostgreSQL connection string"},
	FlagLockProvider:    {Name: "lock", ViperKey: "lock.provider", Description: "Advisory lock backend (file, memory, redis)"},
	FlagRedisAddr:       {Name: "redis-addr", ViperKey: "lock.redis_addr", Description: "Redis address for the redis lock backend"},
	FlagTokenizer:       {Name: "tokenizer", ViperKey: "tokenizer.provider", Description: "Token estimator (chars, tiktoken)"},
	FlagResource:        {Name: "resource", ViperKey: "facts.resource", Description: "Name of the fact document"},
	FlagAPIListen:       {Name: "listen", Shorthand: "l", ViperKey: "api.listen", Description: "Address for the API server to listen on"},
	FlagPruneSchedule:   {Name: "prune-schedule", ViperKey: "facts.prune_schedule", Description: "Cron spec for scheduled prune_stale (empty disables)"},
	FlagEventsProvider:  {Name: "events", ViperKey: "events.provider", Description: "Event stream backend (nop, kafka)"},
	FlagEventsTopic:     {Name: "events-topic", ViperKey: "events.topic", Description: "Kafka topic for memory events"},
}

// StorageFlags are the flags every command that opens the memory binds.
var StorageFlags = []string{
	FlagStorageDir,
	FlagStorageProvider,
	FlagSQLite,
	FlagPostgres,
	FlagLockProvider,
	FlagRedisAddr,
	FlagTokenizer,
	FlagResource,
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddIntFlag registers an int flag on cmd from the given FlagSet.
func AddIntFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *int) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultInt(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().IntVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().IntVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddStorageFlags registers the StorageFlags on cmd. The values are only
// read back through viper, so the targets are discarded.
func AddStorageFlags(cmd *cobra.Command) {
	for _, key := range StorageFlags {
		var sink string
		AddStringFlag(cmd, Flags, key, &sink)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}

// defaultInt returns the default int value for a viper key from NewDefaultConfig.
func defaultInt(viperKey string) int {
	v := viper.New()
	setViperDefaults(v)
	return v.GetInt(viperKey)
}
