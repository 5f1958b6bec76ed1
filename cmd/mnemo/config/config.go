// Package configcmder provides the config command for managing persistent
// mnemo configuration stored in the .mnemo/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent mnemo configuration.

Configuration is stored as config.toml in the .mnemo/ directory and provides
default values for command flags. MNEMO_ environment variables override the
file, and CLI flags always take precedence over both.

Keys use dotted notation matching the TOML section structure:
  context.budget, context.reserve,
  facts.token_ceiling, facts.prune_days_threshold, facts.prune_reference_floor,
  facts.min_content_length, facts.default_confidence, facts.resource,
  facts.prune_schedule,
  storage.dir, storage.provider, storage.sqlite_path, storage.postgres_dsn,
  lock.provider, lock.redis_addr, lock.retries, lock.backoff,
  lock.max_backoff, lock.ttl,
  tokenizer.provider, tokenizer.encoding,
  api.listen,
  events.provider, events.brokers, events.topic

Use subcommands to get, set, or list configuration values:
  mnemo config set <key> <value>    Set a configuration value
  mnemo config get <key>            Get a configuration value
  mnemo config list                 List all configuration values

Examples:
  mnemo config set context.budget 120000
  mnemo config set lock.provider redis
  mnemo config get facts.token_ceiling
  mnemo config list`

const configShortDesc string = "Manage persistent mnemo configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
