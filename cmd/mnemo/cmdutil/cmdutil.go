// Package cmdutil holds the plumbing shared by mnemo subcommands: resolving
// config through viper, building loggers and opening the memory facade.
package cmdutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/papercomputeco/mnemo/pkg/config"
	"github.com/papercomputeco/mnemo/pkg/logger"
	"github.com/papercomputeco/mnemo/pkg/memory"
)

// Output formats accepted by --format.
const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
	FormatYAML     = "yaml"
)

// ConfigDir returns the --config-dir flag value, or "" when unset.
func ConfigDir(cmd *cobra.Command) string {
	dir, _ := cmd.Flags().GetString("config-dir")
	return dir
}

// Debug returns the --debug flag value.
func Debug(cmd *cobra.Command) bool {
	debug, _ := cmd.Flags().GetBool("debug")
	return debug
}

// LoadConfig merges defaults, config.toml, MNEMO_ environment variables and
// the given registered flags of cmd into a Config.
func LoadConfig(cmd *cobra.Command, flagKeys ...string) (*config.Config, error) {
	v, err := config.InitViper(ConfigDir(cmd))
	if err != nil {
		return nil, err
	}

	config.BindRegisteredFlags(v, cmd, config.Flags, config.StorageFlags)
	config.BindRegisteredFlags(v, cmd, config.Flags, flagKeys)

	return config.FromViper(v)
}

// NewLogger returns the pretty stderr logger used by interactive commands.
func NewLogger(cmd *cobra.Command) *slog.Logger {
	return logger.New(
		logger.WithDebug(Debug(cmd)),
		logger.WithPretty(true),
		logger.WithWriter(cmd.ErrOrStderr()),
	)
}

// OpenMemory opens the facade described by cfg.
func OpenMemory(ctx context.Context, cmd *cobra.Command, cfg *config.Config, l *slog.Logger) (*memory.Facade, error) {
	hostname, _ := os.Hostname()

	facade, err := memory.Open(ctx, cfg, memory.Options{
		ConfigDir: ConfigDir(cmd),
		Instance:  hostname,
		Actor:     memory.DefaultActor,
		Logger:    l,
	})
	if err != nil {
		return nil, fmt.Errorf("opening memory: %w", err)
	}
	return facade, nil
}

// Setup is LoadConfig, NewLogger and OpenMemory in one call. The caller
// closes the returned facade.
func Setup(cmd *cobra.Command, flagKeys ...string) (*memory.Facade, *slog.Logger, error) {
	cfg, err := LoadConfig(cmd, flagKeys...)
	if err != nil {
		return nil, nil, err
	}

	l := NewLogger(cmd)
	facade, err := OpenMemory(cmd.Context(), cmd, cfg, l)
	if err != nil {
		return nil, nil, err
	}
	return facade, l, nil
}

// ValidateFormat rejects unknown --format values.
func ValidateFormat(format string) error {
	switch format {
	case FormatMarkdown, FormatJSON, FormatYAML:
		return nil
	default:
		return fmt.Errorf("unknown format %q (expected markdown, json or yaml)", format)
	}
}

// WriteStructured writes v as indented JSON or as YAML. YAML keys follow the
// JSON field names.
func WriteStructured(w io.Writer, format string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}

	if format != FormatYAML {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return enc.Close()
}
