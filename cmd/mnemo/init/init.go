// Package initcmder provides the init command for initializing a local .mnemo
// directory in the current working directory.
package initcmder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/mnemo/pkg/config"
)

const (
	dirName = ".mnemo"
)

const initLongDesc string = `Initialize a new .mnemo/ directory in the current working directory.

Creates a local .mnemo/ directory that takes precedence over the default
~/.mnemo/ directory, and writes a config.toml holding the defaults so they can
be edited in place. An existing config.toml is left untouched.

This is useful for keeping separate memory per project or assistant.

Examples:
  mnemo init`

const initShortDesc string = "Initialize a local .mnemo/ directory"

func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd)
		},
	}

	return cmd
}

func runInit(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	dir := filepath.Join(cwd, dirName)

	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		fmt.Fprintf(out, "Already initialized: %s\n", dir)
	case err == nil:
		return fmt.Errorf("%s exists and is not a directory", dir)
	default:
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating .mnemo directory: %w", err)
		}
		fmt.Fprintf(out, "Initialized .mnemo directory: %s\n", dir)
	}

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if _, err := os.Stat(cfger.GetTarget()); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reading config: %w", err)
	}

	if err := cfger.SaveConfig(config.NewDefaultConfig()); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote default config: %s\n", cfger.GetTarget())

	return nil
}
