// Package tailcmder provides the tail command, which prints the newest
// messages of the period log and optionally follows new appends.
package tailcmder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/mnemo/cmd/mnemo/cmdutil"
	"github.com/papercomputeco/mnemo/pkg/cliui"
	"github.com/papercomputeco/mnemo/pkg/config"
	"github.com/papercomputeco/mnemo/pkg/logger"
	"github.com/papercomputeco/mnemo/pkg/periodlog"
)

type tailCommander struct {
	lines  int
	follow bool
}

const tailLongDesc string = `Print the newest messages of the period log.

With --follow, keeps watching the message directory and prints every message
appended afterwards, including those landing in a new period partition.

Examples:
  mnemo tail
  mnemo tail -n 50
  mnemo tail -f`

const tailShortDesc string = "Print and follow recent messages"

func NewTailCmd() *cobra.Command {
	cmder := &tailCommander{}

	cmd := &cobra.Command{
		Use:   "tail",
		Short: tailShortDesc,
		Long:  tailLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().IntVarP(&cmder.lines, "lines", "n", 10, "Number of recent messages to print")
	cmd.Flags().BoolVarP(&cmder.follow, "follow", "f", false, "Keep printing messages as they are appended")
	config.AddStorageFlags(cmd)

	return cmd
}

func (c *tailCommander) run(cmd *cobra.Command) error {
	facade, l, err := cmdutil.Setup(cmd)
	if err != nil {
		return err
	}
	defer facade.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	plog := facade.Log()

	if err := printRecent(ctx, out, plog, c.lines); err != nil {
		return err
	}
	if !c.follow {
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = Follow(ctx, plog.Dir(), func(m *periodlog.Message) error {
		_, err := fmt.Fprintln(out, cliui.MessageLine(m))
		return err
	}, l)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// printRecent prints the newest n messages across partitions, oldest first.
func printRecent(ctx context.Context, w io.Writer, plog *periodlog.Log, n int) error {
	if n <= 0 {
		return nil
	}

	parts, err := plog.Partitions(ctx)
	if err != nil {
		return err
	}

	var recent []*periodlog.Message
collect:
	for _, p := range parts {
		for m := range plog.ReadReverse(ctx, p) {
			recent = append(recent, m)
			if len(recent) == n {
				break collect
			}
		}
	}

	slices.Reverse(recent)
	for _, m := range recent {
		if _, err := fmt.Fprintln(w, cliui.MessageLine(m)); err != nil {
			return err
		}
	}
	return nil
}

// Follow watches dir and calls fn for every message appended to a partition
// after Follow starts. It returns when ctx is done or fn fails. Malformed
// records are logged and skipped.
func Follow(ctx context.Context, dir string, fn func(*periodlog.Message) error, l *slog.Logger) error {
	l = logger.OrNop(l)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating message watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching message dir: %w", err)
	}

	// Existing content is skipped: start every known partition at its end.
	offsets := make(map[string]int64)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("listing message dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !isPartition(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		offsets[filepath.Join(dir, e.Name())] = info.Size()
	}

	pending := make(map[string][]byte)

	readAvailable := func(path string) error {
		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		defer f.Close()

		if _, err := f.Seek(offsets[path], io.SeekStart); err != nil {
			return fmt.Errorf("seek partition: %w", err)
		}
		data, err := io.ReadAll(f)
		if err != nil {
			return fmt.Errorf("read partition: %w", err)
		}
		offsets[path] += int64(len(data))

		buf := append(pending[path], data...)
		for {
			i := bytes.IndexByte(buf, '\n')
			if i < 0 {
				break
			}
			line := bytes.TrimSpace(buf[:i])
			buf = buf[i+1:]
			if len(line) == 0 {
				continue
			}

			msg := &periodlog.Message{}
			if err := json.Unmarshal(line, msg); err != nil {
				l.Warn("skipping malformed record", "partition", filepath.Base(path), "error", err)
				continue
			}
			if err := msg.Validate(); err != nil {
				l.Warn("skipping malformed record", "partition", filepath.Base(path), "error", err)
				continue
			}
			if err := fn(msg); err != nil {
				return err
			}
		}
		pending[path] = buf
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isPartition(filepath.Base(event.Name)) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := readAvailable(filepath.Clean(event.Name)); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("message watcher error: %w", err)
		}
	}
}

func isPartition(name string) bool {
	return strings.HasSuffix(name, ".jsonl")
}
