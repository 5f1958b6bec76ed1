// Package appendcmder provides the append command for recording a message in
// the period log.
package appendcmder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/mnemo/cmd/mnemo/cmdutil"
	"github.com/papercomputeco/mnemo/pkg/cliui"
	"github.com/papercomputeco/mnemo/pkg/config"
	"github.com/papercomputeco/mnemo/pkg/memory"
	"github.com/papercomputeco/mnemo/pkg/periodlog"
)

type appendCommander struct {
	role     string
	model    string
	size     int
	metadata string
	jsonOut  bool
}

const appendLongDesc string = `Append a message to the current period partition.

The content is taken from the arguments, or read from stdin when no
arguments are given or the only argument is "-". The message is stamped with
an id, a UTC timestamp, its period key and a token estimate.

Examples:
  mnemo append --role user "What did the Fed do?"
  echo "They held rates." | mnemo append --role assistant --model gpt-4o
  mnemo append --role system --size 120 -`

const appendShortDesc string = "Append a message"

func NewAppendCmd() *cobra.Command {
	cmder := &appendCommander{}

	cmd := &cobra.Command{
		Use:   "append [content...]",
		Short: appendShortDesc,
		Long:  appendLongDesc,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args)
		},
	}

	cmd.Flags().StringVarP(&cmder.role, "role", "r", string(periodlog.RoleUser), "Message role (user, assistant, system)")
	cmd.Flags().StringVarP(&cmder.model, "model", "m", "", "Model that produced the message")
	cmd.Flags().IntVar(&cmder.size, "size", 0, "Token estimate override (0 estimates from content)")
	cmd.Flags().StringVar(&cmder.metadata, "metadata", "", "JSON object stored with the message")
	cmd.Flags().BoolVar(&cmder.jsonOut, "json", false, "Print the stored message as JSON")
	config.AddStorageFlags(cmd)

	return cmd
}

func (c *appendCommander) run(cmd *cobra.Command, args []string) error {
	content, err := readContent(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	req := memory.AppendRequest{
		Role:         periodlog.Role(c.role),
		Content:      content,
		Model:        c.model,
		SizeEstimate: c.size,
	}
	if c.metadata != "" {
		if err := json.Unmarshal([]byte(c.metadata), &req.Metadata); err != nil {
			return fmt.Errorf("parsing --metadata: %w", err)
		}
	}

	facade, _, err := cmdutil.Setup(cmd)
	if err != nil {
		return err
	}
	defer facade.Close()

	msg, err := facade.Append(cmd.Context(), req)
	if err != nil {
		return err
	}

	if c.jsonOut {
		return cmdutil.WriteStructured(cmd.OutOrStdout(), cmdutil.FormatJSON, msg)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", cliui.SuccessMark, cliui.MessageLine(msg), cliui.DimStyle.Render(msg.ID))
	return nil
}

// readContent joins args, or reads r when args are empty or "-".
func readContent(r io.Reader, args []string) (string, error) {
	if len(args) > 0 && (len(args) != 1 || args[0] != "-") {
		return strings.Join(args, " "), nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}

	content := strings.TrimRight(string(data), "\n")
	if strings.TrimSpace(content) == "" {
		return "", errors.New("no content: pass it as arguments or on stdin")
	}
	return content, nil
}
