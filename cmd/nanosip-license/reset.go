package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var resetYes bool

// isTerminal reports whether stdin is interactive.
var isTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the stored license record",
	Long: `Deletes the license record. The next check registers the host again with an
unknown status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetYes {
			if !isTerminal() {
				return fmt.Errorf("refusing to reset without --yes on a non-interactive terminal: %w", errAborted)
			}
			ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Delete the license record? [y/N] ")
			if err != nil {
				return err
			}
			if !ok {
				return errAborted
			}
		}

		a, err := setupApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.engine.Reset(commandContext(cmd.Context())); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "License record deleted")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
}

func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "s", "sim":
		return true, nil
	default:
		return false, nil
	}
}
