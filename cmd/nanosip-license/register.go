package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nanosip/nanosip-license/pkg/licensing"
)

var registerKey string

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Bind the license record to this host",
	Long: `Without --key, probes this host's serial and MAC address and registers them.
Virtual machines cannot be probed reliably and must be registered with the
installer key issued for them (--key SERIAL_MAC).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setupApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := commandContext(cmd.Context())
		var record licensing.Record
		if key := strings.TrimSpace(registerKey); key != "" {
			record, err = a.engine.RegisterInstallerKey(ctx, key)
		} else {
			record, err = a.engine.RegisterHost(ctx)
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Registered hardware ID %s\n", record.HardwareID)
		fmt.Fprintf(out, "Serial: %s\nMAC:    %s\n", record.Serial, record.MAC)
		return nil
	},
}

var installerKeyCmd = &cobra.Command{
	Use:   "installer-key",
	Short: "Print this host's installer key",
	Long:  `Prints the SERIAL_MAC key support needs to register this host manually.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setupApp()
		if err != nil {
			return err
		}
		defer a.Close()

		fp, err := a.engine.Fingerprint(commandContext(cmd.Context()))
		key := licensing.FormatInstallerKey(fp.Serial, fp.MAC)
		if key == "" {
			if err == nil {
				err = licensing.ErrHashUnavailable
			}
			return fmt.Errorf("cannot build installer key: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVar(&registerKey, "key", "", "Installer key (SERIAL_MAC) for manual registration")
}
