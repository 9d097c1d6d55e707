package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/nanosip/nanosip-license/pkg/licensing"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored license and its evaluation",
	Long:  `Evaluates the stored record. It does not contact the licensing authority or touch the service.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setupApp()
		if err != nil {
			return err
		}
		defer a.Close()

		report := a.engine.Status()
		if statusJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			view := newStatusView(report)
			view.UpdatedAt = a.recordUpdatedAt()
			return enc.Encode(view)
		}
		printReport(cmd.OutOrStdout(), report)
		return report.LoadErr
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the status as JSON")
}

type statusView struct {
	CheckedAt      time.Time            `json:"checked_at"`
	UpdatedAt      *time.Time           `json:"updated_at,omitempty"`
	HardwareID     string               `json:"hardware_id,omitempty"`
	Serial         string               `json:"serial,omitempty"`
	MAC            string               `json:"mac,omitempty"`
	Status         string               `json:"status"`
	Modules        []string             `json:"modules,omitempty"`
	VirtualMachine bool                 `json:"is_vm"`
	Evaluation     licensing.Evaluation `json:"evaluation"`
	Error          string               `json:"error,omitempty"`
}

func newStatusView(report licensing.Report) statusView {
	v := statusView{
		CheckedAt:      report.CheckedAt,
		HardwareID:     report.Record.HardwareID,
		Serial:         report.Record.Serial,
		MAC:            report.Record.MAC,
		Status:         report.Record.Status.String(),
		Modules:        report.Record.Modules,
		VirtualMachine: report.Record.VirtualMachine,
		Evaluation:     report.Evaluation,
	}
	if err := report.Err(); err != nil {
		v.Error = err.Error()
	}
	return v
}
