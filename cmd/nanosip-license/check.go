package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nanosip/nanosip-license/internal/hook"
	"github.com/nanosip/nanosip-license/internal/logging"
	"github.com/nanosip/nanosip-license/internal/metrics"
	"github.com/nanosip/nanosip-license/pkg/licensing"
)

type checkOptions struct {
	noSync  bool
	noApply bool
	noHook  bool
}

var checkFlags checkOptions

var runPostCheck = hook.Run

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Register, sync, evaluate and enforce the license once",
	Long: `Registers this host if it has no record (physical hosts only), refreshes the
record from the licensing authority, evaluates it and starts or stops the
telephony service. A failed sync is logged and the stored record is used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, checkFlags)
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkFlags.noSync, "no-sync", false, "Do not contact the licensing authority")
	checkCmd.Flags().BoolVar(&checkFlags.noApply, "no-apply", false, "Evaluate only; do not start or stop the service")
	checkCmd.Flags().BoolVar(&checkFlags.noHook, "no-hook", false, "Skip the post-check command")
}

func runCheck(cmd *cobra.Command, opts checkOptions) error {
	a, err := setupApp()
	if err != nil {
		return err
	}
	defer a.Close()

	report := a.check(commandContext(cmd.Context()), opts)
	printReport(cmd.OutOrStdout(), report)

	// A failed sync still produced a decision; only a service that could
	// not be driven is reported as a failure.
	if report.ControlErr != nil {
		return report.ControlErr
	}
	return nil
}

// check runs one full license check and publishes its metrics.
func (a *app) check(ctx context.Context, opts checkOptions) licensing.Report {
	ctx, _ = logging.WithCheckID(ctx, "")
	start := time.Now()

	report := a.engine.Check(ctx, licensing.CheckOptions{
		AutoRegister: true,
		Sync:         !opts.noSync,
		Apply:        !opts.noApply,
	})
	metrics.RecordReport(report)
	metrics.ObserveCheck(time.Since(start))

	if !opts.noHook && !opts.noApply {
		a.postCheck(ctx)
	}
	return report
}

func (a *app) postCheck(ctx context.Context) {
	command := strings.TrimSpace(a.cfg.PostCheckCommand)
	if command == "" {
		return
	}
	logger := zerolog.Ctx(ctx)

	result, err := runPostCheck(ctx, command, a.cfg.PostCheckTimeout)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Warn().Err(err).
			Int("exit_code", result.ExitCode).
			Str("output", result.Output).
			Msg("Post-check command failed")
		return
	}
	logger.Debug().
		Str("command", result.Command).
		Dur("duration", result.Duration).
		Msg("Post-check command completed")
}

func printReport(w io.Writer, report licensing.Report) {
	ev := report.Evaluation
	rec := report.Record

	fmt.Fprintf(w, "State:       %s\n", ev.State)
	fmt.Fprintf(w, "Valid:       %s\n", yesNo(ev.Valid))
	fmt.Fprintf(w, "Message:     %s\n", ev.Message)
	if ev.ValidUntil != nil {
		fmt.Fprintf(w, "Valid until: %s (%d days)\n", ev.ValidUntil.Format(licensing.DateLayout), ev.DaysRemaining)
	}
	if ev.GraceExpiry != nil {
		fmt.Fprintf(w, "Grace until: %s\n", ev.GraceExpiry.Format(licensing.DateLayout))
	}
	if rec.Registered() {
		fmt.Fprintf(w, "Hardware ID: %s\n", rec.HardwareID)
	}
	if len(rec.Modules) > 0 {
		fmt.Fprintf(w, "Modules:     %s\n", strings.Join(rec.Modules, ", "))
	}
	if report.Apply != nil && report.Apply.Queried {
		fmt.Fprintf(w, "Service:     %s\n", describeApply(*report.Apply, report.ControlErr))
	}
	if report.HardwareMismatch {
		fmt.Fprintln(w, "Warning:     record was registered on different hardware")
	}
	if report.Inconsistent {
		fmt.Fprintln(w, "Warning:     record identifiers do not match its hardware ID")
	}
	if report.SyncErr != nil && !errors.Is(report.SyncErr, licensing.ErrNotRegistered) {
		fmt.Fprintf(w, "Sync:        %v\n", report.SyncErr)
	}
}

func describeApply(r licensing.ApplyResult, controlErr error) string {
	switch {
	case controlErr != nil && r.Commanded && r.Decision == licensing.DecisionRun:
		return r.Unit + " start failed"
	case controlErr != nil && r.Commanded && r.Decision == licensing.DecisionStop:
		return r.Unit + " stop failed"
	case controlErr != nil:
		return r.Unit + " state unknown"
	case r.Commanded && r.Decision == licensing.DecisionRun:
		return r.Unit + " started"
	case r.Commanded && r.Decision == licensing.DecisionStop:
		return r.Unit + " stopped"
	case r.WasActive:
		return r.Unit + " already running"
	default:
		return r.Unit + " already stopped"
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
