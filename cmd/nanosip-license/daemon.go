package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nanosip/nanosip-license/internal/config"
	"github.com/nanosip/nanosip-license/internal/logging"
	"github.com/nanosip/nanosip-license/internal/metrics"
	"github.com/nanosip/nanosip-license/pkg/licensing"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Check the license on a schedule and on record changes",
	Long: `Runs a check immediately and then on NANOSIP_CHECK_SCHEDULE. Edits to the
license record are re-evaluated and enforced without contacting the licensing
authority. Prometheus metrics are served on NANOSIP_METRICS_ADDR.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setupApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(commandContext(cmd.Context()), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return newDaemon(a).Run(ctx)
	},
}

// daemon serializes scheduled checks and file-change re-evaluations.
type daemon struct {
	app *app
	mu  sync.Mutex
	log zerolog.Logger
}

func newDaemon(a *app) *daemon {
	return &daemon{app: a, log: logging.Component("daemon")}
}

// Run blocks until ctx is done or a supervised goroutine fails.
func (d *daemon) Run(ctx context.Context) error {
	cfg := d.app.cfg
	if _, err := config.ScheduleParser.Parse(cfg.CheckSchedule); err != nil {
		return fmt.Errorf("invalid check schedule %q: %w", cfg.CheckSchedule, err)
	}

	d.log.Info().
		Str("version", Version).
		Str("endpoint", d.app.activation.Endpoint()).
		Str("schedule", cfg.CheckSchedule).
		Str("storage", cfg.Storage).
		Str("unit", cfg.ServiceUnit).
		Msg("Starting license daemon")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.app.dialer.RunRefresh(ctx)
	})

	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.MetricsAddr)
		})
	}

	g.Go(func() error {
		return config.NewLicenseWatcher(cfg.LicensePath(), func() { d.reevaluate(ctx) }).Run(ctx)
	})

	g.Go(func() error {
		return d.runSchedule(ctx, cfg.CheckSchedule)
	})

	err := g.Wait()
	d.log.Info().Msg("License daemon stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *daemon) runSchedule(ctx context.Context, spec string) error {
	c := cron.New(
		cron.WithParser(config.ScheduleParser),
		cron.WithLogger(cronLogger{log: d.log}),
		cron.WithChain(cron.Recover(cronLogger{log: d.log}), cron.SkipIfStillRunning(cronLogger{log: d.log})),
	)
	if _, err := c.AddFunc(spec, func() { d.check(ctx) }); err != nil {
		return fmt.Errorf("schedule license check: %w", err)
	}

	d.check(ctx)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (d *daemon) check(ctx context.Context) licensing.Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ctx.Err() != nil {
		return licensing.Report{}
	}

	report := d.app.check(ctx, checkOptions{})
	d.logReport(report, "Scheduled license check finished")
	return report
}

// reevaluate applies the stored record without syncing or registering, so
// it never writes the record it was triggered by.
func (d *daemon) reevaluate(ctx context.Context) licensing.Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ctx.Err() != nil {
		return licensing.Report{}
	}

	ctx, _ = logging.WithCheckID(ctx, "")
	start := time.Now()
	report := d.app.engine.Check(ctx, licensing.CheckOptions{Apply: true})
	metrics.RecordReport(report)
	metrics.ObserveCheck(time.Since(start))
	d.logReport(report, "License record change applied")
	return report
}

func (d *daemon) logReport(report licensing.Report, msg string) {
	event := d.log.Info()
	if err := report.Err(); err != nil {
		event = d.log.Warn().Err(err)
	}
	event.
		Str("state", string(report.Evaluation.State)).
		Bool("valid", report.Evaluation.Valid).
		Str("decision", report.Evaluation.Decision.String()).
		Msg(msg)
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

var _ cron.Logger = cronLogger{}
