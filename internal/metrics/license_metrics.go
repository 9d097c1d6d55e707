package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nanosip/nanosip-license/pkg/licensing"
)

var allStates = []licensing.LicenseState{
	licensing.LicenseStateActive,
	licensing.LicenseStateGracePeriod,
	licensing.LicenseStateExpired,
	licensing.LicenseStatePending,
	licensing.LicenseStatePendingGrace,
	licensing.LicenseStateBlocked,
	licensing.LicenseStateUnverifiable,
}

var (
	LicenseValid = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nanosip_license_valid",
			Help: "1 when the last evaluation found the license valid",
		},
	)

	LicenseDaysRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nanosip_license_days_remaining",
			Help: "Days until the license expiry date, -1 when no date is known",
		},
	)

	LicenseState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nanosip_license_state",
			Help: "Current license state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	LicenseSyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nanosip_license_sync_total",
			Help: "Remote license synchronizations by result",
		},
		[]string{"result"}, // ok, transport, timeout, status, decode, persist, unregistered
	)

	ServiceCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nanosip_license_service_commands_total",
			Help: "Start/stop commands issued to the dependent service",
		},
		[]string{"action", "result"},
	)

	CheckDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nanosip_license_check_duration_seconds",
			Help:    "Duration of a full license check",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	LastCheckTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nanosip_license_last_check_timestamp_seconds",
			Help: "Unix time of the last completed license check",
		},
	)
)

// RecordReport publishes the outcome of one Status or Check run.
func RecordReport(report licensing.Report) {
	ev := report.Evaluation
	if ev.Valid {
		LicenseValid.Set(1)
	} else {
		LicenseValid.Set(0)
	}
	LicenseDaysRemaining.Set(float64(ev.DaysRemaining))

	for _, state := range allStates {
		v := 0.0
		if state == ev.State {
			v = 1
		}
		LicenseState.WithLabelValues(string(state)).Set(v)
	}

	if report.Synced {
		LicenseSyncTotal.WithLabelValues("ok").Inc()
	} else if report.SyncErr != nil {
		LicenseSyncTotal.WithLabelValues(syncResult(report.SyncErr)).Inc()
	}

	if report.Apply != nil && report.Apply.Commanded {
		result := "ok"
		if report.ControlErr != nil {
			result = "error"
		}
		ServiceCommandsTotal.WithLabelValues(report.Apply.Action, result).Inc()
	}

	if !report.CheckedAt.IsZero() {
		LastCheckTimestamp.Set(float64(report.CheckedAt.Unix()))
	}
}

// ObserveCheck records how long a check took.
func ObserveCheck(d time.Duration) {
	CheckDurationSeconds.Observe(d.Seconds())
}

func syncResult(err error) string {
	if errors.Is(err, licensing.ErrNotRegistered) {
		return "unregistered"
	}
	var syncErr *licensing.SyncError
	if errors.As(err, &syncErr) {
		return string(syncErr.Kind)
	}
	return "error"
}
