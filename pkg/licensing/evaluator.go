package licensing

import (
	"fmt"
	"time"
)

// DefaultToleranceDays is the grace window after validUntil during which an
// active license stays valid and a pending one keeps the service running.
const DefaultToleranceDays = 10

// Decision is the desired state of the dependent service.
type Decision int

const (
	// DecisionNone leaves the service as it is.
	DecisionNone Decision = iota
	DecisionRun
	DecisionStop
)

func (d Decision) String() string {
	switch d {
	case DecisionRun:
		return "run"
	case DecisionStop:
		return "stop"
	default:
		return "none"
	}
}

// LicenseState summarizes which row of the evaluation table applied.
type LicenseState string

const (
	LicenseStateActive       LicenseState = "active"
	LicenseStateGracePeriod  LicenseState = "grace_period"
	LicenseStateExpired      LicenseState = "expired"
	LicenseStatePending      LicenseState = "pending"
	LicenseStatePendingGrace LicenseState = "pending_grace"
	LicenseStateBlocked      LicenseState = "blocked"
	LicenseStateUnverifiable LicenseState = "unverifiable"
)

// Policy configures evaluation.
type Policy struct {
	ToleranceDays int
	// FailOpenUnknown treats an unknown or unreadable status as valid.
	FailOpenUnknown bool
}

// DefaultPolicy returns the reference policy: 10 days tolerance, fail-open.
func DefaultPolicy() Policy {
	return Policy{ToleranceDays: DefaultToleranceDays, FailOpenUnknown: true}
}

// Evaluation is the derived license verdict. It is never persisted.
type Evaluation struct {
	Valid         bool         `json:"valid"`
	Message       string       `json:"message"`
	GraceExpiry   *time.Time   `json:"grace_expiry,omitempty"`
	State         LicenseState `json:"state"`
	Decision      Decision     `json:"-"`
	Status        Status       `json:"-"`
	ValidUntil    *time.Time   `json:"valid_until,omitempty"`
	DaysRemaining int          `json:"days_remaining"`
}

// Evaluate computes validity and the service decision for a record at now.
// Dates are compared as UTC calendar days.
func Evaluate(record Record, now time.Time, policy Policy) Evaluation {
	if policy.ToleranceDays < 0 {
		policy.ToleranceDays = 0
	}

	today := dateOf(now)
	ev := Evaluation{Status: record.Status, DaysRemaining: -1}

	var graceEnd time.Time
	if record.ValidUntil != nil {
		validUntil := dateOf(*record.ValidUntil)
		graceEnd = validUntil.AddDate(0, 0, policy.ToleranceDays)
		ev.ValidUntil = &validUntil
		ev.DaysRemaining = daysBetween(today, validUntil)
	}

	switch record.Status {
	case StatusActive:
		switch {
		case record.ValidUntil == nil:
			ev.Valid = true
			ev.Decision = DecisionRun
			ev.State = LicenseStateUnverifiable
			ev.Message = "License active; no expiry date on record, validity could not be verified"
		case !today.After(*ev.ValidUntil):
			ev.Valid = true
			ev.Decision = DecisionRun
			ev.State = LicenseStateActive
			ev.Message = fmt.Sprintf("License valid until %s", formatDate(*ev.ValidUntil))
		case !today.After(graceEnd):
			ev.Valid = true
			ev.Decision = DecisionRun
			ev.State = LicenseStateGracePeriod
			ev.GraceExpiry = &graceEnd
			ev.Message = fmt.Sprintf("License expired on %s; valid under grace period until %s",
				formatDate(*ev.ValidUntil), formatDate(graceEnd))
		default:
			ev.Decision = DecisionStop
			ev.State = LicenseStateExpired
			ev.Message = fmt.Sprintf("License expired on %s (grace period ended %s)",
				formatDate(*ev.ValidUntil), formatDate(graceEnd))
		}

	case StatusPending:
		switch {
		case record.ValidUntil == nil:
			ev.Decision = DecisionStop
			ev.State = LicenseStatePending
			ev.Message = "License pending activation; no validity date on record"
		case !today.After(graceEnd):
			ev.Decision = DecisionRun
			ev.State = LicenseStatePendingGrace
			ev.GraceExpiry = &graceEnd
			ev.Message = fmt.Sprintf("License pending activation; service tolerated until %s", formatDate(graceEnd))
		default:
			ev.Decision = DecisionStop
			ev.State = LicenseStateExpired
			ev.Message = fmt.Sprintf("License pending activation and tolerance ended %s", formatDate(graceEnd))
		}

	case StatusBlocked:
		ev.Decision = DecisionStop
		ev.State = LicenseStateBlocked
		ev.Message = "License blocked by the licensing authority"

	default:
		// StatusUnknown, or any value outside the enumeration.
		ev.Status = StatusUnknown
		ev.Decision = DecisionNone
		ev.State = LicenseStateUnverifiable
		if policy.FailOpenUnknown {
			ev.Valid = true
			ev.Message = "License status could not be verified; operating normally until the next successful check"
		} else {
			ev.Message = "License status could not be verified"
		}
	}

	return ev
}

// daysBetween counts whole days between two UTC midnights. Durations cap at
// about 292 years, so it works on Unix seconds.
func daysBetween(from, to time.Time) int {
	days := int((to.Unix() - from.Unix()) / 86400)
	if days < 0 {
		return 0
	}
	return days
}

func formatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
