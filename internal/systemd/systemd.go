// Package systemd drives the dependent service through systemctl.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrUnitNotFound is returned when systemd has no unit by the given name.
var ErrUnitNotFound = errors.New("systemd unit not found")

// ErrSystemctlUnavailable is returned when systemctl is not installed.
var ErrSystemctlUnavailable = errors.New("systemctl not available")

// DefaultCommandTimeout bounds a single systemctl invocation.
const DefaultCommandTimeout = 30 * time.Second

// Runner executes a command and returns its combined output and exit code.
// exitCode is -1 when the process could not be started.
type Runner func(ctx context.Context, name string, args ...string) (output string, exitCode int, err error)

// ExecRunner runs commands with exec.CommandContext.
func ExecRunner(ctx context.Context, name string, args ...string) (string, int, error) {
	if _, err := exec.LookPath(name); err != nil {
		return "", -1, fmt.Errorf("%w: %v", ErrSystemctlUnavailable, err)
	}
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(out), exitErr.ExitCode(), err
		}
		return string(out), -1, err
	}
	return string(out), 0, nil
}

// Manager implements licensing.ServiceManager with systemctl.
type Manager struct {
	run     Runner
	timeout time.Duration
}

// NewManager returns a Manager. A nil runner selects ExecRunner and a
// non-positive timeout selects DefaultCommandTimeout.
func NewManager(run Runner, timeout time.Duration) *Manager {
	if run == nil {
		run = ExecRunner
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Manager{run: run, timeout: timeout}
}

// IsActive reports whether unit is running. systemctl is-active exits 0 for
// an active unit and 3 for an inactive or failed one.
func (m *Manager) IsActive(ctx context.Context, unit string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	output, code, err := m.run(ctx, "systemctl", "is-active", unit)
	state := strings.TrimSpace(output)
	switch {
	case err == nil && code == 0:
		return true, nil
	case code == 4 || state == "unknown":
		return false, fmt.Errorf("systemctl is-active %s: %w", unit, ErrUnitNotFound)
	case code == 3 || state == "inactive" || state == "failed" || state == "activating" || state == "deactivating":
		return false, nil
	default:
		return false, commandError("is-active", unit, output, code, err)
	}
}

// Start starts unit.
func (m *Manager) Start(ctx context.Context, unit string) error {
	return m.command(ctx, "start", unit)
}

// Stop stops unit.
func (m *Manager) Stop(ctx context.Context, unit string) error {
	return m.command(ctx, "stop", unit)
}

func (m *Manager) command(ctx context.Context, action, unit string) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	output, code, err := m.run(ctx, "systemctl", action, unit)
	if err == nil {
		return nil
	}
	return commandError(action, unit, output, code, err)
}

func commandError(action, unit, output string, code int, err error) error {
	if errors.Is(err, ErrSystemctlUnavailable) {
		return err
	}
	trimmed := strings.TrimSpace(output)
	lower := strings.ToLower(trimmed)

	if code == 5 || strings.Contains(lower, "could not be found") || strings.Contains(lower, "not-found") {
		return fmt.Errorf("systemctl %s %s: %w", action, unit, ErrUnitNotFound)
	}
	if strings.Contains(lower, "access denied") || strings.Contains(lower, "permission denied") || strings.Contains(lower, "interactive authentication required") {
		return fmt.Errorf("systemctl %s %s: access denied. Run the license tool as root or 'sudo systemctl %s %s' (systemctl output: %s)", action, unit, action, unit, trimmed)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("systemctl %s %s: timed out: %w", action, unit, err)
	}
	return fmt.Errorf("systemctl %s %s: %w (%s)", action, unit, err, trimmed)
}
