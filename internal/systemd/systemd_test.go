package systemd

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanosip/nanosip-license/pkg/licensing"
)

var _ licensing.ServiceManager = (*Manager)(nil)

type call struct {
	name string
	args []string
}

type scriptedRunner struct {
	calls  []call
	output string
	code   int
	err    error
}

func (s *scriptedRunner) run(_ context.Context, name string, args ...string) (string, int, error) {
	s.calls = append(s.calls, call{name: name, args: args})
	return s.output, s.code, s.err
}

var errExit = errors.New("exit status")

func TestIsActive(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		code       int
		err        error
		wantActive bool
		wantErr    error
	}{
		{name: "active", output: "active\n", code: 0, wantActive: true},
		{name: "inactive", output: "inactive\n", code: 3, err: errExit},
		{name: "failed", output: "failed\n", code: 3, err: errExit},
		{name: "missing_unit", output: "inactive\n", code: 4, err: errExit, wantErr: ErrUnitNotFound},
		{name: "no_systemctl", code: -1, err: ErrSystemctlUnavailable, wantErr: ErrSystemctlUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &scriptedRunner{output: tt.output, code: tt.code, err: tt.err}
			active, err := NewManager(r.run, time.Second).IsActive(context.Background(), "asterisk")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantActive, active)
			require.Len(t, r.calls, 1)
			assert.Equal(t, "systemctl", r.calls[0].name)
			assert.Equal(t, []string{"is-active", "asterisk"}, r.calls[0].args)
		})
	}
}

func TestStartStop(t *testing.T) {
	r := &scriptedRunner{}
	m := NewManager(r.run, time.Second)
	require.NoError(t, m.Start(context.Background(), "asterisk"))
	require.NoError(t, m.Stop(context.Background(), "asterisk"))
	require.Len(t, r.calls, 2)
	assert.Equal(t, []string{"start", "asterisk"}, r.calls[0].args)
	assert.Equal(t, []string{"stop", "asterisk"}, r.calls[1].args)
}

func TestCommandErrors(t *testing.T) {
	t.Run("not_found_exit_code", func(t *testing.T) {
		r := &scriptedRunner{output: "Failed to start asterisk.service: Unit asterisk.service not found.", code: 5, err: errExit}
		err := NewManager(r.run, time.Second).Start(context.Background(), "asterisk")
		assert.ErrorIs(t, err, ErrUnitNotFound)
	})

	t.Run("access_denied_hint", func(t *testing.T) {
		r := &scriptedRunner{output: "Failed to stop asterisk.service: Access denied", code: 1, err: errExit}
		err := NewManager(r.run, time.Second).Stop(context.Background(), "asterisk")
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "sudo systemctl stop asterisk"), err.Error())
	})

	t.Run("generic_failure_keeps_cause", func(t *testing.T) {
		r := &scriptedRunner{output: "Job failed", code: 1, err: errExit}
		err := NewManager(r.run, time.Second).Start(context.Background(), "asterisk")
		assert.ErrorIs(t, err, errExit)
		assert.Contains(t, err.Error(), "Job failed")
	})
}

func TestManagerWithServiceController(t *testing.T) {
	r := &scriptedRunner{output: "active\n"}
	ctrl := licensing.NewServiceController(NewManager(r.run, time.Second), "asterisk")

	result, err := ctrl.Apply(context.Background(), licensing.DecisionRun)
	require.NoError(t, err)
	assert.False(t, result.Commanded)
	assert.Len(t, r.calls, 1, "an active unit must only be queried")
}

func TestNewManagerDefaults(t *testing.T) {
	m := NewManager(nil, 0)
	assert.NotNil(t, m.run)
	assert.Equal(t, DefaultCommandTimeout, m.timeout)
}
