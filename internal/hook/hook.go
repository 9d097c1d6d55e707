// Package hook runs the operator command that follows every license check.
package hook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrEmptyCommand is returned when no command is configured.
var ErrEmptyCommand = errors.New("post-check command is empty")

const maxCapturedOutput = 64 << 10

// Result is the outcome of one hook run.
type Result struct {
	Command  string
	Output   string
	ExitCode int
	Duration time.Duration
}

// Run executes command (split on whitespace, no shell) with a timeout and
// returns its combined output. A non-zero exit is returned as an error
// together with the captured output.
func Run(ctx context.Context, command string, timeout time.Duration) (Result, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return Result{}, ErrEmptyCommand
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var out limitedBuffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	result := Result{
		Command:  command,
		Output:   strings.TrimSpace(out.String()),
		Duration: time.Since(start),
	}

	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		if ctx.Err() != nil {
			return result, fmt.Errorf("post-check command %q: %w", args[0], ctx.Err())
		}
		return result, fmt.Errorf("post-check command %q: %w", args[0], err)
	}
	return result, nil
}

// limitedBuffer keeps the first maxCapturedOutput bytes and discards the rest.
type limitedBuffer struct {
	buf bytes.Buffer
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := maxCapturedOutput - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
