// Package process wraps os/exec for the external tools Tempo drives. Commands
// are started in their own process group so that cancelling the context kills
// the tool along with any children it spawned (e.g. ffmpeg under yt-dlp).
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// WaitDelay bounds how long Wait blocks on output pipes after the
// process has been killed.
const WaitDelay = 5 * time.Second

type ExitError struct {
	Tool     string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with status %d", e.Tool, e.ExitCode)
	}

	return fmt.Sprintf("%s exited with status %d: %s", e.Tool, e.ExitCode, e.Stderr)
}

// Command constructs an exec.Cmd for the tool which is bound to
// the context. When the context is cancelled, the entire process group
// is killed.
func Command(ctx context.Context, bin string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, bin, args...)
	configureProcessGroup(cmd)
	cmd.WaitDelay = WaitDelay

	return cmd
}

// LimitedBuffer is an io.Writer which retains at most Max bytes,
// discarding anything written after that. It is used to capture
// a tools stderr without risking unbounded memory use.
type LimitedBuffer struct {
	buf bytes.Buffer
	Max int
}

func (b *LimitedBuffer) Write(p []byte) (int, error) {
	remaining := b.Max - b.buf.Len()
	if remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}

	return len(p), nil
}

func (b *LimitedBuffer) String() string {
	return strings.TrimSpace(b.buf.String())
}

// WrapWaitError converts the error from cmd.Wait in to an *ExitError when
// the process exited with a non-zero status. Context cancellation takes
// precedence, so the caller can distinguish a kill from a tool failure.
func WrapWaitError(ctx context.Context, tool string, err error, stderr string) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s was interrupted: %w", tool, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Tool: tool, ExitCode: exitErr.ExitCode(), Stderr: stderr}
	}

	return fmt.Errorf("%s failed: %w", tool, err)
}
