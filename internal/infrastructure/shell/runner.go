// Package shell runs job commands in the host shell.
package shell

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/davarch/ci-orchestrator/internal/domain"
)

type Runner struct {
	log *zap.Logger
}

func New(l *zap.Logger) *Runner { return &Runner{log: l} }

// Run executes req.Command with `sh -e -c` (`cmd /C` on Windows). A
// non-zero exit is reported through the outcome, not as an error; errors
// mean the command could not run or was cancelled.
func (r *Runner) Run(ctx context.Context, req domain.StepRequest) (domain.StepOutcome, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	name, args := shellFor(runtime.GOOS, req.Command)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = req.Dir
	cmd.Env = append(os.Environ(), req.Env...)
	cmd.WaitDelay = 2 * time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	r.log.Debug("command finished",
		zap.String("dir", req.Dir),
		zap.Duration("took", time.Since(start)),
		zap.Error(err),
	)

	if ctx.Err() != nil {
		return domain.StepOutcome{Output: out.Bytes(), ExitCode: -1}, ctx.Err()
	}
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return domain.StepOutcome{Output: out.Bytes(), ExitCode: exit.ExitCode()}, nil
	}
	if err != nil {
		return domain.StepOutcome{Output: out.Bytes(), ExitCode: -1}, err
	}
	return domain.StepOutcome{Output: out.Bytes()}, nil
}

func shellFor(goos, command string) (string, []string) {
	if goos == "windows" {
		return "cmd", []string{"/C", command}
	}
	return "sh", []string{"-e", "-c", command}
}
