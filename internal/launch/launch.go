// Package launch starts the project's command-line entry point inside its
// virtual environment.
package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"
)

var ErrNoInterpreter = errors.New("no python interpreter found")

type Options struct {
	ProjectDir string
	// VenvDir is relative to ProjectDir unless absolute.
	VenvDir string
	Module  string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// FindInterpreter prefers the virtual environment's interpreter and falls
// back to python3, then python, on PATH.
func FindInterpreter(projectDir, venvDir string) (string, error) {
	if venvDir != "" {
		if !filepath.IsAbs(venvDir) {
			venvDir = filepath.Join(projectDir, venvDir)
		}
		for _, p := range venvCandidates(venvDir, runtime.GOOS) {
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p, nil
			}
		}
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := lookPath(name); err == nil {
			return p, nil
		}
	}
	return "", ErrNoInterpreter
}

func venvCandidates(venvDir, goos string) []string {
	if goos == "windows" {
		return []string{filepath.Join(venvDir, "Scripts", "python.exe")}
	}
	return []string{filepath.Join(venvDir, "bin", "python"), filepath.Join(venvDir, "bin", "python3")}
}

// Run executes `<python> -m <module> args...` in the project directory and
// returns the child's exit code. args are passed through untouched.
func Run(ctx context.Context, l *zap.Logger, o Options, args []string) (int, error) {
	python, err := FindInterpreter(o.ProjectDir, o.VenvDir)
	if err != nil {
		return 1, err
	}
	module := o.Module
	if module == "" {
		module = "cli"
	}

	cmd := exec.CommandContext(ctx, python, append([]string{"-m", module}, args...)...)
	cmd.Dir = o.ProjectDir
	cmd.Stdin, cmd.Stdout, cmd.Stderr = o.Stdin, o.Stdout, o.Stderr
	l.Debug("launch", zap.String("python", python), zap.String("module", module), zap.Strings("args", args))

	err = cmd.Run()
	var exit *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exit):
		return exit.ExitCode(), nil
	default:
		return 1, fmt.Errorf("launch %s: %w", python, err)
	}
}
