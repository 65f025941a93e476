package shell

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davarch/ci-orchestrator/internal/domain"
)

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX shell syntax")
	}
}

func TestRun_OutputEnvAndDir(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	r := New(zap.NewNop())

	out, err := r.Run(context.Background(), domain.StepRequest{
		Command: "echo \"$GREETING\" && pwd",
		Dir:     dir,
		Env:     []string{"GREETING=hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, out.ExitCode)
	assert.Contains(t, string(out.Output), "hello")
	assert.Contains(t, string(out.Output), dir)
}

func TestRun_ExitCodeIsNotAnError(t *testing.T) {
	skipOnWindows(t)
	out, err := New(zap.NewNop()).Run(context.Background(), domain.StepRequest{Command: "echo partial; exit 3"})
	require.NoError(t, err)
	assert.Equal(t, 3, out.ExitCode)
	assert.Equal(t, "partial\n", string(out.Output))
}

func TestRun_MultiLineScriptStopsOnFirstFailure(t *testing.T) {
	skipOnWindows(t)
	out, err := New(zap.NewNop()).Run(context.Background(), domain.StepRequest{Command: "false\necho unreachable"})
	require.NoError(t, err)
	assert.NotEqual(t, 0, out.ExitCode)
	assert.NotContains(t, string(out.Output), "unreachable")
}

func TestRun_Timeout(t *testing.T) {
	skipOnWindows(t)
	start := time.Now()
	out, err := New(zap.NewNop()).Run(context.Background(), domain.StepRequest{Command: "sleep 5", Timeout: 50 * time.Millisecond})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, -1, out.ExitCode)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestShellFor(t *testing.T) {
	name, args := shellFor("windows", "dir")
	assert.Equal(t, "cmd", name)
	assert.Equal(t, []string{"/C", "dir"}, args)

	name, args = shellFor("linux", "ls")
	assert.Equal(t, "sh", name)
	assert.Equal(t, []string{"-e", "-c", "ls"}, args)
}
