package launch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func stubLookPath(t *testing.T, found map[string]string) {
	t.Helper()
	prev := lookPath
	lookPath = func(name string) (string, error) {
		if p, ok := found[name]; ok {
			return p, nil
		}
		return "", errors.New("not found")
	}
	t.Cleanup(func() { lookPath = prev })
}

func TestFindInterpreter_PrefersVenv(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix venv layout")
	}
	dir := t.TempDir()
	py := filepath.Join(dir, ".venv", "bin", "python")
	require.NoError(t, os.MkdirAll(filepath.Dir(py), 0o755))
	require.NoError(t, os.WriteFile(py, []byte("#!/bin/sh\n"), 0o755))
	stubLookPath(t, map[string]string{"python3": "/usr/bin/python3"})

	got, err := FindInterpreter(dir, ".venv")
	require.NoError(t, err)
	assert.Equal(t, py, got)
}

func TestFindInterpreter_FallsBackToPath(t *testing.T) {
	dir := t.TempDir()
	stubLookPath(t, map[string]string{"python": "/usr/bin/python"})

	got, err := FindInterpreter(dir, ".venv")
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/python", got)

	stubLookPath(t, nil)
	_, err = FindInterpreter(dir, ".venv")
	require.ErrorIs(t, err, ErrNoInterpreter)
}

func TestVenvCandidates_Windows(t *testing.T) {
	assert.Equal(t, []string{filepath.Join("v", "Scripts", "python.exe")}, venvCandidates("v", "windows"))
}

func TestRun_ForwardsArgsVerbatim(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script interpreter")
	}
	dir := t.TempDir()
	py := filepath.Join(dir, ".venv", "bin", "python")
	require.NoError(t, os.MkdirAll(filepath.Dir(py), 0o755))
	script := "#!/bin/sh\nfor a in \"$@\"; do echo \"[$a]\"; done\nexit 7\n"
	require.NoError(t, os.WriteFile(py, []byte(script), 0o755))

	var out bytes.Buffer
	code, err := Run(context.Background(), zap.NewNop(), Options{
		ProjectDir: dir, VenvDir: ".venv", Stdout: &out, Stderr: &out,
	}, []string{"bump-version", "--help", "two words"})
	require.NoError(t, err)
	assert.Equal(t, 7, code)
	assert.Equal(t, "[-m]\n[cli]\n[bump-version]\n[--help]\n[two words]\n", out.String())
}
