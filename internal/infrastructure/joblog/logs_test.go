package joblog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndRead(t *testing.T) {
	s := New(t.TempDir())
	path, err := s.Save("run-1", "test (ubuntu-latest, 3.8)", []byte("$ pytest\nok\n"))
	require.NoError(t, err)
	assert.Equal(t, "test__ubuntu-latest__3.8.log", filepath.Base(path))

	b, err := s.Read("run-1", "test (ubuntu-latest, 3.8)")
	require.NoError(t, err)
	assert.Equal(t, "$ pytest\nok\n", string(b))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "job", sanitize("///"))
	assert.Equal(t, "build_1__2", sanitize("build 1/ 2"))
	assert.Equal(t, "x", sanitize("../x"))
}
