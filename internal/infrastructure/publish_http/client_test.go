package publish_http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davarch/ci-orchestrator/internal/domain"
)

func fastClient(targets map[string]Target) *Client {
	c := New(targets, time.Second)
	c.backoff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
	}
	return c
}

func releaseFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "minegauler-v1-Linux.zip")
	require.NoError(t, os.WriteFile(p, []byte("zip"), 0o644))
	return p
}

func TestPublish_UploadsWithBearerToken(t *testing.T) {
	var got struct {
		auth, tag, name string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.auth = r.Header.Get("Authorization")
		got.tag = r.FormValue("tag")
		if _, fh, err := r.FormFile("file"); assert.NoError(t, err) {
			got.name = fh.Filename
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := fastClient(map[string]Target{domain.TargetGitHubRelease: {URL: srv.URL + "/", Token: "cfg"}})
	err := c.Publish(context.Background(), domain.PublishRequest{Target: domain.TargetGitHubRelease, Tag: "v1", Files: []string{releaseFile(t)}, Token: "override"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer override", got.auth)
	assert.Equal(t, "v1", got.tag)
	assert.Equal(t, "minegauler-v1-Linux.zip", got.name)
}

func TestPublish_PyPIUsesBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "__token__", user)
		assert.Equal(t, "pypi-token", pass)
		assert.Equal(t, "file_upload", r.FormValue(":action"))
	}))
	defer srv.Close()

	c := fastClient(map[string]Target{domain.TargetPyPI: {URL: srv.URL, Token: "pypi-token"}})
	require.NoError(t, c.Publish(context.Background(), domain.PublishRequest{Target: domain.TargetPyPI, Files: []string{releaseFile(t)}}))
}

func TestPublish_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := fastClient(map[string]Target{domain.TargetGitHubRelease: {URL: srv.URL}})
	require.NoError(t, c.Publish(context.Background(), domain.PublishRequest{Target: domain.TargetGitHubRelease, Files: []string{releaseFile(t)}}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestPublish_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := fastClient(map[string]Target{domain.TargetGitHubRelease: {URL: srv.URL}})
	err := c.Publish(context.Background(), domain.PublishRequest{Target: domain.TargetGitHubRelease, Files: []string{releaseFile(t)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, int32(1), calls.Load())
}

func TestPublish_UnknownTargetAndNoFiles(t *testing.T) {
	c := fastClient(map[string]Target{domain.TargetPyPI: {URL: "http://127.0.0.1:1"}})
	assert.Error(t, c.Publish(context.Background(), domain.PublishRequest{Target: domain.TargetGitHubRelease}))

	err := c.Publish(context.Background(), domain.PublishRequest{Target: domain.TargetPyPI})
	assert.True(t, errors.Is(err, domain.ErrNoArtifactFiles))
}
