package publish_http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/davarch/ci-orchestrator/internal/domain"
)

// Target is where one publish target uploads to.
type Target struct {
	URL   string
	Token string
}

// Client uploads release files over HTTP, one multipart request per file,
// retrying transient failures.
type Client struct {
	targets map[string]Target
	hc      *http.Client
	backoff func() backoff.BackOff
}

func New(targets map[string]Target, timeout time.Duration) *Client {
	tr := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		targets: targets,
		hc:      &http.Client{Transport: tr, Timeout: timeout},
		backoff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 300 * time.Millisecond
			bo.MaxInterval = 2 * time.Second
			bo.MaxElapsedTime = 10 * time.Second
			return bo
		},
	}
}

func (c *Client) Publish(ctx context.Context, req domain.PublishRequest) error {
	t, ok := c.targets[req.Target]
	if !ok || t.URL == "" {
		return fmt.Errorf("publish target %q is not configured", req.Target)
	}
	if req.Token != "" {
		t.Token = req.Token
	}
	if len(req.Files) == 0 {
		return domain.ErrNoArtifactFiles
	}

	for _, file := range req.Files {
		if err := c.upload(ctx, req.Target, t, req.Tag, file); err != nil {
			return fmt.Errorf("upload %s: %w", filepath.Base(file), err)
		}
	}
	return nil
}

func (c *Client) upload(ctx context.Context, target string, t Target, tag, file string) error {
	content, err := os.ReadFile(file)
	if err != nil {
		return backoff.Permanent(err)
	}

	op := func() error {
		body, contentType, err := form(target, tag, filepath.Base(file), content)
		if err != nil {
			return backoff.Permanent(err)
		}

		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, trimSlash(t.URL), body)
		req.Header.Set("Content-Type", contentType)
		if t.Token != "" {
			if target == domain.TargetPyPI {
				req.SetBasicAuth("__token__", t.Token)
			} else {
				req.Header.Set("Authorization", "Bearer "+t.Token)
			}
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode == http.StatusTooManyRequests {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if sec, _ := strconv.Atoi(ra); sec > 0 {
					select {
					case <-time.After(time.Duration(sec) * time.Second):
					case <-ctx.Done():
						return backoff.Permanent(ctx.Err())
					}
					return errors.New("retry after due to 429")
				}
			}
			return fmt.Errorf("%s 429", target)
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("%s %s", target, resp.Status)
		}

		if resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("%s %s", target, resp.Status))
		}
		return nil
	}

	return backoff.Retry(op, backoff.WithContext(c.backoff(), ctx))
}

// form builds the multipart body: the legacy upload API fields for PyPI,
// a tag and file pair for release hosts.
func form(target, tag, name string, content []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	field := "file"
	if target == domain.TargetPyPI {
		field = "content"
		_ = w.WriteField(":action", "file_upload")
		_ = w.WriteField("protocol_version", "1")
	}
	if tag != "" {
		_ = w.WriteField("tag", tag)
	}
	part, err := w.CreateFormFile(field, name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(content); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
