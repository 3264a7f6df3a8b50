// Package remote fetches experiment inputs, such as pretrained model files,
// over HTTP into the local cache directory.
package remote

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

type Client struct {
	rest *resty.Client
}

func New(timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(2 * time.Minute) // default fallback
	}
	r.SetRetryCount(2)
	return &Client{rest: r}
}

// IsURL reports whether location is an http(s) URL rather than a local path.
func IsURL(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// Download saves rawURL into destDir, named after the last path segment of
// the URL. An existing file is reused without a request.
func (c *Client) Download(ctx context.Context, rawURL, destDir string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL %s: %w", rawURL, err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", fmt.Errorf("cannot derive a file name from %s", rawURL)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}
	dest := filepath.Join(destDir, name)
	if _, err := os.Stat(dest); err == nil {
		log.Debug().Str("file", dest).Msg("Using previously downloaded file")
		return dest, nil
	}

	tmp, err := os.CreateTemp(destDir, name+".*.part")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpName) // no-op after a successful rename

	start := time.Now()
	resp, err := c.rest.R().
		SetContext(ctx).
		SetOutput(tmpName).
		Get(rawURL)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return "", fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode())
	}

	if err := os.Rename(tmpName, dest); err != nil {
		return "", fmt.Errorf("failed to move download into place: %w", err)
	}

	log.Info().
		Str("url", rawURL).
		Str("file", dest).
		Dur("elapsed", time.Since(start)).
		Msg("Downloaded file")
	return dest, nil
}
