package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Player renders a local audio file and blocks until playback finishes.
type Player interface {
	Play(ctx context.Context, path string) error
}

// HTTPStatusError captures non-200 download responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("playback: unexpected status %d from %s", e.StatusCode, e.URL)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client downloads synthesized audio and plays it.
type Client struct {
	httpClient *http.Client
	player     Player
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(player Player, opts ...Option) (*Client, error) {
	if player == nil {
		return nil, errors.New("playback: player must not be nil")
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		player:     player,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

// Download fetches url into path. The body is written to a temporary file
// in the same directory and renamed into place, so path never holds a
// partial download.
func (c *Client) Download(ctx context.Context, url, path string) error {
	if strings.TrimSpace(url) == "" {
		return errors.New("playback: url must not be empty")
	}
	if strings.TrimSpace(path) == "" {
		return errors.New("playback: path must not be empty")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("playback: create audio dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("playback: create request: %w", err)
	}
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("playback: download failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: url}
	}

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return fmt.Errorf("playback: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, res.Body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("playback: write audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("playback: write audio: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("playback: move audio into place: %w", err)
	}
	return nil
}

// Play blocks until the file at path has been played.
func (c *Client) Play(ctx context.Context, path string) error {
	if err := c.player.Play(ctx, path); err != nil {
		return fmt.Errorf("playback: play %q: %w", path, err)
	}
	return nil
}
