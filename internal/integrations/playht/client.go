package playht

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"voice-agent/internal/domain"
)

const defaultBaseURL = "https://play.ht"

// Voice settings sent with every synthesis job.
type Settings struct {
	Voice        string
	Quality      string
	OutputFormat string
	Speed        float64
	SampleRate   int
}

// DefaultSettings mirrors the voice used by the scheduling assistant.
func DefaultSettings() Settings {
	return Settings{
		Voice:        "alphonso",
		Quality:      "high",
		OutputFormat: "mp3",
		Speed:        1,
		SampleRate:   24000,
	}
}

type ttsRequest struct {
	Text         string  `json:"text"`
	Voice        string  `json:"voice"`
	Quality      string  `json:"quality"`
	OutputFormat string  `json:"output_format"`
	Speed        float64 `json:"speed"`
	SampleRate   int     `json:"sample_rate"`
}

// jobResponse is the minimal shape of a TTS job returned by submit and poll.
type jobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
	Output *struct {
		URL string `json:"url"`
	} `json:"output"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("playht: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to the Play.ht v2 asynchronous TTS job API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	secret     string
	userID     string
	settings   Settings
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithSettings(s Settings) Option {
	return func(c *Client) {
		c.settings = s
	}
}

// NewClient creates a Client authenticated with the account secret and user id.
func NewClient(secret, userID string, opts ...Option) (*Client, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("playht: secret must not be empty")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("playht: user id must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		secret:     secret,
		userID:     userID,
		settings:   DefaultSettings(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if strings.TrimSpace(c.settings.Voice) == "" {
		return nil, errors.New("playht: voice must not be empty")
	}
	return c, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func apiURL(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	base = strings.TrimSuffix(base, "/api/v2")
	return base + "/api/v2" + path
}

// Submit creates a synthesis job for text and returns its opaque id.
func (c *Client) Submit(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("playht: text must not be empty")
	}
	body, err := sonic.Marshal(ttsRequest{
		Text:         text,
		Voice:        c.settings.Voice,
		Quality:      c.settings.Quality,
		OutputFormat: c.settings.OutputFormat,
		Speed:        c.settings.Speed,
		SampleRate:   c.settings.SampleRate,
	})
	if err != nil {
		return "", fmt.Errorf("playht: marshal request: %w", err)
	}

	u := apiURL(c.baseURL, "/tts")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("playht: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	raw, err := c.doJSONRequest(req, u)
	if err != nil {
		return "", fmt.Errorf("playht: submit failed: %w", err)
	}
	var job jobResponse
	if err := sonic.Unmarshal(raw, &job); err != nil {
		return "", fmt.Errorf("playht: decode submit response: %w", err)
	}
	if strings.TrimSpace(job.ID) == "" {
		return "", errors.New("playht: submit response has no job id")
	}
	return job.ID, nil
}

// Poll fetches the current state of a synthesis job.
func (c *Client) Poll(ctx context.Context, jobID string) (domain.SynthesisJob, error) {
	if strings.TrimSpace(jobID) == "" {
		return domain.SynthesisJob{}, errors.New("playht: job id must not be empty")
	}
	u := apiURL(c.baseURL, "/tts/"+url.PathEscape(jobID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.SynthesisJob{}, fmt.Errorf("playht: create request: %w", err)
	}
	c.authorize(req)

	raw, err := c.doJSONRequest(req, u)
	if err != nil {
		return domain.SynthesisJob{}, fmt.Errorf("playht: poll failed: %w", err)
	}
	var job jobResponse
	if err := sonic.Unmarshal(raw, &job); err != nil {
		return domain.SynthesisJob{}, fmt.Errorf("playht: decode poll response: %w", err)
	}
	return toSynthesisJob(jobID, job), nil
}

func toSynthesisJob(jobID string, job jobResponse) domain.SynthesisJob {
	out := domain.SynthesisJob{ID: jobID, Status: domain.JobPending}
	if job.Output != nil && strings.TrimSpace(job.Output.URL) != "" {
		out.Status = domain.JobReady
		out.OutputURL = strings.TrimSpace(job.Output.URL)
		return out
	}
	switch strings.ToLower(job.Status) {
	case "failed", "error":
		out.Status = domain.JobFailed
	}
	return out
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("X-User-ID", c.userID)
}

func (c *Client) doJSONRequest(req *http.Request, endpoint string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        endpoint,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
