package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"voice-agent/internal/domain"
)

const (
	defaultBaseURL            = "https://api.openai.com/v1"
	defaultModel              = openai.GPT3Dot5Turbo
	defaultTranscriptionModel = openai.Whisper1
)

// chatAPI is the subset of *openai.Client used by Client.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	Op         string
	Body       string
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.Op, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

func (e *HTTPStatusError) Unwrap() error {
	return e.Err
}

// Client is a focused OpenAI client for chat completions and audio transcription.
type Client struct {
	api                chatAPI
	model              string
	transcriptionModel string

	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTranscriptionModel overrides the audio transcription model (whisper-1).
func WithTranscriptionModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.transcriptionModel = m
		}
	}
}

// NewClient creates a Client authenticated with apiKey. An empty model falls
// back to gpt-3.5-turbo.
func NewClient(apiKey, model string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openai: api key must not be empty")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModel
	}
	c := &Client{
		model:              model,
		transcriptionModel: defaultTranscriptionModel,
		baseURL:            defaultBaseURL,
		httpClient:         &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}

	cfg := openai.DefaultConfig(apiKey)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	if c.httpClient != nil {
		cfg.HTTPClient = c.httpClient
	}
	c.api = openai.NewClientWithConfig(cfg)
	return c, nil
}

// Model returns the chat completion model in use.
func (c *Client) Model() string {
	return c.model
}

// Complete sends the ordered history and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, history []domain.Message) (string, error) {
	if len(history) == 0 {
		return "", errors.New("openai: history must not be empty")
	}
	msgs := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
	})
	if err != nil {
		return "", mapError("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Transcribe uploads a WAV utterance and returns the decoded text. The
// returned text may be empty when nothing intelligible was spoken.
func (c *Client) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if len(wav) == 0 {
		return "", errors.New("openai: audio must not be empty")
	}
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.transcriptionModel,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(wav),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", mapError("transcription", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func mapError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &HTTPStatusError{StatusCode: apiErr.HTTPStatusCode, Op: op, Body: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &HTTPStatusError{StatusCode: reqErr.HTTPStatusCode, Op: op, Body: reqErr.HTTPStatus, Err: err}
	}
	return fmt.Errorf("openai: %s request failed: %w", op, err)
}
