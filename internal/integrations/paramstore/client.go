package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ErrNotFound is returned when the requested parameter does not exist.
var ErrNotFound = errors.New("paramstore: parameter not found")

// ssmAPI is the subset of *ssm.Client used by Client.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter resolves a parameter key to its value.
type Getter interface {
	GetParameter(ctx context.Context, key string) (string, error)
}

// Client reads decrypted parameters that live under a single path prefix,
// e.g. "/voice-agent/open-ai-token" for prefix "/voice-agent".
type Client struct {
	api    ssmAPI
	prefix string
}

// New returns a Client rooted at prefix.
func New(api ssmAPI, prefix string) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if !strings.HasPrefix(prefix, "/") {
		return nil, fmt.Errorf("paramstore: prefix %q must start with /", prefix)
	}
	return &Client{api: api, prefix: prefix}, nil
}

// Path returns the fully qualified parameter name for key.
func (c *Client) Path(key string) string {
	return Name(c.prefix, key)
}

func (c *Client) GetParameter(ctx context.Context, key string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("paramstore: key is required")
	}

	path := c.Path(key)
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(true),
	})
	var notFound *types.ParameterNotFound
	switch {
	case errors.As(err, &notFound):
		return "", fmt.Errorf("paramstore: %q: %w", path, ErrNotFound)
	case err != nil:
		return "", fmt.Errorf("paramstore: get parameter %q: %w", path, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: parameter %q has no value", path)
	}
	return *out.Parameter.Value, nil
}

// Name joins a parameter prefix and a key, normalising slashes.
func Name(prefix, key string) string {
	return strings.TrimRight(strings.TrimSpace(prefix), "/") + "/" + strings.TrimLeft(key, "/")
}
