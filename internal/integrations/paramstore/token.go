package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// tokenPayload is the expected JSON shape stored in SSM for API tokens.
type tokenPayload struct {
	Token string `json:"token"`
}

// FetchToken reads a SecureString parameter holding {"token": "..."} and
// returns the token.
func FetchToken(ctx context.Context, getter Getter, name string) (string, error) {
	raw, err := fetch(ctx, getter, name)
	if err != nil {
		return "", err
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("paramstore: unmarshal %q value as JSON: %w", name, err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return "", fmt.Errorf("paramstore: token in %q is empty", name)
	}
	return strings.TrimSpace(tp.Token), nil
}

// FetchString reads a plain parameter value and rejects blank values.
func FetchString(ctx context.Context, getter Getter, name string) (string, error) {
	raw, err := fetch(ctx, getter, name)
	if err != nil {
		return "", err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("paramstore: value of %q is empty", name)
	}
	return raw, nil
}

func fetch(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("paramstore: getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: parameter name is empty")
	}
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("paramstore: fetch %q: %w", name, err)
	}
	return raw, nil
}
