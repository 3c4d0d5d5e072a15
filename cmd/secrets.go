package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"voice-agent/internal/config"
	"voice-agent/internal/integrations/paramstore"
)

// credentials are the secrets and overridable prompt resolved at startup.
type credentials struct {
	OpenAIKey    string
	PlayHTSecret string
	PlayHTUserID string
	SystemPrompt string
}

// resolveCredentials reads secrets through getter, which is rooted at the
// parameter prefix, when one is configured and from the environment otherwise.
func resolveCredentials(ctx context.Context, cfg config.Config, getter paramstore.Getter) (credentials, error) {
	creds := credentials{SystemPrompt: cfg.SystemPrompt}

	if !cfg.UseParamStore() {
		creds.OpenAIKey = cfg.OpenAIAPIKey
		creds.PlayHTSecret = cfg.PlayHTSecret
		creds.PlayHTUserID = cfg.PlayHTUserID
		switch {
		case creds.OpenAIKey == "":
			return credentials{}, errors.New("OPENAI_API_KEY must be set when PARAM_PREFIX is empty")
		case creds.PlayHTSecret == "":
			return credentials{}, errors.New("PLAYHT_SECRET must be set when PARAM_PREFIX is empty")
		case creds.PlayHTUserID == "":
			return credentials{}, errors.New("PLAYHT_USER_ID must be set when PARAM_PREFIX is empty")
		}
		return creds, nil
	}

	var err error
	if creds.OpenAIKey, err = paramstore.FetchToken(ctx, getter, "open-ai-token"); err != nil {
		return credentials{}, err
	}
	if creds.PlayHTSecret, err = paramstore.FetchToken(ctx, getter, "playht-token"); err != nil {
		return credentials{}, err
	}
	if creds.PlayHTUserID, err = paramstore.FetchString(ctx, getter, "playht-user-id"); err != nil {
		return credentials{}, err
	}

	prompt, err := paramstore.FetchString(ctx, getter, "system_prompt")
	switch {
	case err == nil:
		creds.SystemPrompt = prompt
	case errors.Is(err, paramstore.ErrNotFound):
		slog.Debug("no system prompt parameter, using configured prompt", "prefix", cfg.ParamPrefix)
	default:
		return credentials{}, fmt.Errorf("load system prompt: %w", err)
	}
	return creds, nil
}
