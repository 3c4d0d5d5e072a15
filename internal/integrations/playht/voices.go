package playht

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
)

// Voice describes one prebuilt Play.ht voice.
type Voice struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Sample       string `json:"sample,omitempty"`
	Accent       string `json:"accent,omitempty"`
	Age          string `json:"age,omitempty"`
	Gender       string `json:"gender,omitempty"`
	Language     string `json:"language,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
	Style        string `json:"style,omitempty"`
	VoiceEngine  string `json:"voice_engine,omitempty"`
}

// VoiceFilter matches voices by attribute. Empty fields match anything.
type VoiceFilter struct {
	Accent string
	Age    string
	Gender string
}

// ListVoices returns every voice available to the account.
func (c *Client) ListVoices(ctx context.Context) ([]Voice, error) {
	u := apiURL(c.baseURL, "/voices")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("playht: create request: %w", err)
	}
	c.authorize(req)

	raw, err := c.doJSONRequest(req, u)
	if err != nil {
		return nil, fmt.Errorf("playht: list voices failed: %w", err)
	}
	var voices []Voice
	if err := sonic.Unmarshal(raw, &voices); err != nil {
		return nil, fmt.Errorf("playht: decode voices: %w", err)
	}
	return voices, nil
}

// FilterVoices returns the voices matching f, case-insensitively.
func FilterVoices(voices []Voice, f VoiceFilter) []Voice {
	out := make([]Voice, 0, len(voices))
	for _, v := range voices {
		if matches(v.Accent, f.Accent) && matches(v.Age, f.Age) && matches(v.Gender, f.Gender) {
			out = append(out, v)
		}
	}
	return out
}

func matches(value, want string) bool {
	want = strings.TrimSpace(want)
	return want == "" || strings.EqualFold(value, want)
}
