package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"voice-agent/internal/audio"
	"voice-agent/internal/domain"
)

type recorder interface {
	Record(ctx context.Context) (audio.Utterance, error)
}

type transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Listener captures one utterance and turns it into text.
type Listener struct {
	recorder    recorder
	transcriber transcriber
}

func NewListener(rec recorder, tr transcriber) (*Listener, error) {
	if rec == nil {
		return nil, errors.New("speech: recorder must not be nil")
	}
	if tr == nil {
		return nil, errors.New("speech: transcriber must not be nil")
	}
	return &Listener{recorder: rec, transcriber: tr}, nil
}

// Listen blocks until one utterance has been captured and transcribed.
// Failures wrap domain.ErrUnrecognized or domain.ErrServiceUnavailable;
// cancellation of ctx is returned unwrapped.
func (l *Listener) Listen(ctx context.Context) (string, error) {
	utt, err := l.recorder.Record(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("speech: capture: %w: %w", domain.ErrServiceUnavailable, err)
	}
	if len(utt.PCM) == 0 {
		return "", fmt.Errorf("speech: empty utterance: %w", domain.ErrUnrecognized)
	}

	wav, err := utt.WAV()
	if err != nil {
		return "", fmt.Errorf("speech: encode utterance: %w: %w", domain.ErrUnrecognized, err)
	}

	text, err := l.transcriber.Transcribe(ctx, wav)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("speech: transcribe: %w: %w", domain.ErrServiceUnavailable, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("speech: blank transcript: %w", domain.ErrUnrecognized)
	}
	return text, nil
}
