package usecase

import (
	"context"
	"errors"

	"voice-agent/internal/domain"
)

// listen asks the transcriber for an utterance until one is understood.
// Failed attempts record nothing.
func (o *Orchestrator) listen(ctx context.Context) (string, error) {
	for attempt := 1; ; attempt++ {
		text, err := o.transcribe.Listen(ctx)
		if err == nil {
			return text, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		code, reason := ErrorTranscriptionUnavailable, "transcription_unavailable"
		if errors.Is(err, domain.ErrUnrecognized) {
			code, reason = ErrorTranscriptionUnrecognized, "speech_unrecognized"
		}
		o.observer.ListenFailed(code)
		o.logger.Warn("could not understand what was said, listening again",
			"conversation_id", o.cfg.ConversationID,
			"attempt", attempt,
			"code", code,
			"err", err,
		)

		if o.cfg.MaxListenAttempts > 0 && attempt >= o.cfg.MaxListenAttempts {
			return "", newError(ErrorTimeout, "listen_attempts_exhausted", newError(code, reason, err))
		}
		if code == ErrorTranscriptionUnavailable {
			if err := o.wait(ctx, listenRetryDelay); err != nil {
				return "", err
			}
		}
	}
}
