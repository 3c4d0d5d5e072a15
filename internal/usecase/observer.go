package usecase

import (
	"time"

	"voice-agent/internal/domain"
)

// Stage names one step of a turn.
type Stage string

const (
	StageListen         Stage = "listen"
	StageStoreUser      Stage = "store_user"
	StageLoadHistory    Stage = "load_history"
	StageComplete       Stage = "complete"
	StageStoreAssistant Stage = "store_assistant"
	StageSubmit         Stage = "submit"
	StagePoll           Stage = "poll"
	StageDownload       Stage = "download"
	StagePlay           Stage = "play"
)

// Observer receives turn telemetry. Implementations must be cheap and must
// not block.
type Observer interface {
	StageCompleted(stage Stage, elapsed time.Duration, err error)
	TurnCompleted(elapsed time.Duration, err error)
	ListenFailed(code ErrorCode)
	JobPolled(status domain.JobStatus)
}

type nopObserver struct{}

func (nopObserver) StageCompleted(Stage, time.Duration, error) {}
func (nopObserver) TurnCompleted(time.Duration, error)         {}
func (nopObserver) ListenFailed(ErrorCode)                     {}
func (nopObserver) JobPolled(domain.JobStatus)                 {}
