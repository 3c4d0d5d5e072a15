package usecase

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"voice-agent/internal/domain"
)

const (
	defaultPollInterval  = 2 * time.Second
	defaultAudioDir      = "audio_files"
	defaultAudioFileName = "response_audio.mp3"
	listenRetryDelay     = time.Second
)

type ConversationStore interface {
	Get(ctx context.Context, conversationID string) (domain.ConversationRecord, bool, error)
	Upsert(ctx context.Context, conversationID string, role domain.Role, content string) error
}

type Transcriber interface {
	Listen(ctx context.Context) (string, error)
}

type DialogueClient interface {
	Complete(ctx context.Context, history []domain.Message) (string, error)
}

type SynthesisClient interface {
	Submit(ctx context.Context, text string) (string, error)
	Poll(ctx context.Context, jobID string) (domain.SynthesisJob, error)
}

type PlaybackClient interface {
	Download(ctx context.Context, url, path string) error
	Play(ctx context.Context, path string) error
}

// Config holds the per-process settings of the turn loop.
type Config struct {
	// ConversationID is fixed for the process run. Empty mints a new one.
	ConversationID string
	AudioDir       string
	PollInterval   time.Duration
	// PollTimeout bounds waiting for one synthesis job. Zero waits forever.
	PollTimeout time.Duration
	// MaxListenAttempts bounds re-listening within one turn. Zero retries
	// until speech is understood.
	MaxListenAttempts int
}

// TurnResult describes what one turn produced, as far as it got.
type TurnResult struct {
	ConversationID string
	Turn           int
	UserText       string
	AssistantText  string
	JobID          string
	Polls          int
	AudioPath      string
}

// Orchestrator runs the listen, respond, speak loop for one conversation.
type Orchestrator struct {
	store      ConversationStore
	transcribe Transcriber
	dialogue   DialogueClient
	synthesis  SynthesisClient
	playback   PlaybackClient

	cfg      Config
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
	wait     func(ctx context.Context, d time.Duration) error

	turn int
}

type Option func(*Orchestrator)

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func NewOrchestrator(store ConversationStore, tr Transcriber, dlg DialogueClient, syn SynthesisClient, pb PlaybackClient, cfg Config, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if tr == nil {
		return nil, errors.New("usecase: transcriber must not be nil")
	}
	if dlg == nil {
		return nil, errors.New("usecase: dialogue client must not be nil")
	}
	if syn == nil {
		return nil, errors.New("usecase: synthesis client must not be nil")
	}
	if pb == nil {
		return nil, errors.New("usecase: playback client must not be nil")
	}
	if cfg.PollInterval < 0 || cfg.PollTimeout < 0 || cfg.MaxListenAttempts < 0 {
		return nil, errors.New("usecase: poll interval, poll timeout and listen attempts must not be negative")
	}
	cfg.ConversationID = strings.TrimSpace(cfg.ConversationID)
	if cfg.ConversationID == "" {
		cfg.ConversationID = newUUID()
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if strings.TrimSpace(cfg.AudioDir) == "" {
		cfg.AudioDir = defaultAudioDir
	}

	o := &Orchestrator{
		store:      store,
		transcribe: tr,
		dialogue:   dlg,
		synthesis:  syn,
		playback:   pb,
		cfg:        cfg,
		observer:   nopObserver{},
		logger:     slog.Default(),
		now:        time.Now,
		wait:       sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// ConversationID returns the id every turn of this run is recorded under.
func (o *Orchestrator) ConversationID() string {
	return o.cfg.ConversationID
}

// Run executes turns until ctx is done. A failed turn is logged and the loop
// goes back to listening; only cancellation ends Run.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("conversation started", "conversation_id", o.cfg.ConversationID)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := o.RunTurn(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			code, reason := CodeOf(err)
			o.logger.Error("turn failed",
				"conversation_id", res.ConversationID,
				"turn", res.Turn,
				"code", code,
				"reason", reason,
				"err", err,
			)
			continue
		}
		o.logger.Info("turn completed",
			"conversation_id", res.ConversationID,
			"turn", res.Turn,
			"polls", res.Polls,
		)
	}
}

// RunTurn executes one full turn: listen, record, respond, record,
// synthesize, download and play.
func (o *Orchestrator) RunTurn(ctx context.Context) (TurnResult, error) {
	o.turn++
	res := TurnResult{ConversationID: o.cfg.ConversationID, Turn: o.turn}

	ctx, span := tracer.Start(ctx, "turn", trace.WithAttributes(
		attribute.String("conversation.id", res.ConversationID),
		attribute.Int("turn", res.Turn),
	))
	defer span.End()

	start := o.now()
	err := o.runTurn(ctx, &res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.observer.TurnCompleted(o.now().Sub(start), err)
	return res, err
}

func (o *Orchestrator) runTurn(ctx context.Context, res *TurnResult) error {
	convID := res.ConversationID

	if err := o.stage(ctx, StageListen, func(ctx context.Context) error {
		text, err := o.listen(ctx)
		res.UserText = text
		return err
	}); err != nil {
		return err
	}
	o.logger.Debug("heard", "conversation_id", convID, "turn", res.Turn, "text", res.UserText)

	if err := o.stage(ctx, StageStoreUser, func(ctx context.Context) error {
		if err := o.store.Upsert(ctx, convID, domain.RoleUser, res.UserText); err != nil {
			return newError(ErrorStorage, "user_upsert_error", err)
		}
		return nil
	}); err != nil {
		return err
	}

	var history []domain.Message
	if err := o.stage(ctx, StageLoadHistory, func(ctx context.Context) error {
		rec, ok, err := o.store.Get(ctx, convID)
		if err != nil {
			return newError(ErrorStorage, "history_read_error", err)
		}
		if !ok || len(rec.Messages) == 0 {
			return newError(ErrorStorage, "history_missing", nil)
		}
		history = rec.Messages
		return nil
	}); err != nil {
		return err
	}

	if err := o.stage(ctx, StageComplete, func(ctx context.Context) error {
		reply, err := o.dialogue.Complete(ctx, history)
		if err != nil {
			if status, ok := upstreamStatusCode(err); ok && status == 429 {
				return newError(ErrorCompletion, "openai_rate_limited", err)
			}
			return newError(ErrorCompletion, "openai_error", err)
		}
		if strings.TrimSpace(reply) == "" {
			return newError(ErrorCompletion, "openai_empty_reply", nil)
		}
		res.AssistantText = reply
		return nil
	}); err != nil {
		return err
	}
	o.logger.Debug("responding", "conversation_id", convID, "turn", res.Turn, "text", res.AssistantText)

	if err := o.stage(ctx, StageStoreAssistant, func(ctx context.Context) error {
		if err := o.store.Upsert(ctx, convID, domain.RoleAssistant, res.AssistantText); err != nil {
			return newError(ErrorStorage, "assistant_upsert_error", err)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := o.stage(ctx, StageSubmit, func(ctx context.Context) error {
		id, err := o.synthesis.Submit(ctx, res.AssistantText)
		if err != nil {
			return newError(ErrorSubmission, "playht_submit_error", err)
		}
		res.JobID = id
		return nil
	}); err != nil {
		return err
	}

	var job domain.SynthesisJob
	if err := o.stage(ctx, StagePoll, func(ctx context.Context) error {
		var err error
		job, res.Polls, err = o.waitForAudio(ctx, res.JobID)
		return err
	}); err != nil {
		return err
	}

	path := filepath.Join(o.cfg.AudioDir, defaultAudioFileName)
	if err := o.stage(ctx, StageDownload, func(ctx context.Context) error {
		if err := o.playback.Download(ctx, job.OutputURL, path); err != nil {
			return newError(ErrorDownload, "audio_download_error", err)
		}
		res.AudioPath = path
		return nil
	}); err != nil {
		return err
	}

	return o.stage(ctx, StagePlay, func(ctx context.Context) error {
		if err := o.playback.Play(ctx, path); err != nil {
			return newError(ErrorPlayback, "audio_playback_error", err)
		}
		return nil
	})
}

// stage runs fn inside its own span and reports its outcome to the observer.
func (o *Orchestrator) stage(ctx context.Context, s Stage, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, string(s))
	defer span.End()

	start := o.now()
	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.observer.StageCompleted(s, o.now().Sub(start), err)
	return err
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var newUUID = func() string {
	return uuid.NewString()
}
