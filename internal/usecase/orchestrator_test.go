package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voice-agent/internal/domain"
	"voice-agent/internal/integrations/openai"
)

const systemPrompt = "You are a helpful assistant. You will be providing assistance to people who are scheduling an appointment. My free times are Monday 1PM EST to 3 PM EST."

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type memStore struct {
	records map[string][]domain.Message

	upsertCalls int
	failRole    domain.Role
	upsertErr   error
	getErr      error
	getCalls    int
}

func newMemStore() *memStore {
	return &memStore{records: map[string][]domain.Message{}}
}

func (m *memStore) Get(_ context.Context, id string) (domain.ConversationRecord, bool, error) {
	m.getCalls++
	if m.getErr != nil {
		return domain.ConversationRecord{}, false, m.getErr
	}
	msgs, ok := m.records[id]
	if !ok {
		return domain.ConversationRecord{}, false, nil
	}
	out := append([]domain.Message(nil), msgs...)
	return domain.ConversationRecord{ConversationID: id, Messages: out}, true, nil
}

func (m *memStore) Upsert(_ context.Context, id string, role domain.Role, content string) error {
	m.upsertCalls++
	if m.upsertErr != nil && (m.failRole == "" || m.failRole == role) {
		return m.upsertErr
	}
	_, exists := m.records[id]
	m.records[id] = append(m.records[id], domain.UpsertBatch(exists, systemPrompt, domain.Message{Role: role, Content: content})...)
	return nil
}

type listenResult struct {
	text string
	err  error
}

type fakeTranscriber struct {
	results []listenResult
	calls   int
}

func (f *fakeTranscriber) Listen(_ context.Context) (string, error) {
	idx := f.calls
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	f.calls++
	return f.results[idx].text, f.results[idx].err
}

type fakeDialogue struct {
	reply   string
	err     error
	calls   int
	history []domain.Message
}

func (f *fakeDialogue) Complete(_ context.Context, history []domain.Message) (string, error) {
	f.calls++
	f.history = append([]domain.Message(nil), history...)
	return f.reply, f.err
}

type fakeSynthesis struct {
	jobID     string
	submitErr error
	submitted []string

	polls   []domain.SynthesisJob
	pollErr error
	polled  int
}

func (f *fakeSynthesis) Submit(_ context.Context, text string) (string, error) {
	f.submitted = append(f.submitted, text)
	return f.jobID, f.submitErr
}

func (f *fakeSynthesis) Poll(_ context.Context, jobID string) (domain.SynthesisJob, error) {
	f.polled++
	if f.pollErr != nil {
		return domain.SynthesisJob{}, f.pollErr
	}
	idx := f.polled - 1
	if idx >= len(f.polls) {
		idx = len(f.polls) - 1
	}
	job := f.polls[idx]
	job.ID = jobID
	return job, nil
}

type fakePlayback struct {
	downloadErr error
	playErr     error
	downloads   [][2]string
	played      []string
}

func (f *fakePlayback) Download(_ context.Context, url, path string) error {
	f.downloads = append(f.downloads, [2]string{url, path})
	return f.downloadErr
}

func (f *fakePlayback) Play(_ context.Context, path string) error {
	f.played = append(f.played, path)
	return f.playErr
}

type recordingObserver struct {
	mu           sync.Mutex
	stages       []Stage
	stageErrs    map[Stage]error
	turns        int
	turnErrs     []error
	listenFailed []ErrorCode
	polled       []domain.JobStatus
}

func (r *recordingObserver) StageCompleted(s Stage, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, s)
	if err != nil {
		if r.stageErrs == nil {
			r.stageErrs = map[Stage]error{}
		}
		r.stageErrs[s] = err
	}
}

func (r *recordingObserver) TurnCompleted(_ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns++
	r.turnErrs = append(r.turnErrs, err)
}

func (r *recordingObserver) ListenFailed(code ErrorCode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listenFailed = append(r.listenFailed, code)
}

func (r *recordingObserver) JobPolled(status domain.JobStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polled = append(r.polled, status)
}

// fakeClock advances only when the orchestrator waits.
type fakeClock struct {
	now   time.Time
	waits []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	return nil
}

type harness struct {
	store     *memStore
	listener  *fakeTranscriber
	dialogue  *fakeDialogue
	synthesis *fakeSynthesis
	playback  *fakePlayback
	observer  *recordingObserver
	clock     *fakeClock
	audioDir  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		store:    newMemStore(),
		listener: &fakeTranscriber{results: []listenResult{{text: "Schedule me for Monday"}}},
		dialogue: &fakeDialogue{reply: "Monday 1–3 PM EST works, confirm?"},
		synthesis: &fakeSynthesis{
			jobID: "job-1",
			polls: []domain.SynthesisJob{
				{Status: domain.JobPending},
				{Status: domain.JobReady, OutputURL: "https://x/a.mp3"},
			},
		},
		playback: &fakePlayback{},
		observer: &recordingObserver{},
		clock:    &fakeClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)},
		audioDir: filepath.Join(t.TempDir(), "audio_files"),
	}
}

func (h *harness) orchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	if cfg.ConversationID == "" {
		cfg.ConversationID = "c1"
	}
	if cfg.AudioDir == "" {
		cfg.AudioDir = h.audioDir
	}
	o, err := NewOrchestrator(h.store, h.listener, h.dialogue, h.synthesis, h.playback, cfg, WithObserver(h.observer))
	require.NoError(t, err)
	o.now = h.clock.Now
	o.wait = h.clock.Wait
	return o
}

func expectTurnError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

// ---------------------------------------------------------------------------
// construction
// ---------------------------------------------------------------------------

func TestNewOrchestrator_ValidatesDependencies(t *testing.T) {
	h := newHarness(t)
	_, err := NewOrchestrator(nil, h.listener, h.dialogue, h.synthesis, h.playback, Config{})
	require.Error(t, err)
	_, err = NewOrchestrator(h.store, nil, h.dialogue, h.synthesis, h.playback, Config{})
	require.Error(t, err)
	_, err = NewOrchestrator(h.store, h.listener, nil, h.synthesis, h.playback, Config{})
	require.Error(t, err)
	_, err = NewOrchestrator(h.store, h.listener, h.dialogue, nil, h.playback, Config{})
	require.Error(t, err)
	_, err = NewOrchestrator(h.store, h.listener, h.dialogue, h.synthesis, nil, Config{})
	require.Error(t, err)
	_, err = NewOrchestrator(h.store, h.listener, h.dialogue, h.synthesis, h.playback, Config{PollInterval: -time.Second})
	require.Error(t, err)
}

func TestNewOrchestrator_Defaults(t *testing.T) {
	orig := newUUID
	newUUID = func() string { return "generated-id" }
	defer func() { newUUID = orig }()

	h := newHarness(t)
	o, err := NewOrchestrator(h.store, h.listener, h.dialogue, h.synthesis, h.playback, Config{})
	require.NoError(t, err)
	require.Equal(t, "generated-id", o.ConversationID())
	require.Equal(t, 2*time.Second, o.cfg.PollInterval)
	require.Equal(t, "audio_files", o.cfg.AudioDir)
	require.Zero(t, o.cfg.PollTimeout)
	require.Zero(t, o.cfg.MaxListenAttempts)
}

// ---------------------------------------------------------------------------
// end to end
// ---------------------------------------------------------------------------

func TestRunTurn_EndToEnd(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t, Config{})

	res, err := o.RunTurn(context.Background())
	require.NoError(t, err)

	require.Equal(t, []domain.Message{
		{Role: domain.RoleSystem, Content: systemPrompt},
		{Role: domain.RoleUser, Content: "Schedule me for Monday"},
		{Role: domain.RoleAssistant, Content: "Monday 1–3 PM EST works, confirm?"},
	}, h.store.records["c1"])

	require.Equal(t, []domain.Message{
		{Role: domain.RoleSystem, Content: systemPrompt},
		{Role: domain.RoleUser, Content: "Schedule me for Monday"},
	}, h.dialogue.history)

	require.Equal(t, []string{"Monday 1–3 PM EST works, confirm?"}, h.synthesis.submitted)
	require.Equal(t, 2, h.synthesis.polled)
	require.Equal(t, []time.Duration{2 * time.Second}, h.clock.waits)

	wantPath := filepath.Join(h.audioDir, "response_audio.mp3")
	require.Equal(t, [][2]string{{"https://x/a.mp3", wantPath}}, h.playback.downloads)
	require.Equal(t, []string{wantPath}, h.playback.played)

	require.Equal(t, TurnResult{
		ConversationID: "c1",
		Turn:           1,
		UserText:       "Schedule me for Monday",
		AssistantText:  "Monday 1–3 PM EST works, confirm?",
		JobID:          "job-1",
		Polls:          2,
		AudioPath:      wantPath,
	}, res)

	require.Equal(t, []Stage{
		StageListen, StageStoreUser, StageLoadHistory, StageComplete, StageStoreAssistant,
		StageSubmit, StagePoll, StageDownload, StagePlay,
	}, h.observer.stages)
	require.Equal(t, 1, h.observer.turns)
	require.Equal(t, []domain.JobStatus{domain.JobPending, domain.JobReady}, h.observer.polled)
}

func TestRunTurn_SecondTurnSendsFullHistory(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t, Config{})

	_, err := o.RunTurn(context.Background())
	require.NoError(t, err)

	h.listener.results = []listenResult{{text: "Yes please"}}
	h.listener.calls = 0
	h.dialogue.reply = "Booked."
	h.synthesis.polled = 0

	res, err := o.RunTurn(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Turn)

	require.Len(t, h.dialogue.history, 4)
	require.Equal(t, domain.RoleSystem, h.dialogue.history[0].Role)
	require.Equal(t, domain.Message{Role: domain.RoleUser, Content: "Yes please"}, h.dialogue.history[3])

	msgs := h.store.records["c1"]
	require.Len(t, msgs, 5)
	systemCount := 0
	for _, m := range msgs {
		if m.Role == domain.RoleSystem {
			systemCount++
		}
	}
	require.Equal(t, 1, systemCount)
	require.Equal(t, domain.Message{Role: domain.RoleAssistant, Content: "Booked."}, msgs[4])
}

func TestRunTurn_ResumesExistingConversation(t *testing.T) {
	h := newHarness(t)
	h.store.records["c1"] = []domain.Message{
		{Role: domain.RoleSystem, Content: systemPrompt},
		{Role: domain.RoleUser, Content: "Hi"},
		{Role: domain.RoleAssistant, Content: "Hello"},
	}
	o := h.orchestrator(t, Config{})

	_, err := o.RunTurn(context.Background())
	require.NoError(t, err)
	require.Len(t, h.dialogue.history, 4)
	require.Len(t, h.store.records["c1"], 5)
}

// ---------------------------------------------------------------------------
// listening
// ---------------------------------------------------------------------------

func TestRunTurn_UnrecognizedThenTextRetriesOnce(t *testing.T) {
	h := newHarness(t)
	h.listener.results = []listenResult{
		{err: fmt.Errorf("speech: blank transcript: %w", domain.ErrUnrecognized)},
		{text: "Schedule me for Monday"},
	}
	o := h.orchestrator(t, Config{})

	res, err := o.RunTurn(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, h.listener.calls)
	require.Equal(t, "Schedule me for Monday", res.UserText)
	require.Equal(t, []ErrorCode{ErrorTranscriptionUnrecognized}, h.observer.listenFailed)

	// nothing is recorded for the failed attempt
	require.Len(t, h.store.records["c1"], 3)
	require.Equal(t, 1, h.dialogue.calls)
}

func TestRunTurn_UnavailableBacksOffBeforeRetry(t *testing.T) {
	h := newHarness(t)
	h.listener.results = []listenResult{
		{err: fmt.Errorf("speech: transcribe: %w", domain.ErrServiceUnavailable)},
		{text: "Schedule me for Monday"},
	}
	o := h.orchestrator(t, Config{})

	_, err := o.RunTurn(context.Background())
	require.NoError(t, err)
	require.Equal(t, []ErrorCode{ErrorTranscriptionUnavailable}, h.observer.listenFailed)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.clock.waits)
}

func TestRunTurn_ListenUnboundedByDefault(t *testing.T) {
	h := newHarness(t)
	results := make([]listenResult, 0, 26)
	for i := 0; i < 25; i++ {
		results = append(results, listenResult{err: domain.ErrUnrecognized})
	}
	h.listener.results = append(results, listenResult{text: "Schedule me for Monday"})
	o := h.orchestrator(t, Config{})

	_, err := o.RunTurn(context.Background())
	require.NoError(t, err)
	require.Equal(t, 26, h.listener.calls)
}

func TestRunTurn_ListenAttemptsExhausted(t *testing.T) {
	h := newHarness(t)
	h.listener.results = []listenResult{{err: domain.ErrUnrecognized}}
	o := h.orchestrator(t, Config{MaxListenAttempts: 3})

	_, err := o.RunTurn(context.Background())
	expectTurnError(t, err, ErrorTimeout, "listen_attempts_exhausted")
	require.ErrorIs(t, err, domain.ErrUnrecognized)
	require.Equal(t, 3, h.listener.calls)
	require.Zero(t, h.store.upsertCalls)
}

func TestRunTurn_ListenCancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.listener.results = []listenResult{{err: context.Canceled}}
	o := h.orchestrator(t, Config{})

	_, err := o.RunTurn(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, h.listener.calls)
}

// ---------------------------------------------------------------------------
// storage and completion failures
// ---------------------------------------------------------------------------

func TestRunTurn_UserUpsertFails(t *testing.T) {
	h := newHarness(t)
	h.store.upsertErr = errors.New("disk full")
	o := h.orchestrator(t, Config{})

	_, err := o.RunTurn(context.Background())
	expectTurnError(t, err, ErrorStorage, "user_upsert_error")
	require.Zero(t, h.dialogue.calls)
}

func TestRunTurn_HistoryReadFails(t *testing.T) {
	h := newHarness(t)
	h.store.getErr = errors.New("corrupt record")
	o := h.orchestrator(t, Config{})

	_, err := o.RunTurn(context.Background())
	expectTurnError(t, err, ErrorStorage, "history_read_error")
	require.Zero(t, h.dialogue.calls)
}

func TestRunTurn_AssistantUpsertFailsKeepsUserTurn(t *testing.T) {
	h := newHarness(t)
	h.store.failRole = domain.RoleAssistant
	h.store.upsertErr = errors.New("disk full")
	o := h.orchestrator(t, Config{})

	_, err := o.RunTurn(context.Background())
	expectTurnError(t, err, ErrorStorage, "assistant_upsert_error")

	require.Equal(t, []domain.Message{
		{Role: domain.RoleSystem, Content: systemPrompt},
		{Role: domain.RoleUser, Content: "Schedule me for Monday"},
	}, h.store.records["c1"])
	require.Empty(t, h.synthesis.submitted)
	require.Empty(t, h.playback.played)
}

func TestRunTurn_CompletionFails(t *testing.T) {
	h := newHarness(t)
	h.dialogue.err = errors.New("connection reset")
	o := h.orchestrator(t, Config{})

	_, err := o.RunTurn(context.Background())
	expectTurnError(t, err, ErrorCompletion, "openai_error")
	require.Len(t, h.store.records["c1"], 2)
	require.Empty(t, h.synthesis.submitted)
}

func TestRunTurn_CompletionRateLimited(t *testing.T) {
	h := newHarness(t)
	h.dialogue.err = &openai.HTTPStatusError{StatusCode: http.StatusTooManyRequests, Op: "chat completion"}
	o := h.orchestrator(t, Config{})

	_, err := o.RunTurn(context.Background())
	expectTurnError(t, err, ErrorCompletion, "openai_rate_limited")
}

func TestRunTurn_EmptyReply(t *testing.T) {
	h := newHarness(t)
	h.dialogue.reply = "  "
	o := h.orchestrator(t, Config{})

	_, err := o.RunTurn(context.Background())
	expectTurnError(t, err, ErrorCompletion, "openai_empty_reply")
	require.Len(t, h.store.records["c1"], 2)
}

// ---------------------------------------------------------------------------
// synthesis, download and playback failures
// ---------------------------------------------------------------------------

func TestRunTurn_SubmissionFails(t *testing.T) {
	h := newHarness(t)
	h.synthesis.submitErr = errors.New("playht: unexpected status 403")
	o := h.orchestrator(t, Config{})

	_, err := o.RunTurn(context.Background())
	expectTurnError(t, err, ErrorSubmission, "playht_submit_error")

	require.Zero(t, h.synthesis.polled)
	require.Empty(t, h.playback.downloads)
	require.Empty(t, h.playback.played)
	require.Equal(t, []domain.Message{
		{Role: domain.RoleSystem, Content: systemPrompt},
		{Role: domain.RoleUser, Content: "Schedule me for Monday"},
		{Role: domain.RoleAssistant, Content: "Monday 1–3 PM EST works, confirm?"},
	}, h.store.records["c1"])
}

func TestRunTurn_PollFails(t *testing.T) {
	h := newHarness(t)
	h.synthesis.pollErr = errors.New("playht: unexpected status 500")
	o := h.orchestrator(t, Config{})

	_, err := o.RunTurn(context.Background())
	expectTurnError(t, err, ErrorPoll, "playht_poll_error")
	require.Equal(t, 1, h.synthesis.polled)
	require.Empty(t, h.playback.downloads)
}

func TestRunTurn_JobFailed(t *testing.T) {
	h := newHarness(t)
	h.synthesis.polls = []domain.SynthesisJob{{Status: domain.JobPending}, {Status: domain.JobFailed}}
	o := h.orchestrator(t, Config{})

	_, err := o.RunTurn(context.Background())
	expectTurnError(t, err, ErrorPoll, "synthesis_failed")
	require.Equal(t, 2, h.synthesis.polled)
	require.Empty(t, h.playback.downloads)
}

func TestRunTurn_DownloadFails(t *testing.T) {
	h := newHarness(t)
	h.playback.downloadErr = errors.New("playback: unexpected status 404")
	o := h.orchestrator(t, Config{})

	_, err := o.RunTurn(context.Background())
	expectTurnError(t, err, ErrorDownload, "audio_download_error")
	require.Empty(t, h.playback.played)
}

func TestRunTurn_PlaybackFails(t *testing.T) {
	h := newHarness(t)
	h.playback.playErr = errors.New("no output device")
	o := h.orchestrator(t, Config{})

	res, err := o.RunTurn(context.Background())
	expectTurnError(t, err, ErrorPlayback, "audio_playback_error")
	require.NotEmpty(t, res.AudioPath)
	require.Len(t, h.store.records["c1"], 3)
}

// ---------------------------------------------------------------------------
// Run loop
// ---------------------------------------------------------------------------

// cancellingTranscriber cancels the run once it has served all results.
type cancellingTranscriber struct {
	results []listenResult
	calls   int
	cancel  context.CancelFunc
}

func (c *cancellingTranscriber) Listen(ctx context.Context) (string, error) {
	if c.calls >= len(c.results) {
		c.cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}
	r := c.results[c.calls]
	c.calls++
	return r.text, r.err
}

func TestRun_ContinuesAfterFailedTurn(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := &cancellingTranscriber{
		results: []listenResult{{text: "first"}, {text: "second"}},
		cancel:  cancel,
	}
	h.synthesis.submitErr = errors.New("quota exceeded")
	o, err := NewOrchestrator(h.store, tr, h.dialogue, h.synthesis, h.playback, Config{ConversationID: "c1"}, WithObserver(h.observer))
	require.NoError(t, err)
	o.now = h.clock.Now
	o.wait = h.clock.Wait

	err = o.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 3, h.observer.turns)
	require.Equal(t, 2, h.dialogue.calls)
	// both turns recorded their user and assistant messages despite failing at submission
	require.Len(t, h.store.records["c1"], 5)
	code, reason := CodeOf(h.observer.turnErrs[0])
	require.Equal(t, ErrorSubmission, code)
	require.Equal(t, "playht_submit_error", reason)
}

func TestRun_StopsWhenContextAlreadyDone(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := o.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, h.listener.calls)
}

// ---------------------------------------------------------------------------
// CodeOf
// ---------------------------------------------------------------------------

func TestCodeOf(t *testing.T) {
	code, reason := CodeOf(nil)
	require.Empty(t, code)
	require.Empty(t, reason)

	code, reason = CodeOf(fmt.Errorf("wrapped: %w", newError(ErrorDownload, "audio_download_error", nil)))
	require.Equal(t, ErrorDownload, code)
	require.Equal(t, "audio_download_error", reason)

	code, _ = CodeOf(context.Canceled)
	require.Equal(t, ErrorCancelled, code)

	code, _ = CodeOf(errors.New("boom"))
	require.Equal(t, ErrorUnknown, code)
}

func TestError_Message(t *testing.T) {
	require.Equal(t, "usecase: TIMEOUT (synthesis_timeout)", newError(ErrorTimeout, "synthesis_timeout", nil).Error())
	inner := errors.New("disk full")
	err := newError(ErrorStorage, "user_upsert_error", inner)
	require.Equal(t, "usecase: STORAGE_ERROR (user_upsert_error): disk full", err.Error())
	require.ErrorIs(t, err, inner)
}
