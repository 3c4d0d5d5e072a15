package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"voice-agent/handler"
	"voice-agent/internal/audio"
	"voice-agent/internal/config"
	"voice-agent/internal/integrations/openai"
	"voice-agent/internal/integrations/paramstore"
	"voice-agent/internal/integrations/playht"
	"voice-agent/internal/observability"
	"voice-agent/internal/playback"
	"voice-agent/internal/repository"
	"voice-agent/internal/speech"
	"voice-agent/internal/usecase"
)

func main() {
	listVoices := flag.Bool("voices", false, "list Play.ht voices and exit")
	accent := flag.String("accent", "", "with -voices, only show voices with this accent")
	age := flag.String("age", "", "with -voices, only show voices of this age group")
	gender := flag.String("gender", "", "with -voices, only show voices of this gender")
	flag.Parse()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- AWS SDK config (only when a component needs it) ----
	var ssmGetter paramstore.Getter
	var dynamoClient *awsdynamodb.Client
	if cfg.UseParamStore() || cfg.StoreBackend == config.BackendDynamoDB {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			slog.Error("failed to load AWS config", "err", err)
			os.Exit(1)
		}
		if cfg.UseParamStore() {
			ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg), cfg.ParamPrefix)
			if err != nil {
				slog.Error("failed to create SSM client", "err", err)
				os.Exit(1)
			}
			ssmGetter = ssmClient
		}
		if cfg.StoreBackend == config.BackendDynamoDB {
			dynamoClient = awsdynamodb.NewFromConfig(awsCfg)
		}
	}

	creds, err := resolveCredentials(ctx, cfg, ssmGetter)
	if err != nil {
		slog.Error("failed to resolve credentials", "err", err)
		os.Exit(1)
	}

	httpClient := &http.Client{
		Timeout:   cfg.HTTPTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	// ---- Clients ----
	synthesisClient, err := playht.NewClient(creds.PlayHTSecret, creds.PlayHTUserID,
		playht.WithBaseURL(cfg.PlayHTBaseURL),
		playht.WithHTTPClient(httpClient),
		playht.WithSettings(playht.Settings{
			Voice:        cfg.PlayHTVoice,
			Quality:      cfg.PlayHTQuality,
			OutputFormat: cfg.PlayHTOutputFormat,
			Speed:        cfg.PlayHTSpeed,
			SampleRate:   cfg.PlayHTSampleRate,
		}),
	)
	if err != nil {
		slog.Error("failed to create Play.ht client", "err", err)
		os.Exit(1)
	}

	if *listVoices {
		if err := printVoices(ctx, synthesisClient, playht.VoiceFilter{Accent: *accent, Age: *age, Gender: *gender}); err != nil {
			slog.Error("failed to list voices", "err", err)
			os.Exit(1)
		}
		return
	}

	openaiOpts := []openai.Option{
		openai.WithHTTPClient(httpClient),
		openai.WithTranscriptionModel(cfg.OpenAITranscribeModel),
	}
	if cfg.OpenAIBaseURL != "" {
		openaiOpts = append(openaiOpts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	openaiClient, err := openai.NewClient(creds.OpenAIKey, cfg.OpenAIModel, openaiOpts...)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	store, err := openStore(ctx, cfg, creds.SystemPrompt, dynamoClient)
	if err != nil {
		slog.Error("failed to open conversation store", "backend", cfg.StoreBackend, "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("failed to close conversation store", "err", err)
		}
	}()

	// ---- Audio devices ----
	host, err := audio.OpenHost()
	if err != nil {
		slog.Error("failed to open audio host", "err", err)
		os.Exit(1)
	}
	defer func() { _ = host.Close() }()

	captureCfg := audio.DefaultCaptureConfig()
	captureCfg.SampleRate = cfg.CaptureSampleRate
	captureCfg.EnergyThreshold = cfg.CaptureEnergyThreshold
	captureCfg.Silence = cfg.CaptureSilence
	captureCfg.MaxUtterance = cfg.CaptureMaxUtterance
	recorder, err := audio.NewRecorder(host, captureCfg)
	if err != nil {
		slog.Error("failed to create recorder", "err", err)
		os.Exit(1)
	}
	player, err := audio.NewPlayer(host)
	if err != nil {
		slog.Error("failed to create player", "err", err)
		os.Exit(1)
	}

	listener, err := speech.NewListener(recorder, openaiClient)
	if err != nil {
		slog.Error("failed to create listener", "err", err)
		os.Exit(1)
	}
	playbackClient, err := playback.NewClient(player, playback.WithHTTPClient(&http.Client{
		Timeout:   2 * cfg.HTTPTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}))
	if err != nil {
		slog.Error("failed to create playback client", "err", err)
		os.Exit(1)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	// ---- Orchestrator ----
	orchestrator, err := usecase.NewOrchestrator(store, listener, openaiClient, synthesisClient, playbackClient,
		usecase.Config{
			ConversationID:    cfg.ConversationID,
			AudioDir:          filepath.Clean(cfg.AudioDir),
			PollInterval:      cfg.SynthesisPollInterval,
			PollTimeout:       cfg.SynthesisPollTimeout,
			MaxListenAttempts: cfg.ListenMaxAttempts,
		},
		usecase.WithObserver(metrics),
		usecase.WithLogger(slog.Default()),
	)
	if err != nil {
		slog.Error("failed to create orchestrator", "err", err)
		os.Exit(1)
	}

	if cfg.StatusAddr != "" {
		h, err := handler.NewHandler(store, metrics.Handler())
		if err != nil {
			slog.Error("failed to create status handler", "err", err)
			os.Exit(1)
		}
		srv := &http.Server{Addr: cfg.StatusAddr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			slog.Info("status server listening", "addr", cfg.StatusAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("status server failed", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	slog.Info("voice agent started",
		"conversation_id", orchestrator.ConversationID(),
		"store", cfg.StoreBackend,
		"model", openaiClient.Model(),
	)
	if err := orchestrator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("conversation loop stopped", "err", err)
		return
	}
	slog.Info("voice agent stopped", "conversation_id", orchestrator.ConversationID())
}

func openStore(ctx context.Context, cfg config.Config, systemPrompt string, dynamoClient *awsdynamodb.Client) (repository.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendDynamoDB:
		return repository.NewDynamoStore(dynamoClient, cfg.StateTable, systemPrompt)
	case config.BackendPostgres:
		return repository.NewPostgresStore(ctx, cfg.DatabaseURL, systemPrompt)
	default:
		return repository.OpenBoltStore(cfg.StorePath, systemPrompt)
	}
}

func printVoices(ctx context.Context, c *playht.Client, f playht.VoiceFilter) error {
	voices, err := c.ListVoices(ctx)
	if err != nil {
		return err
	}
	for _, v := range playht.FilterVoices(voices, f) {
		fmt.Printf("%s\t%s\t%s\t%s\t%s\n", v.ID, v.Name, v.Accent, v.Age, v.Gender)
	}
	return nil
}
