package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"authrax/auth"
	"authrax/config"
	"authrax/insights"
	"authrax/jobs"
	"authrax/llm"
	"authrax/pkg/authrax"
	"authrax/server"
	"authrax/sources"
	"authrax/storage"
	"authrax/trending"
	"authrax/voice"
	"cloud.google.com/go/firestore"
	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// store is everything the services persist.
type store interface {
	trending.Cache
	insights.Store
	insights.PostStore
	jobs.CleanupStore
	jobs.TopicStore
	voice.Store
	io.Closer
}

// app holds the wired services of one process.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       store
	archive     *storage.Archive // Nil when no archive is configured
	verifier    server.Verifier
	trending    *trending.Aggregator
	generator   *insights.Generator
	recommender *insights.Recommender
	voice       *voice.Service
	cleanup     *jobs.Cleanup
	topicWorker *jobs.TopicWorker
	closers     []io.Closer
}

func newLogger(level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// newApp connects to the backing services named by cfg. Without a Google
// Cloud project it runs on in-memory storage and accepts unverified tokens.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}

	if cfg.Local() {
		logger.Info("No GOOGLE_CLOUD_PROJECT set, running in local development mode")
		a.store = storage.NewMemory()
		a.verifier = auth.NewInsecure(logger)
	} else {
		client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
		if err != nil {
			return nil, fmt.Errorf("firestore client: %w", err)
		}
		a.store = storage.NewFirestore(client, logger)
		a.verifier = auth.NewFirebase(&auth.Config{
			HTTPClient: &http.Client{Timeout: cfg.Tunables.HTTPTimeout},
			Logger:     logger,
			ProjectID:  cfg.ProjectID,
		})
	}
	a.closers = append(a.closers, a.store)

	switch {
	case cfg.LocalStorage != "":
		if err := os.MkdirAll(cfg.LocalStorage, 0o755); err != nil {
			a.Close()
			return nil, fmt.Errorf("create local storage directory: %w", err)
		}
		a.archive = storage.NewArchive(nil, "", cfg.LocalStorage, logger)
		logger.Info("Archiving payloads to local storage", "storage_path", cfg.LocalStorage)
	case cfg.ArchiveBucket != "":
		client, err := gcs.NewClient(ctx, opts...)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("storage client: %w", err)
		}
		a.closers = append(a.closers, client)
		a.archive = storage.NewArchive(client, cfg.ArchiveBucket, "", logger)
	default:
		logger.Warn("No ARCHIVE_BUCKET or LOCAL_STORAGE set, voice payloads will not be archived")
	}

	src := sources.New(&sources.Config{
		HTTPClient: &http.Client{Timeout: cfg.Tunables.HTTPTimeout},
		Logger:     logger,
		UserAgent:  cfg.Tunables.UserAgent,
	})

	var completer insights.Completer
	client, err := llm.New(&llm.Config{
		HTTPClient: &http.Client{Timeout: cfg.Tunables.HTTPTimeout},
		Logger:     logger,
		APIKey:     cfg.GeminiAPIKey,
		Model:      cfg.GeminiModel,
		BaseURL:    cfg.GeminiBaseURL,
	})
	switch {
	case err == nil:
		completer = client
		logger.Info("LLM configured", "model", client.Model())
	case authrax.IsKind(err, authrax.ConfigMissing):
		logger.Warn("GEMINI_API_KEY not set, insights are disabled")
	default:
		a.Close()
		return nil, err
	}

	a.trending = trending.New(&trending.Config{
		Sources:           src,
		Cache:             a.store,
		Logger:            logger,
		DefaultTopics:     cfg.Tunables.DefaultTopics,
		DefaultSubreddits: cfg.Tunables.DefaultSubreddits,
	})
	a.generator = insights.NewGenerator(&insights.Config{
		LLM:     completer,
		Store:   a.store,
		Sources: src,
		Logger:  logger,
	})
	a.recommender = insights.NewRecommender(&insights.RecommenderConfig{
		Insights: a.generator,
		Store:    a.store,
		Logger:   logger,
	})

	voiceCfg := &voice.Config{
		Store:         a.store,
		Logger:        logger,
		Secret:        cfg.WebhookSecret,
		EnforceSecret: cfg.EnforceWebhookSecret,
	}
	if a.archive != nil {
		voiceCfg.Archive = a.archive
	}
	a.voice = voice.New(voiceCfg)

	a.cleanup = jobs.NewCleanup(a.store, logger)
	a.topicWorker = jobs.NewTopicWorker(a.store, a.generator, logger)
	return a, nil
}

func (a *app) server() *server.Server {
	return server.New(&server.Config{
		Trending:        a.trending,
		Insights:        a.generator,
		Recommendations: a.recommender,
		Voice:           a.voice,
		Cleanup:         a.cleanup,
		TopicWorker:     a.topicWorker,
		Verifier:        a.verifier,
		Logger:          a.logger,
		SchedulerToken:  a.cfg.SchedulerToken,
	})
}

// Close releases the backing clients.
func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("Failed to close client", "error", err)
		}
	}
}

// replayLatest re-applies the newest archived voice payload of uid.
func (a *app) replayLatest(ctx context.Context, uid string) (*authrax.VoiceProfile, error) {
	if a.archive == nil {
		return nil, authrax.Errorf(authrax.ConfigMissing, "replay", "no archive configured")
	}
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, authrax.Errorf(authrax.InvalidArgument, "replay", "user id is required")
	}

	prefix := "voice-payloads/" + strings.ReplaceAll(uid, "/", "_") + "/"
	keys, err := a.archive.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list archived payloads: %w", err)
	}
	if len(keys) == 0 {
		return nil, authrax.Errorf(authrax.NotFound, "replay", "no archived payloads for %s", uid)
	}

	// Keys end in ULIDs, so the last one is the newest.
	key := keys[len(keys)-1]
	body, err := a.archive.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	p, err := a.voice.Replay(ctx, body)
	if err != nil {
		return nil, err
	}
	if p.UserID != "" && p.UserID != uid {
		a.logger.Warn("Replayed payload belongs to another user", "requested", uid, "user_id", p.UserID)
	}
	a.logger.Info("Voice payload replayed", "key", key, "profile_id", p.ID, "version", p.Version)
	return p, nil
}
