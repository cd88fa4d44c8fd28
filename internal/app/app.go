// Package app wires all voxmetra subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the store,
// progress guard, analysis pipeline, and session manager; Shutdown tears
// everything down in reverse order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxmetra/voxmetra/internal/analysis"
	"github.com/voxmetra/voxmetra/internal/config"
	"github.com/voxmetra/voxmetra/internal/feedback"
	"github.com/voxmetra/voxmetra/internal/observe"
	"github.com/voxmetra/voxmetra/internal/progress"
	"github.com/voxmetra/voxmetra/pkg/provider/embeddings"
	"github.com/voxmetra/voxmetra/pkg/provider/transcribe"
	"github.com/voxmetra/voxmetra/pkg/store"
	"github.com/voxmetra/voxmetra/pkg/store/memory"
	"github.com/voxmetra/voxmetra/pkg/store/postgres"
	"github.com/voxmetra/voxmetra/pkg/store/sqlite"
)

// progressCacheTTL is how long a cached progress document stays fresh. Past
// the TTL the guard re-reads the store but keeps the stale copy as a fallback
// for degraded mode.
const progressCacheTTL = 30 * time.Second

// ErrFeatureDisabled is returned for operations whose backing providers are
// not configured, such as similarity search without an embeddings provider.
var ErrFeatureDisabled = errors.New("app: feature not configured")

// Providers holds one interface value per external collaborator slot. Nil
// means the provider is not configured. Populated by main.go via the config
// registry; Transcriber is typically already wrapped in the fallback chain.
type Providers struct {
	Transcriber transcribe.Transcriber
	Embeddings  embeddings.Provider
	Phraser     feedback.Phraser
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	store    store.ProgressStore
	cache    *progress.Cache
	guard    *progress.Guard
	journal  *progress.Journal
	index    store.TranscriptIndex
	pipeline *Pipeline
	sessions *SessionManager
	metrics  *observe.Metrics

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a progress store instead of creating one from config.
func WithStore(s store.ProgressStore) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics instance instead of the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Transcriber == nil {
		return nil, fmt.Errorf("app: a transcription provider is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	a.cache = progress.NewCache(progressCacheTTL)
	a.guard = progress.NewGuard(a.store, a.cache)

	if path := cfg.Storage.JournalPath; path != "" {
		a.journal = progress.NewJournal(path)
	}

	a.pipeline = NewPipeline(PipelineConfig{
		Config:      cfg,
		Transcriber: providers.Transcriber,
		Store:       a.store,
		Cache:       a.cache,
		Journal:     a.journal,
		Feedback:    feedback.NewGenerator(cfg, a.phraser()),
		Index:       a.index,
		Embeddings:  providers.Embeddings,
		Metrics:     a.metrics,
	})
	a.sessions = NewSessionManager(SessionManagerConfig{
		Config:   cfg,
		Pipeline: a.pipeline,
		Metrics:  a.metrics,
	})

	return a, nil
}

// initStore opens the configured storage backend. The postgres backend also
// provides the semantic transcript index.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil // injected
	}

	switch a.cfg.Storage.Backend {
	case config.StoragePostgres:
		dsn := a.cfg.Storage.PostgresDSN
		if dsn == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres backend")
		}
		dims := a.cfg.Storage.EmbeddingDimensions
		if dims == 0 && a.providers.Embeddings != nil {
			dims = a.providers.Embeddings.Dimensions()
		}
		st, err := postgres.New(ctx, dsn, dims)
		if err != nil {
			return err
		}
		a.store = st
		a.index = st.Index()

	case config.StorageSQLite:
		path := a.cfg.Storage.SQLitePath
		if path == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite backend")
		}
		st, err := sqlite.New(ctx, path)
		if err != nil {
			return err
		}
		a.store = st

	case config.StorageMemory, "":
		a.store = memory.New()

	default:
		return fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}

	a.closers = append(a.closers, a.store.Close)
	return nil
}

// phraser returns the configured LLM phrasing stage, or nil when feedback
// should be served from the rule tips verbatim.
func (a *App) phraser() feedback.Phraser {
	if !a.cfg.Feedback.UseLLM {
		return nil
	}
	if a.providers.Phraser == nil {
		slog.Warn("feedback.use_llm is set but no LLM provider is configured, serving rule tips")
		return nil
	}
	return a.providers.Phraser
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Progress returns the guarded progress reader.
func (a *App) Progress() *progress.Guard { return a.guard }

// Store returns the progress store.
func (a *App) Store() store.ProgressStore { return a.store }

// SimilarSessions finds past sessions whose transcripts are semantically
// close to the query text. Requires the postgres backend and an embeddings
// provider; otherwise returns [ErrFeatureDisabled].
func (a *App) SimilarSessions(ctx context.Context, userID, query string, topK int) ([]store.SimilarSession, error) {
	if a.index == nil || a.providers.Embeddings == nil {
		return nil, ErrFeatureDisabled
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("app: similar sessions: query is required")
	}
	if topK <= 0 {
		topK = 5
	}
	vec, err := a.providers.Embeddings.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("app: embed query: %w", err)
	}
	hits, err := a.index.Similar(ctx, vec, topK, userID)
	if err != nil {
		return nil, fmt.Errorf("app: similar sessions: %w", err)
	}
	return hits, nil
}

// ApplyConfig swaps in the hot-reloadable settings from a reloaded config:
// quality thresholds, analysis tuning, and feedback shaping. Quality applies
// to sessions opened after the call; analysis and feedback apply from the
// next finished session. Server, storage, and provider settings need a
// restart.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.sessions.SetQuality(cfg.Quality)
	a.pipeline.SetAnalyzer(analysis.New(cfg.Analysis))
	a.pipeline.SetFeedback(feedback.NewGenerator(cfg, a.phraser()))
	slog.Info("applied reloaded configuration")
}

// Shutdown cancels live sessions and tears down all subsystems in reverse
// init order. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "live_sessions", a.sessions.Active())

		a.sessions.Shutdown(ctx)

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
