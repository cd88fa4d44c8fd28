package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxmetra/voxmetra/internal/analysis"
	"github.com/voxmetra/voxmetra/internal/config"
	"github.com/voxmetra/voxmetra/internal/feedback"
	"github.com/voxmetra/voxmetra/internal/observe"
	"github.com/voxmetra/voxmetra/internal/postprocess"
	"github.com/voxmetra/voxmetra/internal/progress"
	"github.com/voxmetra/voxmetra/internal/resilience"
	"github.com/voxmetra/voxmetra/pkg/audio"
	"github.com/voxmetra/voxmetra/pkg/provider/embeddings"
	"github.com/voxmetra/voxmetra/pkg/provider/transcribe"
	"github.com/voxmetra/voxmetra/pkg/store"
	"github.com/voxmetra/voxmetra/pkg/types"
)

// aggregationRetry bounds the conditional-write retry loop. Conflicts are
// rare (two devices finishing sessions for the same user at once), so a
// short, jittered series is enough.
var aggregationRetry = resilience.RetryConfig{
	Attempts:  3,
	BaseDelay: 25 * time.Millisecond,
	MaxDelay:  250 * time.Millisecond,
}

// Pipeline runs the post-session stages: audio post-processing, transcription,
// speech analysis, progress aggregation, achievement detection, and coaching
// feedback. One Pipeline is shared by all sessions; every method is safe for
// concurrent use.
type Pipeline struct {
	post        *postprocess.Processor
	transcriber transcribe.Transcriber
	store       store.ProgressStore
	cache       *progress.Cache
	journal     *progress.Journal
	index       store.TranscriptIndex
	embedder    embeddings.Provider
	metrics     *observe.Metrics

	// analyzer and feedback are swapped atomically on config hot reload.
	analyzer atomic.Pointer[analysis.Analyzer]
	feedback atomic.Pointer[feedback.Generator]
}

// PipelineConfig holds all dependencies for a [Pipeline]. Journal, Index, and
// Embeddings are optional; nil disables journaling and transcript indexing.
type PipelineConfig struct {
	Config      *config.Config
	Transcriber transcribe.Transcriber
	Store       store.ProgressStore
	Cache       *progress.Cache
	Journal     *progress.Journal
	Feedback    *feedback.Generator
	Index       store.TranscriptIndex
	Embeddings  embeddings.Provider
	Metrics     *observe.Metrics
}

// NewPipeline creates a Pipeline with the given dependencies.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	p := &Pipeline{
		post:        postprocess.New(cfg.Config.Capture),
		transcriber: cfg.Transcriber,
		store:       cfg.Store,
		cache:       cfg.Cache,
		journal:     cfg.Journal,
		index:       cfg.Index,
		embedder:    cfg.Embeddings,
		metrics:     m,
	}
	p.analyzer.Store(analysis.New(cfg.Config.Analysis))
	p.feedback.Store(cfg.Feedback)
	return p
}

// SetAnalyzer swaps the transcript analyzer. In-flight sessions keep the
// analyzer they already loaded.
func (p *Pipeline) SetAnalyzer(a *analysis.Analyzer) {
	p.analyzer.Store(a)
}

// SetFeedback swaps the feedback generator.
func (p *Pipeline) SetFeedback(g *feedback.Generator) {
	p.feedback.Store(g)
}

// Finish runs the full post-session pipeline for one stopped session and
// returns the persisted record. Post-processing and quality summarization run
// concurrently; everything downstream of transcription is sequential because
// each stage consumes the previous one's output.
func (p *Pipeline) Finish(ctx context.Context, ms *ManagedSession, raw audio.EncodedAudio) (*types.SessionRecord, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.finish")
	defer span.End()
	log := observe.Logger(ctx).With("session_id", ms.ID, "user_id", ms.UserID)

	var (
		processed audio.EncodedAudio
		quality   feedback.QualitySummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		var err error
		processed, err = p.post.Process(raw)
		p.metrics.PostprocessDuration.Record(gctx, time.Since(start).Seconds())
		if err != nil {
			if raw.Encoding != audio.EncodingPCM {
				return fmt.Errorf("post-process: %w", err)
			}
			// A failed downmix/resample loses compression, not the
			// recording. Wrap the capture in a WAV container as-is and
			// let transcription work from the uncompressed audio.
			log.Warn("post-processing failed, transcribing uncompressed capture", "err", err)
			processed = audio.EncodedAudio{
				Data:     audio.EncodeWAV(raw.Data, raw.Format.SampleRate, raw.Format.Channels),
				Encoding: audio.EncodingWAV,
				Format:   raw.Format,
			}
		}
		return nil
	})
	g.Go(func() error {
		quality = ms.QualitySummary()
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := p.transcriber.Transcribe(ctx, processed, ms.Language)
	p.metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}

	start = time.Now()
	analyzer := p.analyzer.Load()
	metrics := analyzer.Analyze(result.Transcript, result.Words, result.Confidence)
	if metrics.WordCount == 0 && strings.TrimSpace(result.Transcript) != "" {
		// Provider without word timings: derive what we can from the
		// transcript and the recording length.
		metrics = transcriptOnlyMetrics(analyzer, result, processed.DurationSeconds())
	}
	p.metrics.AnalysisDuration.Record(ctx, time.Since(start).Seconds())

	achievements, err := p.aggregate(ctx, ms, metrics)
	if err != nil {
		return nil, err
	}
	for _, a := range achievements {
		p.metrics.RecordAchievement(ctx, a.ID)
		log.Info("achievement unlocked", "achievement", a.ID, "title", a.Title)
	}

	var tips []string
	if metrics.WordCount > 0 {
		tips = p.feedback.Load().Generate(ctx, metrics, quality)
	} else {
		log.Info("no speech detected, skipping feedback")
	}

	record := &types.SessionRecord{
		SessionID: ms.ID,
		UserID:    ms.UserID,
		Language:  ms.Language,
		CreatedAt: ms.StartedAt,
		Metrics:   metrics,
		Feedback:  tips,
	}
	if err := p.store.SaveSession(ctx, record); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	if p.journal != nil {
		if err := p.journal.Append(*record); err != nil {
			log.Warn("journal append failed", "err", err)
		}
	}
	p.indexTranscript(ctx, record)

	log.Info("session finished",
		"words", metrics.WordCount,
		"clarity", metrics.ClarityScore,
		"achievements", len(achievements),
		"tips", len(tips),
	)
	return record, nil
}

// aggregate folds the session into the user's progress document under
// optimistic concurrency: load, fold, detect achievements, conditional save.
// A revision mismatch restarts the whole cycle so the fold always applies to
// the freshest document.
func (p *Pipeline) aggregate(ctx context.Context, ms *ManagedSession, metrics types.SpeechMetrics) ([]types.Achievement, error) {
	start := time.Now()
	defer func() {
		p.metrics.AggregationDuration.Record(ctx, time.Since(start).Seconds())
	}()

	var unlocked []types.Achievement
	retryable := func(err error) bool {
		if errors.Is(err, store.ErrRevisionMismatch) {
			p.metrics.AggregationConflicts.Add(ctx, 1)
			return true
		}
		return false
	}
	err := resilience.Retry(ctx, aggregationRetry, retryable, func(ctx context.Context) error {
		current, err := p.store.LoadProgress(ctx, ms.UserID)
		if err != nil {
			return fmt.Errorf("load progress: %w", err)
		}
		now := time.Now().UTC()
		updated := progress.RecordSession(current, ms.ID, metrics, now)
		unlocked = progress.DetectAchievements(updated, now)
		updated.Achievements = append(updated.Achievements, unlocked...)
		return p.store.SaveProgress(ctx, updated, current.Revision)
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate progress: %w", err)
	}
	if p.cache != nil {
		p.cache.Invalidate(ms.UserID)
	}
	return unlocked, nil
}

// transcriptOnlyMetrics computes the metric subset available without word
// timings. Words are spread evenly over the recording for filler matching;
// pause and burst detection need real timings and stay empty.
func transcriptOnlyMetrics(analyzer *analysis.Analyzer, result *transcribe.Result, durationSeconds float64) types.SpeechMetrics {
	started := time.Now()
	fields := strings.Fields(result.Transcript)
	if len(fields) == 0 || durationSeconds <= 0 {
		return types.SpeechMetrics{}
	}

	words := make([]types.WordTiming, len(fields))
	step := durationSeconds / float64(len(fields))
	for i, w := range fields {
		words[i] = types.WordTiming{
			Word:             w,
			StartTimeSeconds: float64(i) * step,
			EndTimeSeconds:   float64(i+1) * step,
			Confidence:       result.Confidence,
		}
	}

	fillers := analyzer.DetectFillers(words)
	wpm := analysis.SpeakingRate(len(words), durationSeconds)
	return types.SpeechMetrics{
		Transcript:       result.Transcript,
		Confidence:       result.Confidence,
		DurationSeconds:  durationSeconds,
		WordCount:        len(words),
		WordsPerMinute:   wpm,
		FillerWords:      fillers,
		ClarityScore:     analyzer.ClarityScore(result.Confidence, fillers.Percentage, wpm),
		ProcessingTimeMs: time.Since(started).Milliseconds(),
	}
}

// indexTranscript embeds the transcript and upserts it into the semantic
// index. Best-effort: the record is already saved, so failures only cost the
// similar-sessions feature for this one entry.
func (p *Pipeline) indexTranscript(ctx context.Context, record *types.SessionRecord) {
	if p.index == nil || p.embedder == nil || strings.TrimSpace(record.Metrics.Transcript) == "" {
		return
	}
	log := observe.Logger(ctx).With("session_id", record.SessionID)

	vec, err := p.embedder.Embed(ctx, record.Metrics.Transcript)
	if err != nil {
		log.Warn("transcript embedding failed", "err", err)
		return
	}
	entry := store.TranscriptEntry{
		SessionID:  record.SessionID,
		UserID:     record.UserID,
		Transcript: record.Metrics.Transcript,
		Embedding:  vec,
		CreatedAt:  record.CreatedAt,
	}
	if err := p.index.IndexTranscript(ctx, entry); err != nil {
		log.Warn("transcript indexing failed", "err", err)
	}
}
