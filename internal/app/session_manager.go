package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxmetra/voxmetra/internal/capture"
	"github.com/voxmetra/voxmetra/internal/config"
	"github.com/voxmetra/voxmetra/internal/feedback"
	"github.com/voxmetra/voxmetra/internal/observe"
	"github.com/voxmetra/voxmetra/pkg/audio"
	"github.com/voxmetra/voxmetra/pkg/types"
)

// ErrSessionNotFound is returned when a session id does not match any live
// session. Completed and cancelled sessions are removed immediately, so a
// stale id from a finished session also yields this error.
var ErrSessionNotFound = errors.New("app: session not found")

// ingestFormat is the normalization target for pushed frames. 48 kHz mono
// matches the Opus decoder output, so compressed ingest avoids a resample on
// the hot path; the post-processing stage brings it down to the archive rate.
var ingestFormat = audio.Format{SampleRate: 48000, Channels: 1}

// qualitySubscriberBuffer bounds each live-monitor quality feed. Slow
// subscribers lose ticks rather than stalling the drain loop.
const qualitySubscriberBuffer = 16

// ManagedSession pairs one capture session with its ingest source and the
// identity it was opened under.
type ManagedSession struct {
	ID        string
	UserID    string
	Language  string
	StartedAt time.Time

	Capture *capture.Session
	Source  *audio.PushSource

	// decMu guards the session's Opus decoder. Opus packets depend on the
	// packets before them, so decoder state must survive across batches and
	// dies with the session.
	decMu sync.Mutex
	opus  *audio.OpusDecoder

	mu          sync.Mutex
	lowVolume   bool
	highNoise   bool
	clipping    bool
	subscribers map[int]chan capture.QualityInfo
	nextSub     int
}

// DecodeOpus decodes one Opus packet with the session's decoder, creating it
// on first use, and returns the PCM payload and its format.
func (ms *ManagedSession) DecodeOpus(packet []byte) ([]byte, audio.Format, error) {
	ms.decMu.Lock()
	defer ms.decMu.Unlock()
	if ms.opus == nil {
		dec, err := audio.NewOpusDecoder(ingestFormat.SampleRate, ingestFormat.Channels)
		if err != nil {
			return nil, audio.Format{}, err
		}
		ms.opus = dec
	}
	pcm, err := ms.opus.Decode(packet)
	if err != nil {
		return nil, audio.Format{}, err
	}
	return pcm, ms.opus.Format(), nil
}

// watchQuality drains the capture session's quality stream, folding issue
// flags for the post-session feedback summary and fanning each tick out to
// live subscribers. Runs until the capture loop closes the stream.
func (ms *ManagedSession) watchQuality() {
	for info := range ms.Capture.Quality() {
		ms.mu.Lock()
		for _, issue := range info.Issues {
			switch issue {
			case capture.IssueLowVolume:
				ms.lowVolume = true
			case capture.IssueHighNoise:
				ms.highNoise = true
			case capture.IssueClipping:
				ms.clipping = true
			}
		}
		for _, ch := range ms.subscribers {
			select {
			case ch <- info:
			default:
			}
		}
		ms.mu.Unlock()
	}

	ms.mu.Lock()
	for _, ch := range ms.subscribers {
		close(ch)
	}
	ms.subscribers = nil
	ms.mu.Unlock()
}

// Subscribe attaches a live-monitor feed to the session's quality stream.
// The returned cancel func detaches it; the channel is closed when the
// session ends or the subscription is cancelled.
func (ms *ManagedSession) Subscribe() (<-chan capture.QualityInfo, func()) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.subscribers == nil {
		// Session already drained; hand back a closed channel so the
		// caller's receive loop exits immediately.
		ch := make(chan capture.QualityInfo)
		close(ch)
		return ch, func() {}
	}

	id := ms.nextSub
	ms.nextSub++
	ch := make(chan capture.QualityInfo, qualitySubscriberBuffer)
	ms.subscribers[id] = ch

	cancel := func() {
		ms.mu.Lock()
		defer ms.mu.Unlock()
		if c, ok := ms.subscribers[id]; ok {
			delete(ms.subscribers, id)
			close(c)
		}
	}
	return ch, cancel
}

// QualitySummary condenses what the live monitor saw into the facts the
// feedback rules consume.
func (ms *ManagedSession) QualitySummary() feedback.QualitySummary {
	interruptions := ms.Capture.Interruptions()
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return feedback.QualitySummary{
		LowVolume:     ms.lowVolume,
		Clipping:      ms.clipping,
		Interruptions: interruptions,
	}
}

// SessionManager owns the lifecycle of all live capture sessions. Each user
// may hold at most one active session at a time; a second open fails with
// [capture.ErrInvalidStateTransition]. All exported methods are safe for
// concurrent use.
type SessionManager struct {
	pipeline *Pipeline
	metrics  *observe.Metrics

	mu         sync.Mutex
	captureCfg config.CaptureConfig
	qualityCfg config.QualityConfig
	byID       map[string]*ManagedSession
	byUser     map[string]string
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Config   *config.Config
	Pipeline *Pipeline
	Metrics  *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &SessionManager{
		pipeline:   cfg.Pipeline,
		metrics:    m,
		captureCfg: cfg.Config.Capture,
		qualityCfg: cfg.Config.Quality,
		byID:       make(map[string]*ManagedSession),
		byUser:     make(map[string]string),
	}
}

// SetQuality swaps the live-monitor thresholds. Applies to sessions opened
// after the call; running sessions keep the thresholds they started with.
func (sm *SessionManager) SetQuality(q config.QualityConfig) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.qualityCfg = q
}

// Open starts a new capture session for a user. The returned session accepts
// frames via its Source until Stop, Cancel, or the max-duration auto-stop.
func (sm *SessionManager) Open(ctx context.Context, userID, language string) (*ManagedSession, error) {
	if userID == "" {
		return nil, fmt.Errorf("app: open session: user id is required")
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if activeID, ok := sm.byUser[userID]; ok {
		return nil, fmt.Errorf("app: user %q already has active session %s: %w",
			userID, activeID, capture.ErrInvalidStateTransition)
	}

	src := audio.NewPushSource(ingestFormat)
	sess := capture.NewSession(sm.captureCfg, sm.qualityCfg, src)
	if err := sess.Start(ctx); err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("app: open session: %w", err)
	}

	ms := &ManagedSession{
		ID:          uuid.NewString(),
		UserID:      userID,
		Language:    language,
		StartedAt:   sess.StartedAt(),
		Capture:     sess,
		Source:      src,
		subscribers: make(map[int]chan capture.QualityInfo),
	}
	go sm.watch(ms)

	sm.byID[ms.ID] = ms
	sm.byUser[userID] = ms.ID

	sm.metrics.SessionsStarted.Add(ctx, 1)
	sm.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("session opened", "session_id", ms.ID, "user_id", userID, "language", language)
	return ms, nil
}

// watch drains the session's quality stream and, once capture ends, starts
// the unclaimed-retention clock. Stop and Cancel claim the session well
// before the timer fires; a client that vanished after the max-duration
// auto-stop never does, and its buffered recording would otherwise sit in
// memory forever.
func (sm *SessionManager) watch(ms *ManagedSession) {
	ms.watchQuality()
	retention := time.Duration(sm.captureCfg.UnclaimedRetentionSeconds * float64(time.Second))
	time.AfterFunc(retention, func() { sm.expire(ms) })
}

// expire discards a finished session nobody claimed. A no-op when Stop or
// Cancel already took it.
func (sm *SessionManager) expire(ms *ManagedSession) {
	ctx := context.Background()

	sm.mu.Lock()
	if _, ok := sm.byID[ms.ID]; !ok {
		sm.mu.Unlock()
		return
	}
	delete(sm.byID, ms.ID)
	if sm.byUser[ms.UserID] == ms.ID {
		delete(sm.byUser, ms.UserID)
	}
	sm.metrics.ActiveSessions.Add(ctx, -1)
	sm.mu.Unlock()

	_ = ms.Capture.Cancel()
	sm.metrics.RecordSessionCompleted(ctx, "expired")
	slog.Warn("session expired unclaimed",
		"session_id", ms.ID, "user_id", ms.UserID,
		"retention_seconds", sm.captureCfg.UnclaimedRetentionSeconds)
}

// Get returns the live session with the given id.
func (sm *SessionManager) Get(sessionID string) (*ManagedSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ms, ok := sm.byID[sessionID]
	if !ok {
		return nil, fmt.Errorf("app: session %q: %w", sessionID, ErrSessionNotFound)
	}
	return ms, nil
}

// Pause suspends frame intake for a session.
func (sm *SessionManager) Pause(sessionID string) error {
	ms, err := sm.Get(sessionID)
	if err != nil {
		return err
	}
	return ms.Capture.Pause()
}

// Resume restarts frame intake for a paused session.
func (sm *SessionManager) Resume(sessionID string) error {
	ms, err := sm.Get(sessionID)
	if err != nil {
		return err
	}
	return ms.Capture.Resume()
}

// Stop finishes a session: it stops capture, runs the full post-session
// pipeline, and returns the final record with metrics and feedback. The
// session id is released before the pipeline runs, so the user can open a
// new session while analysis is still in flight.
func (sm *SessionManager) Stop(ctx context.Context, sessionID string) (*types.SessionRecord, error) {
	ms, err := sm.Get(sessionID)
	if err != nil {
		return nil, err
	}

	raw, err := ms.Capture.Stop()
	if err != nil {
		return nil, err
	}
	sm.remove(ctx, ms)

	outcome := "stopped"
	if ms.Capture.AutoStopped() {
		outcome = "auto"
	}
	sm.metrics.RecordSessionCompleted(ctx, outcome)

	record, err := sm.pipeline.Finish(ctx, ms, raw)
	if err != nil {
		return nil, fmt.Errorf("app: finish session %s: %w", sessionID, err)
	}
	return record, nil
}

// Cancel discards a session. Buffered audio is dropped and nothing is
// recorded against the user's progress.
func (sm *SessionManager) Cancel(ctx context.Context, sessionID string) error {
	ms, err := sm.Get(sessionID)
	if err != nil {
		return err
	}
	if err := ms.Capture.Cancel(); err != nil {
		return err
	}
	sm.remove(ctx, ms)
	sm.metrics.RecordSessionCompleted(ctx, "cancelled")
	slog.Info("session cancelled", "session_id", ms.ID, "user_id", ms.UserID)
	return nil
}

// remove drops a session from both indexes. Idempotent: a session already
// removed (say, by a racing Stop and Cancel) is a no-op.
func (sm *SessionManager) remove(ctx context.Context, ms *ManagedSession) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, ok := sm.byID[ms.ID]; !ok {
		return
	}
	delete(sm.byID, ms.ID)
	if sm.byUser[ms.UserID] == ms.ID {
		delete(sm.byUser, ms.UserID)
	}
	sm.metrics.ActiveSessions.Add(ctx, -1)
}

// Active returns the number of live sessions.
func (sm *SessionManager) Active() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.byID)
}

// Shutdown cancels every live session. In-flight audio is discarded; clients
// are expected to retry after reconnecting.
func (sm *SessionManager) Shutdown(ctx context.Context) {
	sm.mu.Lock()
	live := make([]*ManagedSession, 0, len(sm.byID))
	for _, ms := range sm.byID {
		live = append(live, ms)
	}
	sm.mu.Unlock()

	for _, ms := range live {
		if err := ms.Capture.Cancel(); err != nil {
			slog.Warn("shutdown: cancel session", "session_id", ms.ID, "err", err)
		}
		sm.remove(ctx, ms)
	}
	if len(live) > 0 {
		slog.Info("shutdown: cancelled live sessions", "count", len(live))
	}
}
