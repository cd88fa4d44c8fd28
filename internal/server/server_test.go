package server_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxmetra/voxmetra/internal/app"
	"github.com/voxmetra/voxmetra/internal/config"
	"github.com/voxmetra/voxmetra/internal/server"
	"github.com/voxmetra/voxmetra/pkg/provider/transcribe"
	transcribemock "github.com/voxmetra/voxmetra/pkg/provider/transcribe/mock"
	memorystore "github.com/voxmetra/voxmetra/pkg/store/memory"
	"github.com/voxmetra/voxmetra/pkg/types"
)

// newTestServer stands up the full API over an in-memory store.
func newTestServer(t *testing.T, tr transcribe.Transcriber) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Capture.MaxDurationSeconds = 600

	a, err := app.New(context.Background(), cfg, &app.Providers{Transcriber: tr}, app.WithStore(memorystore.New()))
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})

	srv := httptest.NewServer(server.New(cfg, a, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

// doJSON performs one JSON request and decodes the response into out when
// out is non-nil.
func doJSON(t *testing.T, method, url string, body, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

// openSession opens a capture session and returns its id.
func openSession(t *testing.T, srv *httptest.Server, userID string) string {
	t.Helper()
	var opened struct {
		SessionID string `json:"sessionId"`
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions",
		map[string]string{"userId": userID, "language": "en"}, &opened)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open session status = %d", resp.StatusCode)
	}
	if opened.SessionID == "" {
		t.Fatal("empty session id")
	}
	return opened.SessionID
}

// pcmBatch builds a frame batch of constant-amplitude 100 ms mono frames.
func pcmBatch(frames int, amplitude int16) map[string]any {
	const rate = 48000
	payload := make([][]byte, frames)
	for i := range payload {
		data := make([]byte, rate/10*2)
		for j := 0; j < len(data); j += 2 {
			binary.LittleEndian.PutUint16(data[j:], uint16(amplitude))
		}
		payload[i] = data
	}
	return map[string]any{
		"encoding":   "pcm",
		"sampleRate": rate,
		"channels":   1,
		"frames":     payload,
	}
}

// pushFrames posts one PCM batch and asserts it is accepted.
func pushFrames(t *testing.T, srv *httptest.Server, sessionID string, frames int) {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions/"+sessionID+"/frames", pcmBatch(frames, 8000), nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("frames status = %d", resp.StatusCode)
	}
}

// timedResult builds a transcript result with one word every 400 ms.
func timedResult(confidence float64, words ...string) *transcribe.Result {
	r := &transcribe.Result{
		Transcript: strings.Join(words, " "),
		Confidence: confidence,
	}
	for i, w := range words {
		start := float64(i) * 0.4
		r.Words = append(r.Words, types.WordTiming{
			Word:             w,
			StartTimeSeconds: start,
			EndTimeSeconds:   start + 0.3,
			Confidence:       confidence,
		})
	}
	return r
}

func TestOpenSession_Validation(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &transcribemock.Transcriber{})

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions", map[string]string{"language": "en"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing userId status = %d, want 400", resp.StatusCode)
	}

	openSession(t, srv, "user-1")
	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/sessions", map[string]string{"userId": "user-1"}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate open status = %d, want 409", resp.StatusCode)
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	tr := &transcribemock.Transcriber{
		Result: timedResult(0.95, "hello", "everyone", "um", "welcome"),
	}
	srv := newTestServer(t, tr)

	id := openSession(t, srv, "user-1")
	pushFrames(t, srv, id, 5)

	// State reflects the running capture.
	var state struct {
		Status         string  `json:"status"`
		ElapsedSeconds float64 `json:"elapsedSeconds"`
	}
	waitForState(t, srv, id, func() bool {
		doJSON(t, http.MethodGet, srv.URL+"/v1/sessions/"+id, nil, &state)
		return state.ElapsedSeconds >= 0.5
	})
	if state.Status != "recording" {
		t.Errorf("status = %q, want recording", state.Status)
	}

	if resp := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions/"+id+"/pause", nil, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("pause status = %d", resp.StatusCode)
	}
	if resp := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions/"+id+"/resume", nil, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("resume status = %d", resp.StatusCode)
	}

	var record types.SessionRecord
	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions/"+id+"/stop", nil, &record)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}
	if record.SessionID != id || record.UserID != "user-1" {
		t.Errorf("record identity = %s/%s", record.SessionID, record.UserID)
	}
	if record.Metrics.WordCount != 4 {
		t.Errorf("WordCount = %d, want 4", record.Metrics.WordCount)
	}

	// The id is gone once stopped.
	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/sessions/"+id+"/stop", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second stop status = %d, want 404", resp.StatusCode)
	}
}

// waitForState polls cond until it holds or the deadline hits.
func waitForState(t *testing.T, srv *httptest.Server, id string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting on session %s state", id)
}

func TestFrames_Validation(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &transcribemock.Transcriber{})

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions/nope/frames", pcmBatch(1, 100), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", resp.StatusCode)
	}

	id := openSession(t, srv, "user-1")

	batch := pcmBatch(1, 100)
	batch["encoding"] = "flac"
	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/sessions/"+id+"/frames", batch, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown encoding status = %d, want 400", resp.StatusCode)
	}

	batch = pcmBatch(1, 100)
	delete(batch, "sampleRate")
	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/sessions/"+id+"/frames", batch, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing sampleRate status = %d, want 400", resp.StatusCode)
	}

	var accepted struct {
		Accepted int `json:"accepted"`
	}
	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/sessions/"+id+"/frames", pcmBatch(3, 100), &accepted)
	if resp.StatusCode != http.StatusAccepted || accepted.Accepted != 3 {
		t.Errorf("batch = %d/%d, want 202/3", resp.StatusCode, accepted.Accepted)
	}
}

func TestFrames_BadOpusPacket(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &transcribemock.Transcriber{})
	id := openSession(t, srv, "user-1")

	batch := map[string]any{
		"encoding": "opus",
		"frames":   [][]byte{{0xde, 0xad, 0xbe, 0xef}},
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions/"+id+"/frames", batch, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad opus packet status = %d, want 400", resp.StatusCode)
	}
}

func TestCancel_ReleasesSession(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &transcribemock.Transcriber{})
	id := openSession(t, srv, "user-1")

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/sessions/"+id, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("cancel status = %d, want 204", resp.StatusCode)
	}

	if get := doJSON(t, http.MethodGet, srv.URL+"/v1/sessions/"+id, nil, nil); get.StatusCode != http.StatusNotFound {
		t.Errorf("state after cancel = %d, want 404", get.StatusCode)
	}
}

func TestProgressAndRecentSessions(t *testing.T) {
	t.Parallel()
	tr := &transcribemock.Transcriber{Result: timedResult(0.9, "hello", "world")}
	srv := newTestServer(t, tr)

	id := openSession(t, srv, "user-1")
	pushFrames(t, srv, id, 5)
	if resp := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions/"+id+"/stop", nil, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}

	var prog types.UserProgress
	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/users/user-1/progress", nil, &prog)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("progress status = %d", resp.StatusCode)
	}
	if prog.SessionCount != 1 {
		t.Errorf("SessionCount = %d, want 1", prog.SessionCount)
	}

	var records []types.SessionRecord
	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/users/user-1/sessions?limit=5", nil, &records)
	if resp.StatusCode != http.StatusOK || len(records) != 1 {
		t.Fatalf("sessions = %d records, status %d", len(records), resp.StatusCode)
	}
	if records[0].SessionID != id {
		t.Errorf("record id = %s, want %s", records[0].SessionID, id)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/users/user-1/sessions?limit=zero", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", resp.StatusCode)
	}
}

func TestSimilarSessions_NotConfigured(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &transcribemock.Transcriber{})

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/users/user-1/sessions/similar?q=speaking", nil, nil)
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("similar status = %d, want 501", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/users/user-1/sessions/similar", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing q status = %d, want 400", resp.StatusCode)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &transcribemock.Transcriber{})

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestLiveFeed(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &transcribemock.Transcriber{})
	id := openSession(t, srv, "user-1")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/" + id + "/live"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial live feed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	pushFrames(t, srv, id, 10)

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read live message: %v", err)
	}
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal live message: %v", err)
	}
	if msg.Type != "visualization" && msg.Type != "quality" {
		t.Errorf("message type = %q, want visualization or quality", msg.Type)
	}

	// Stopping the session ends the feed with a normal closure.
	if resp := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions/"+id+"/stop", nil, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}
}

func TestLiveFeed_UnknownSession(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &transcribemock.Transcriber{})
	resp, err := http.Get(srv.URL + "/v1/sessions/nope/live")
	if err != nil {
		t.Fatalf("GET live: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("live unknown session = %d, want 404", resp.StatusCode)
	}
}
