package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/voxmetra/voxmetra/internal/capture"
	"github.com/voxmetra/voxmetra/pkg/audio"
)

// liveWriteTimeout bounds a single WebSocket write. A client that cannot keep
// up is disconnected instead of backing the feed up.
const liveWriteTimeout = 5 * time.Second

// vizMessage is one waveform sample for the client's level display.
type vizMessage struct {
	Type        string  `json:"type"` // "visualization"
	Level       float64 `json:"level"`
	RMS         float64 `json:"rms"`
	TimestampMs int64   `json:"timestampMs"`
}

// qualityMessage wraps one live quality tick.
type qualityMessage struct {
	Type    string              `json:"type"` // "quality"
	Quality capture.QualityInfo `json:"quality"`
}

// handleLive streams visualization frames and quality ticks over a WebSocket
// until the session ends or the client disconnects.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	ms, err := s.app.Sessions().Get(r.PathValue("sessionID"))
	if err != nil {
		s.writeErrorFor(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("live feed accept failed", "session_id", ms.ID, "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "live feed aborted")

	ctx := r.Context()
	s.metrics.LiveSubscribers.Add(ctx, 1)
	defer s.metrics.LiveSubscribers.Add(ctx, -1)

	quality, cancel := ms.Subscribe()
	defer cancel()
	viz := ms.Capture.Visualization()

	for {
		if viz == nil && quality == nil {
			conn.Close(websocket.StatusNormalClosure, "session ended")
			return
		}
		select {
		case <-ctx.Done():
			return

		case f, ok := <-viz:
			if !ok {
				viz = nil
				continue
			}
			msg := vizMessage{
				Type:        "visualization",
				Level:       float64(audio.PeakLevel(f.Data)) * 100 / audio.MeterMax,
				RMS:         audio.RMS(f.Data),
				TimestampMs: f.Timestamp.Milliseconds(),
			}
			if err := writeWS(ctx, conn, msg); err != nil {
				return
			}

		case q, ok := <-quality:
			if !ok {
				quality = nil
				continue
			}
			if err := writeWS(ctx, conn, qualityMessage{Type: "quality", Quality: q}); err != nil {
				return
			}
		}
	}
}

// writeWS marshals v and sends it as one text frame with a write deadline.
func writeWS(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
