package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/jeongseonghan/qam-lab/internal/modem"
	"github.com/jeongseonghan/qam-lab/internal/publish"
)

// StreamRequest is a client message on /ws. Type "start" (or empty) begins
// a stream, replacing any running one; "stop" ends it.
type StreamRequest struct {
	Type string `json:"type"`
	ModulateRequest
	// IntervalMS overrides the configured frame interval; 0 sends frames
	// back to back.
	IntervalMS *int `json:"interval_ms"`
}

// FramePayload carries one symbol of a stream.
type FramePayload struct {
	Position  int                 `json:"position"`
	Total     int                 `json:"total"`
	StartTime float64             `json:"start_time"`
	Metrics   modem.SymbolMetrics `json:"metrics"`
	Samples   []float64           `json:"samples"`
	// PeakHz is the spectral peak of the stream so far.
	PeakHz float64 `json:"peak_hz"`
}

// EndPayload closes a stream.
type EndPayload struct {
	Symbols      int     `json:"symbols"`
	EVM          float64 `json:"evm_percent"`
	BitErrors    int     `json:"bit_errors"`
	BitsCompared int     `json:"bits_compared"`
}

// HandleWebSocket handles WebSocket upgrade requests.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade error")
		return
	}

	h.wsHub.AddClient(conn)
	go h.serveClient(conn)
}

// serveClient reads control messages until the connection drops. The
// running stream is cancelled on stop, on a new start and on disconnect.
func (h *Handlers) serveClient(conn *websocket.Conn) {
	cancel := context.CancelFunc(func() {})
	defer func() {
		cancel()
		h.wsHub.RemoveClient(conn)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithError(err).Debug("websocket read error")
			}
			return
		}

		var req StreamRequest
		if err := json.Unmarshal(data, &req); err != nil {
			h.sendError(conn, errors.Wrap(err, "parse request"))
			continue
		}

		cancel()
		cancel = func() {}
		switch req.Type {
		case "", "start":
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go h.stream(ctx, conn, req)
		case "stop":
		default:
			h.sendError(conn, errors.Errorf("unknown message type %q", req.Type))
		}
	}
}

func (h *Handlers) sendError(conn *websocket.Conn, err error) {
	h.wsHub.Send(conn, WSMessage{Type: "error", Payload: map[string]string{"message": err.Error()}})
}

// stream evaluates the request once and emits one frame per symbol at the
// frame interval, so frame k always shows prefix k of the same signal.
func (h *Handlers) stream(ctx context.Context, conn *websocket.Conn, req StreamRequest) {
	res, err := h.run(req.ModulateRequest)
	if err != nil {
		h.sendError(conn, err)
		return
	}

	atomic.AddInt64(&h.streams, 1)
	defer atomic.AddInt64(&h.streams, -1)

	interval := h.cfg.Server.FrameInterval
	if req.IntervalMS != nil {
		interval = time.Duration(*req.IntervalMS) * time.Millisecond
	}
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	sig := res.Signal
	sps := sig.SamplesPerSymbol
	c := res.Constellation
	log := h.log.WithField("order", c.Order())
	log.WithField("symbols", len(res.Metrics)).Info("stream started")

	for k, m := range res.Metrics {
		if k > 0 && tick != nil {
			select {
			case <-ctx.Done():
				log.WithField("position", k).Info("stream cancelled")
				return
			case <-tick:
			}
		} else if ctx.Err() != nil {
			log.WithField("position", k).Info("stream cancelled")
			return
		}

		end := (k + 1) * sps
		frame := FramePayload{
			Position:  k,
			Total:     len(res.Metrics),
			StartTime: sig.Time(k * sps),
			Metrics:   m,
			Samples:   sig.Samples[k*sps : end],
			PeakHz:    modem.PeakFrequency(modem.Spectrum(sig.Samples[:end], sig.SampleRate)).FrequencyHz,
		}
		if err := h.wsHub.Send(conn, WSMessage{Type: "frame", Payload: frame}); err != nil {
			log.WithError(err).Debug("frame write failed")
			return
		}

		if err := h.pub.PublishSymbol(c.Mod, c.Labeling, m); err != nil && !errors.Is(err, publish.ErrNotConnected) {
			log.WithError(err).Warn("publish failed")
		}
	}

	errs, total, err := bitErrors(res)
	if err != nil {
		h.sendError(conn, err)
		return
	}
	h.wsHub.Send(conn, WSMessage{Type: "end", Payload: EndPayload{
		Symbols:      len(res.Metrics),
		EVM:          res.EVM,
		BitErrors:    errs,
		BitsCompared: total,
	}})
	log.Info("stream finished")
}
