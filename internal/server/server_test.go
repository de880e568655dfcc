package server

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/jeongseonghan/qam-lab/internal/config"
)

func newTestServer(t *testing.T) (*Server, *Handlers) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	cfg := config.Default()
	cfg.Server.StaticDir = ""
	h := NewHandlers(cfg, nil, logger)
	return NewServer(cfg.Server.Addr, h, "", logger), h
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleModulate_Default(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/modulate", `{}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp ModulateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Modulation != "16-QAM" || resp.NumSymbols != 16 || resp.SamplesPerSymbol != 500 || resp.NumSamples != 8000 {
		t.Errorf("response = %+v", resp)
	}
	if resp.SNRdB != nil {
		t.Errorf("clean SNR = %v, want null", *resp.SNRdB)
	}
	if resp.BitErrors != 0 || resp.BitsCompared != 64 {
		t.Errorf("bit errors = %d/%d, want 0/64", resp.BitErrors, resp.BitsCompared)
	}
	if m := resp.Metrics[0]; m.I != -3 || m.Q != -3 || math.Abs(m.PhaseDeg-225) > 1e-9 {
		t.Errorf("symbol 0 metrics = %+v", resp.Metrics[0])
	}
	if len(resp.Samples) != 0 {
		t.Error("samples returned without include_samples")
	}
}

func TestHandleModulate_BitsAndNoise(t *testing.T) {
	s, _ := newTestServer(t)
	body := `{"order":4,"bits":"00 01 10 11","noise_sigma":0.05,"seed":3,"include_samples":true,"carrier_hz":1000,"sample_rate":10000,"symbol_rate":100}`
	rec := do(t, s, http.MethodPost, "/api/modulate", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp ModulateResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.NumSymbols != 4 || len(resp.Samples) != 400 || len(resp.I) != 400 {
		t.Errorf("response sizes: %d symbols, %d samples, %d I", resp.NumSymbols, len(resp.Samples), len(resp.I))
	}
	if resp.SNRdB == nil || resp.EVM == 0 {
		t.Errorf("noisy response missing SNR/EVM: %+v", resp)
	}
	if resp.BitErrors != 0 {
		t.Errorf("bit errors at sigma 0.05 = %d", resp.BitErrors)
	}
}

func TestHandleModulate_Errors(t *testing.T) {
	s, _ := newTestServer(t)
	tests := []struct {
		name   string
		method string
		body   string
		code   int
	}{
		{"wrong method", http.MethodGet, ``, http.StatusMethodNotAllowed},
		{"malformed", http.MethodPost, `{`, http.StatusBadRequest},
		{"bad order", http.MethodPost, `{"order":8}`, http.StatusBadRequest},
		{"symbol range", http.MethodPost, `{"order":4,"symbols":[0,4]}`, http.StatusBadRequest},
		{"partial bits", http.MethodPost, `{"order":16,"bits":"101"}`, http.StatusBadRequest},
		{"too many", http.MethodPost, `{"random":100000}`, http.StatusBadRequest},
		{"negative sigma", http.MethodPost, `{"noise_sigma":-1}`, http.StatusBadRequest},
		{"too many samples", http.MethodPost, `{"sample_rate":2e9,"symbol_rate":1,"random":4096}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, s, tt.method, "/api/modulate", tt.body); rec.Code != tt.code {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.code, rec.Body.String())
			}
		})
	}
}

func TestResolve_SampleLimit(t *testing.T) {
	_, h := newTestServer(t)
	h.cfg.Server.MaxSamples = 8000

	// 16 symbols × 500 samples sits exactly on the limit.
	if _, err := h.resolve(ModulateRequest{}); err != nil {
		t.Fatalf("resolve at limit: %v", err)
	}

	_, err := h.resolve(ModulateRequest{SampleRate: 2e9, SymbolRate: 1, Random: 4096})
	if err == nil || !strings.Contains(err.Error(), "exceeds limit 8000") {
		t.Errorf("err = %v, want sample limit error", err)
	}

	rec := do(t, NewServer(h.cfg.Server.Addr, h, "", h.log), http.MethodPost, "/api/spectrum", `{"sample_rate":100000}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("spectrum over limit: status = %d, want 400", rec.Code)
	}
}

func TestHandleModulate_Warnings(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/modulate", `{"carrier_hz":600,"symbol_rate":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp ModulateResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Warnings) != 2 {
		t.Errorf("warnings = %v, want rounding and aliasing", resp.Warnings)
	}
	if resp.SamplesPerSymbol != 333 {
		t.Errorf("samples per symbol = %d, want 333", resp.SamplesPerSymbol)
	}
}

func TestHandleConstellation(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/constellation?order=4&labeling=natural_binary", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Modulation string               `json:"modulation"`
		Order      int                  `json:"order"`
		Points     []ConstellationPoint `json:"points"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Modulation != "QPSK" || len(resp.Points) != 4 {
		t.Fatalf("response = %+v", resp)
	}
	if p := resp.Points[3]; p.Bits != "11" || p.I != 1 || p.Q != 1 {
		t.Errorf("point 3 = %+v", p)
	}

	if rec := do(t, s, http.MethodGet, "/api/constellation?order=12", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("order 12 status = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/constellation?labeling=hamming", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad labeling status = %d", rec.Code)
	}
}

func TestHandleBER(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/ber?order=16&snr_min=0&snr_max=20&step=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Points []BERPoint `json:"points"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Points) != 5 {
		t.Fatalf("got %d points, want 5", len(resp.Points))
	}
	for i := 1; i < len(resp.Points); i++ {
		if resp.Points[i].BER > resp.Points[i-1].BER {
			t.Errorf("BER rises at %v dB", resp.Points[i].SNRdB)
		}
	}
	if last := resp.Points[4]; last.SNRdB != 20 || last.BER >= 1e-3 {
		t.Errorf("BER at 20 dB = %+v", last)
	}

	for _, q := range []string{"step=0", "snr_min=10&snr_max=0", "order=8", "step=abc"} {
		if rec := do(t, s, http.MethodGet, "/api/ber?"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestHandleSpectrum(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/spectrum", `{"order":4,"symbols":[3,3,3,3],"carrier_hz":1000,"sample_rate":8000,"symbol_rate":16}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp SpectrumResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.PeakHz < 990 || resp.PeakHz > 1010 {
		t.Errorf("peak = %v Hz, want ~1000", resp.PeakHz)
	}
	for _, b := range resp.Bins {
		if b.FrequencyHz < -3000 || b.FrequencyHz > 3000 {
			t.Fatalf("bin %v outside ±3 fc", b.FrequencyHz)
		}
	}
}

func TestHandleStatus(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/status", "")
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "idle" || resp["mqtt_connected"] != false {
		t.Errorf("status = %v", resp)
	}
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg.Type, msg.Payload
}

func TestWebSocket_Stream(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dial(t, ts)
	defer conn.Close()

	if err := conn.WriteJSON(map[string]interface{}{"type": "start", "order": 4, "interval_ms": 0}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var streamed []float64
	for k := 0; k < 4; k++ {
		typ, payload := readMessage(t, conn)
		if typ != "frame" {
			t.Fatalf("message %d type = %q: %s", k, typ, payload)
		}
		var frame FramePayload
		json.Unmarshal(payload, &frame)
		if frame.Position != k || frame.Total != 4 || len(frame.Samples) != 500 {
			t.Errorf("frame %d = position %d total %d, %d samples", k, frame.Position, frame.Total, len(frame.Samples))
		}
		if frame.Metrics.Symbol != k {
			t.Errorf("frame %d carries symbol %d", k, frame.Metrics.Symbol)
		}
		streamed = append(streamed, frame.Samples...)
	}

	typ, payload := readMessage(t, conn)
	if typ != "end" {
		t.Fatalf("final message type = %q", typ)
	}
	var end EndPayload
	json.Unmarshal(payload, &end)
	if end.Symbols != 4 || end.BitsCompared != 8 || end.BitErrors != 0 {
		t.Errorf("end = %+v", end)
	}

	// Streamed frames concatenate to the full one-shot signal.
	rec := do(t, s, http.MethodPost, "/api/modulate", `{"order":4,"include_samples":true}`)
	var full ModulateResponse
	json.Unmarshal(rec.Body.Bytes(), &full)
	if len(full.Samples) != len(streamed) {
		t.Fatalf("full %d vs streamed %d samples", len(full.Samples), len(streamed))
	}
	for n := range streamed {
		if streamed[n] != full.Samples[n] {
			t.Fatalf("sample %d differs: %v vs %v", n, streamed[n], full.Samples[n])
		}
	}
}

func TestWebSocket_SampleLimit(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dial(t, ts)
	defer conn.Close()

	req := map[string]interface{}{"type": "start", "sample_rate": 2e9, "symbol_rate": 1, "random": 4096}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write: %v", err)
	}
	typ, payload := readMessage(t, conn)
	if typ != "error" || !strings.Contains(string(payload), "exceeds limit") {
		t.Errorf("got %q %s, want sample limit error", typ, payload)
	}
}

func TestWebSocket_BadRequest(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dial(t, ts)
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	if typ, _ := readMessage(t, conn); typ != "error" {
		t.Errorf("malformed message reply = %q, want error", typ)
	}

	conn.WriteJSON(map[string]interface{}{"type": "start", "order": 8})
	if typ, _ := readMessage(t, conn); typ != "error" {
		t.Errorf("invalid order reply = %q, want error", typ)
	}

	conn.WriteJSON(map[string]interface{}{"type": "rewind"})
	if typ, _ := readMessage(t, conn); typ != "error" {
		t.Errorf("unknown type reply = %q, want error", typ)
	}
}

func TestWSHub_Broadcast(t *testing.T) {
	s, h := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dial(t, ts)
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for h.Hub().Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	h.Hub().BroadcastLog("warn", "aliasing")
	typ, payload := readMessage(t, conn)
	if typ != "log" || !bytes.Contains(payload, []byte("aliasing")) {
		t.Errorf("broadcast = %q %s", typ, payload)
	}
}
