package server

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jeongseonghan/qam-lab/internal/config"
	"github.com/jeongseonghan/qam-lab/internal/modem"
	"github.com/jeongseonghan/qam-lab/internal/publish"
)

const maxBERPoints = 1000

// Handlers holds the HTTP API handlers.
type Handlers struct {
	cfg     *config.AppConfig
	wsHub   *WSHub
	pub     *publish.Publisher
	log     logrus.FieldLogger
	started time.Time
	streams int64
}

// NewHandlers creates new API handlers. pub may be nil.
func NewHandlers(cfg *config.AppConfig, pub *publish.Publisher, log logrus.FieldLogger) *Handlers {
	return &Handlers{
		cfg:     cfg,
		wsHub:   NewWSHub(log),
		pub:     pub,
		log:     log.WithField("component", "api"),
		started: time.Now(),
	}
}

// Hub returns the WebSocket hub.
func (h *Handlers) Hub() *WSHub {
	return h.wsHub
}

// ModulateRequest is the body of /api/modulate and /api/spectrum and the
// parameters of a /ws stream. Zero fields fall back to the configured
// defaults. The symbol stream comes from Symbols, else Bits, else Random
// uniform symbols, else one sweep of 0..M-1.
type ModulateRequest struct {
	Order          int      `json:"order"`
	Labeling       string   `json:"labeling"`
	CarrierHz      float64  `json:"carrier_hz"`
	SampleRate     float64  `json:"sample_rate"`
	SymbolRate     float64  `json:"symbol_rate"`
	Symbols        []int    `json:"symbols"`
	Bits           string   `json:"bits"`
	Random         int      `json:"random"`
	NoiseSigma     *float64 `json:"noise_sigma"`
	NoiseMode      string   `json:"noise_mode"`
	Seed           *int64   `json:"seed"`
	Prefix         *int     `json:"prefix"`
	IncludeSamples bool     `json:"include_samples"`
}

// ModulateResponse is the result of /api/modulate.
type ModulateResponse struct {
	Modulation       string                `json:"modulation"`
	Labeling         string                `json:"labeling"`
	SamplesPerSymbol int                   `json:"samples_per_symbol"`
	NumSymbols       int                   `json:"num_symbols"`
	NumSamples       int                   `json:"num_samples"`
	EVM              float64               `json:"evm_percent"`
	SNRdB            *float64              `json:"snr_db"`
	TheoreticalBER   float64               `json:"theoretical_ber"`
	BitErrors        int                   `json:"bit_errors"`
	BitsCompared     int                   `json:"bits_compared"`
	Warnings         []string              `json:"warnings"`
	Metrics          []modem.SymbolMetrics `json:"metrics"`
	Samples          []float64             `json:"samples,omitempty"`
	I                []float64             `json:"i,omitempty"`
	Q                []float64             `json:"q,omitempty"`
}

// resolve merges a request over the configured defaults and builds the
// symbol stream.
func (h *Handlers) resolve(req ModulateRequest) (modem.Request, error) {
	mc := h.cfg.Defaults
	if req.Order != 0 {
		mc.Order = req.Order
	}
	if req.Labeling != "" {
		mc.Labeling = req.Labeling
	}
	if req.CarrierHz != 0 {
		mc.CarrierHz = req.CarrierHz
	}
	if req.SampleRate != 0 {
		mc.SampleRate = req.SampleRate
	}
	if req.SymbolRate != 0 {
		mc.SymbolRate = req.SymbolRate
	}
	if req.NoiseSigma != nil {
		mc.NoiseSigma = *req.NoiseSigma
	}
	if req.NoiseMode != "" {
		mc.NoiseMode = req.NoiseMode
	}
	if req.Seed != nil {
		mc.Seed = req.Seed
	}

	r, err := mc.Request(nil)
	if err != nil {
		return r, err
	}
	c, err := modem.NewConstellation(r.Order, r.Labeling)
	if err != nil {
		return r, err
	}

	var symbols []int
	switch {
	case len(req.Symbols) > 0:
		symbols = append([]int(nil), req.Symbols...)
	case req.Bits != "":
		bits, err := modem.ParseBitString(req.Bits)
		if err != nil {
			return r, err
		}
		if symbols, err = modem.SymbolsFromBits(bits, c); err != nil {
			return r, err
		}
	case req.Random > 0:
		if req.Random > h.cfg.Server.MaxSymbols {
			return r, errors.Errorf("%d symbols exceeds limit %d", req.Random, h.cfg.Server.MaxSymbols)
		}
		var src modem.IntSource
		if r.Seed != nil {
			src = modem.NewSource(*r.Seed)
		}
		if symbols, err = modem.RandomSymbols(req.Random, r.Order, src); err != nil {
			return r, err
		}
	default:
		symbols, _ = modem.SequentialSymbols(c.Order(), r.Order)
	}

	if len(symbols) > h.cfg.Server.MaxSymbols {
		return r, errors.Errorf("%d symbols exceeds limit %d", len(symbols), h.cfg.Server.MaxSymbols)
	}
	m, err := modem.NewModulator(c, r.CarrierHz, r.SampleRate, r.SymbolRate)
	if err != nil {
		return r, err
	}
	if n := int64(len(symbols)) * int64(m.SamplesPerSymbol()); n > int64(h.cfg.Server.MaxSamples) {
		return r, errors.Errorf("%d symbols × %d samples/symbol = %d samples exceeds limit %d",
			len(symbols), m.SamplesPerSymbol(), n, h.cfg.Server.MaxSamples)
	}
	r.Symbols = symbols
	r.Prefix = req.Prefix
	return r, nil
}

// run resolves and evaluates a request.
func (h *Handlers) run(req ModulateRequest) (*modem.Result, error) {
	r, err := h.resolve(req)
	if err != nil {
		return nil, err
	}
	res, err := modem.Run(r)
	if err != nil {
		return nil, err
	}
	for _, w := range res.Warnings {
		h.log.WithError(w).Warn("modulator warning")
		h.wsHub.BroadcastLog("warn", w.Error())
	}
	return res, nil
}

// bitErrors demaps the received points and counts label bit errors.
func bitErrors(res *modem.Result) (errs, total int, err error) {
	sent := make([]int, len(res.Metrics))
	for i, m := range res.Metrics {
		sent[i] = m.Symbol
	}
	received := res.Constellation.DemapSymbols(res.Signal.Received)
	return modem.CountBitErrors(sent, received, res.Constellation)
}

func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

func warningStrings(ws []error) []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Error())
	}
	return out
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (ModulateRequest, bool) {
	var req ModulateRequest
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Parse request: %v", err), http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// HandleModulate modulates a symbol stream and returns its metrics.
func (h *Handlers) HandleModulate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	res, err := h.run(req)
	if err != nil {
		http.Error(w, fmt.Sprintf("Modulate: %v", err), http.StatusBadRequest)
		return
	}
	errs, total, err := bitErrors(res)
	if err != nil {
		http.Error(w, fmt.Sprintf("Measure: %v", err), http.StatusInternalServerError)
		return
	}

	resp := ModulateResponse{
		Modulation:       res.Constellation.Mod.String(),
		Labeling:         res.Constellation.Labeling.String(),
		SamplesPerSymbol: res.Signal.SamplesPerSymbol,
		NumSymbols:       res.Signal.NumSymbols(),
		NumSamples:       len(res.Signal.Samples),
		EVM:              res.EVM,
		SNRdB:            finite(res.SNRdB),
		TheoreticalBER:   res.TheoreticalBER,
		BitErrors:        errs,
		BitsCompared:     total,
		Warnings:         warningStrings(res.Warnings),
		Metrics:          res.Metrics,
	}
	if req.IncludeSamples {
		resp.Samples = res.Signal.Samples
		resp.I = res.Signal.I
		resp.Q = res.Signal.Q
	}
	writeJSON(w, resp)
}

// SpectrumResponse is the result of /api/spectrum.
type SpectrumResponse struct {
	SampleRate float64     `json:"sample_rate"`
	CarrierHz  float64     `json:"carrier_hz"`
	PeakHz     float64     `json:"peak_hz"`
	Bins       []modem.Bin `json:"bins"`
}

// HandleSpectrum returns the magnitude spectrum of a modulated stream,
// limited to ±3× the carrier.
func (h *Handlers) HandleSpectrum(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	res, err := h.run(req)
	if err != nil {
		http.Error(w, fmt.Sprintf("Modulate: %v", err), http.StatusBadRequest)
		return
	}

	sig := res.Signal
	bins := modem.Spectrum(sig.Samples, sig.SampleRate)
	limit := 3 * math.Abs(sig.CarrierHz)
	if limit > 0 {
		kept := bins[:0]
		for _, b := range bins {
			if math.Abs(b.FrequencyHz) <= limit {
				kept = append(kept, b)
			}
		}
		bins = kept
	}

	writeJSON(w, SpectrumResponse{
		SampleRate: sig.SampleRate,
		CarrierHz:  sig.CarrierHz,
		PeakHz:     modem.PeakFrequency(bins).FrequencyHz,
		Bins:       bins,
	})
}

// ConstellationPoint is one entry of /api/constellation.
type ConstellationPoint struct {
	Symbol int     `json:"symbol"`
	Label  int     `json:"label"`
	Bits   string  `json:"bits"`
	I      float64 `json:"i"`
	Q      float64 `json:"q"`
}

// HandleConstellation returns the points of ?order=&labeling=.
func (h *Handlers) HandleConstellation(w http.ResponseWriter, r *http.Request) {
	order := h.cfg.Defaults.Order
	labeling := h.cfg.Defaults.Labeling
	q := r.URL.Query()
	if v := q.Get("order"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, fmt.Sprintf("Parse order: %v", err), http.StatusBadRequest)
			return
		}
		order = n
	}
	if v := q.Get("labeling"); v != "" {
		labeling = v
	}

	l, err := modem.ParseLabeling(labeling)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, err := modem.NewConstellation(modem.Modulation(order), l)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	points := make([]ConstellationPoint, 0, c.Order())
	for _, p := range c.Points() {
		points = append(points, ConstellationPoint{Symbol: p.Symbol, Label: p.Label, Bits: c.Bits(p.Symbol), I: p.I, Q: p.Q})
	}
	writeJSON(w, map[string]interface{}{
		"modulation":      c.Mod.String(),
		"order":           c.Order(),
		"labeling":        c.Labeling.String(),
		"bits_per_symbol": c.BitsPerSymbol(),
		"average_power":   c.AveragePower(),
		"points":          points,
	})
}

// BERPoint is one entry of a /api/ber curve.
type BERPoint struct {
	SNRdB float64 `json:"snr_db"`
	BER   float64 `json:"ber"`
}

// HandleBER returns the theoretical BER curve for ?order= over
// ?snr_min=&snr_max=&step= (dB).
func (h *Handlers) HandleBER(w http.ResponseWriter, r *http.Request) {
	params := map[string]float64{"order": float64(h.cfg.Defaults.Order), "snr_min": -5, "snr_max": 25, "step": 1}
	q := r.URL.Query()
	for name := range params {
		if v := q.Get(name); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				http.Error(w, fmt.Sprintf("Parse %s: %v", name, err), http.StatusBadRequest)
				return
			}
			params[name] = f
		}
	}

	mod := modem.Modulation(params["order"])
	if err := mod.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	lo, hi, step := params["snr_min"], params["snr_max"], params["step"]
	if step <= 0 || hi < lo || (hi-lo)/step >= maxBERPoints {
		http.Error(w, "Invalid SNR range", http.StatusBadRequest)
		return
	}

	var curve []BERPoint
	for i := 0; lo+float64(i)*step <= hi+1e-9; i++ {
		snr := lo + float64(i)*step
		ber, err := modem.TheoreticalBER(snr, mod)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		curve = append(curve, BERPoint{SNRdB: snr, BER: ber})
	}
	writeJSON(w, map[string]interface{}{
		"modulation": mod.String(),
		"points":     curve,
	})
}

// HandleStatus reports server state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	active := atomic.LoadInt64(&h.streams)
	status := "idle"
	if active > 0 {
		status = "streaming"
	}

	writeJSON(w, map[string]interface{}{
		"status":         status,
		"active_streams": active,
		"clients":        h.wsHub.Count(),
		"mqtt_connected": h.pub.IsConnected(),
		"uptime_seconds": time.Since(h.started).Seconds(),
		"defaults":       h.cfg.Defaults,
	})
}
