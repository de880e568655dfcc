package modem

import (
	"fmt"
	"math"
)

// Request is the programmatic boundary for a presentation layer: everything
// needed to build, modulate and measure one symbol stream.
type Request struct {
	Order      Modulation
	Labeling   Labeling
	CarrierHz  float64
	SampleRate float64
	SymbolRate float64
	Symbols    []int
	Noise      NoiseSpec
	// Seed makes the noise reproducible; nil draws from a time-seeded source.
	Seed *int64
	// Prefix limits evaluation to the first *Prefix symbols, clamped to
	// [0, len(Symbols)]; nil evaluates the whole stream.
	Prefix *int
}

// Result is the output of Run.
type Result struct {
	Constellation *Constellation
	Signal        *Signal
	Metrics       []SymbolMetrics
	// EVM of the received points against the ideal points, in percent.
	EVM float64
	// SNRdB is estimated from the peak constellation amplitude and the noise
	// sigma; +Inf without noise.
	SNRdB          float64
	TheoreticalBER float64
	Warnings       []error
}

// Run builds the constellation, modulates the requested prefix of the
// stream, applies noise and computes metrics.
func Run(req Request) (*Result, error) {
	c, err := NewConstellation(req.Order, req.Labeling)
	if err != nil {
		return nil, err
	}
	m, err := NewModulator(c, req.CarrierHz, req.SampleRate, req.SymbolRate)
	if err != nil {
		return nil, err
	}

	symbols := req.Symbols
	if req.Prefix != nil {
		k := *req.Prefix
		if k < 0 {
			k = 0
		}
		if k < len(symbols) {
			symbols = symbols[:k]
		}
	}

	var src Source
	if req.Seed != nil {
		src = NewSource(*req.Seed)
	}
	sig, err := m.ModulateNoisy(symbols, req.Noise, src)
	if err != nil {
		return nil, err
	}

	metrics, err := SnapshotReceived(symbols, sig, c)
	if err != nil {
		return nil, err
	}
	evm, err := EVM(sig.Received, sig.Ideal)
	if err != nil {
		return nil, fmt.Errorf("measure: %w", err)
	}

	res := &Result{
		Constellation: c,
		Signal:        sig,
		Metrics:       metrics,
		EVM:           evm,
		SNRdB:         SNRFromNoise(c.PeakAmplitude(), req.Noise.Sigma),
		Warnings:      sig.Warnings,
	}
	if math.IsInf(res.SNRdB, 1) {
		res.TheoreticalBER = 0
	} else if res.TheoreticalBER, err = TheoreticalBER(res.SNRdB, req.Order); err != nil {
		return nil, err
	}
	return res, nil
}
