package modem

import (
	"math"
)

// rateTolerance absorbs floating point error when dividing rates that are
// nominally integer multiples (e.g. 44100 / 0.1).
const rateTolerance = 1e-9

// Signal is a modulated waveform plus the symbol-level values it carries.
type Signal struct {
	// Samples is the real passband waveform, len = symbols × SamplesPerSymbol.
	Samples []float64
	// I and Q are the per-sample baseband rails after any rail noise.
	I []float64
	Q []float64
	// Ideal holds the noiseless constellation point of each symbol.
	Ideal []complex128
	// Received holds each symbol's observed point: the first sample of its
	// span on the (possibly noisy) rails.
	Received []complex128

	SamplesPerSymbol int
	SampleRate       float64
	CarrierHz        float64
	Warnings         []error
}

// NumSymbols returns the number of symbols carried.
func (s *Signal) NumSymbols() int {
	return len(s.Ideal)
}

// Time returns the time in seconds of sample n.
func (s *Signal) Time(n int) float64 {
	return float64(n) / s.SampleRate
}

// Modulator synthesizes a zero-order-hold quadrature carrier signal:
//
//	s[n] = I(n)·cos(2π·fc·n/fs) + Q(n)·sin(2π·fc·n/fs)
//
// The Q term is added, not subtracted. A Modulator holds no mutable state
// and may be shared between goroutines.
type Modulator struct {
	constellation    *Constellation
	carrierHz        float64
	sampleRate       float64
	symbolRate       float64
	samplesPerSymbol int
	warnings         []error
}

// NewModulator validates the rate parameters and creates a modulator.
// samplesPerSymbol is floor(sampleRate / symbolRate); a non-integer ratio is
// floored and reported through Warnings, a ratio below one is an error.
func NewModulator(c *Constellation, carrierHz, sampleRate, symbolRate float64) (*Modulator, error) {
	if sampleRate <= 0 || symbolRate <= 0 || math.IsNaN(sampleRate) || math.IsNaN(symbolRate) ||
		math.IsInf(sampleRate, 0) || math.IsInf(symbolRate, 0) {
		return nil, &InvalidRateRatioError{SampleRate: sampleRate, SymbolRate: symbolRate}
	}

	ratio := sampleRate / symbolRate
	sps := math.Floor(ratio + ratio*rateTolerance)
	if sps < 1 || sps > math.MaxInt32 {
		return nil, &InvalidRateRatioError{SampleRate: sampleRate, SymbolRate: symbolRate}
	}

	m := &Modulator{
		constellation:    c,
		carrierHz:        carrierHz,
		sampleRate:       sampleRate,
		symbolRate:       symbolRate,
		samplesPerSymbol: int(sps),
	}

	if math.Abs(ratio-sps) > ratio*rateTolerance {
		m.warnings = append(m.warnings, &RateRoundingWarning{Ratio: ratio, SamplesPerSymbol: int(sps)})
	}
	if sampleRate <= 2*math.Abs(carrierHz) {
		m.warnings = append(m.warnings, &AliasingWarning{CarrierHz: carrierHz, SampleRate: sampleRate})
	}
	return m, nil
}

// Modulate is the one-shot form of NewModulator followed by Modulate.
func Modulate(symbols []int, c *Constellation, carrierHz, sampleRate, symbolRate float64) (*Signal, error) {
	m, err := NewModulator(c, carrierHz, sampleRate, symbolRate)
	if err != nil {
		return nil, err
	}
	return m.Modulate(symbols)
}

// Constellation returns the constellation in use.
func (m *Modulator) Constellation() *Constellation {
	return m.constellation
}

// SamplesPerSymbol returns the resolved hold length.
func (m *Modulator) SamplesPerSymbol() int {
	return m.samplesPerSymbol
}

// SampleRate returns the sample rate in Hz.
func (m *Modulator) SampleRate() float64 {
	return m.sampleRate
}

// CarrierHz returns the carrier frequency in Hz.
func (m *Modulator) CarrierHz() float64 {
	return m.carrierHz
}

// Warnings returns non-fatal configuration findings.
func (m *Modulator) Warnings() []error {
	out := make([]error, len(m.warnings))
	copy(out, m.warnings)
	return out
}

// Modulate synthesizes the full signal for a symbol stream.
func (m *Modulator) Modulate(symbols []int) (*Signal, error) {
	return m.ModulatePrefix(symbols, len(symbols))
}

// ModulatePrefix synthesizes only the first k symbols. The result equals the
// first k·SamplesPerSymbol samples of Modulate(symbols).
func (m *Modulator) ModulatePrefix(symbols []int, k int) (*Signal, error) {
	if k < 0 {
		k = 0
	}
	if k > len(symbols) {
		k = len(symbols)
	}

	sig, err := m.baseband(symbols[:k])
	if err != nil {
		return nil, err
	}
	m.mix(sig)
	return sig, nil
}

// SymbolSamples returns the passband samples of a single symbol placed at
// the given stream position.
func (m *Modulator) SymbolSamples(position, symbol int) ([]float64, error) {
	p, err := m.constellation.Point(symbol)
	if err != nil {
		return nil, &SymbolRangeError{Position: position, Symbol: symbol, Order: m.constellation.Order()}
	}

	out := make([]float64, m.samplesPerSymbol)
	start := position * m.samplesPerSymbol
	for j := range out {
		cos, sin := m.carrier(start + j)
		out[j] = p.I*cos + p.Q*sin
	}
	return out, nil
}

// baseband builds the held I/Q rails and the ideal points.
func (m *Modulator) baseband(symbols []int) (*Signal, error) {
	n := len(symbols) * m.samplesPerSymbol
	sig := &Signal{
		Samples:          make([]float64, n),
		I:                make([]float64, n),
		Q:                make([]float64, n),
		Ideal:            make([]complex128, len(symbols)),
		SamplesPerSymbol: m.samplesPerSymbol,
		SampleRate:       m.sampleRate,
		CarrierHz:        m.carrierHz,
		Warnings:         m.Warnings(),
	}

	order := m.constellation.Order()
	for pos, sym := range symbols {
		if sym < 0 || sym >= order {
			return nil, &SymbolRangeError{Position: pos, Symbol: sym, Order: order}
		}
		p := m.constellation.points[sym]
		sig.Ideal[pos] = p.Complex()

		start := pos * m.samplesPerSymbol
		for j := start; j < start+m.samplesPerSymbol; j++ {
			sig.I[j] = p.I
			sig.Q[j] = p.Q
		}
	}
	sig.Received = make([]complex128, len(sig.Ideal))
	copy(sig.Received, sig.Ideal)
	return sig, nil
}

// mix multiplies the rails onto the quadrature carriers.
func (m *Modulator) mix(sig *Signal) {
	for n := range sig.Samples {
		cos, sin := m.carrier(n)
		sig.Samples[n] = sig.I[n]*cos + sig.Q[n]*sin
	}
}

func (m *Modulator) carrier(n int) (cos, sin float64) {
	phase := 2 * math.Pi * m.carrierHz * float64(n) / m.sampleRate
	sin, cos = math.Sincos(phase)
	return cos, sin
}
