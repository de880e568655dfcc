package modem

import (
	"fmt"
	"math"
	"math/bits"
)

// AmplitudePhase returns the magnitude of (i, q) and its angle in degrees,
// normalized into [0, 360).
func AmplitudePhase(i, q float64) (amplitude, phaseDeg float64) {
	amplitude = math.Hypot(i, q)
	phaseDeg = math.Atan2(q, i) * 180 / math.Pi
	if phaseDeg < 0 {
		phaseDeg += 360
	}
	if phaseDeg >= 360 {
		phaseDeg = 0
	}
	return amplitude, phaseDeg
}

// EVM returns the error vector magnitude of actual against ideal in percent:
// rms(actual - ideal) / rms(ideal) × 100. An ideal with zero RMS yields 0.
func EVM(actual, ideal []complex128) (float64, error) {
	if len(actual) != len(ideal) {
		return 0, fmt.Errorf("evm: %d actual vs %d ideal: %w", len(actual), len(ideal), ErrLengthMismatch)
	}

	var errPow, refPow float64
	for i := range ideal {
		d := actual[i] - ideal[i]
		errPow += real(d)*real(d) + imag(d)*imag(d)
		refPow += real(ideal[i])*real(ideal[i]) + imag(ideal[i])*imag(ideal[i])
	}
	if refPow == 0 {
		return 0, nil
	}
	return math.Sqrt(errPow/refPow) * 100, nil
}

// WaveformEVM is EVM over real sample arrays.
func WaveformEVM(actual, ideal []float64) (float64, error) {
	if len(actual) != len(ideal) {
		return 0, fmt.Errorf("evm: %d actual vs %d ideal: %w", len(actual), len(ideal), ErrLengthMismatch)
	}

	var errPow, refPow float64
	for i := range ideal {
		d := actual[i] - ideal[i]
		errPow += d * d
		refPow += ideal[i] * ideal[i]
	}
	if refPow == 0 {
		return 0, nil
	}
	return math.Sqrt(errPow/refPow) * 100, nil
}

// GaussianQ is the tail probability of the standard normal distribution.
func GaussianQ(x float64) float64 {
	return 0.5 * math.Erfc(x/math.Sqrt2)
}

// TheoreticalBER returns the approximate bit error rate for the given
// modulation at a per-symbol SNR (Es/N0) expressed in dB.
func TheoreticalBER(snrDB float64, mod Modulation) (float64, error) {
	if math.IsNaN(snrDB) {
		return 0, &InvalidSNRError{SNR: snrDB}
	}
	return TheoreticalBERLinear(math.Pow(10, snrDB/10), mod)
}

// TheoreticalBERLinear is TheoreticalBER with the SNR given as a linear
// power ratio. Negative or NaN ratios fail with *InvalidSNRError.
//
// M-QAM uses (4/log2 M)(1 - 1/√M)·Q(√(3·SNR/(M-1))); BPSK uses Q(√(2·SNR)).
func TheoreticalBERLinear(snr float64, mod Modulation) (float64, error) {
	if snr < 0 || math.IsNaN(snr) {
		return 0, &InvalidSNRError{SNR: snr}
	}
	if err := mod.Validate(); err != nil {
		return 0, err
	}

	var ber float64
	if mod == BPSK {
		ber = GaussianQ(math.Sqrt(2 * snr))
	} else {
		m := float64(mod)
		k := float64(bits.TrailingZeros(uint(mod)))
		ber = (4 / k) * (1 - 1/math.Sqrt(m)) * GaussianQ(math.Sqrt(3*snr/(m-1)))
	}
	return math.Min(ber, 0.5), nil
}

// SNRFromNoise estimates SNR in dB from a signal amplitude and the noise
// standard deviation: 20·log10(amplitude/sigma). Zero sigma is +Inf.
func SNRFromNoise(amplitude, sigma float64) float64 {
	if sigma <= 0 {
		return math.Inf(1)
	}
	return 20 * math.Log10(amplitude/sigma)
}

// SymbolMetrics describes one symbol of a stream.
type SymbolMetrics struct {
	Position  int     `json:"position"`
	Symbol    int     `json:"symbol"`
	Bits      string  `json:"bits"`
	I         float64 `json:"i"`
	Q         float64 `json:"q"`
	Amplitude float64 `json:"amplitude"`
	PhaseDeg  float64 `json:"phase_degrees"`
}

// Measure builds the metrics record for a symbol observed at point p.
func Measure(c *Constellation, position, symbol int, p complex128) SymbolMetrics {
	amp, phase := AmplitudePhase(real(p), imag(p))
	return SymbolMetrics{
		Position:  position,
		Symbol:    symbol,
		Bits:      c.Bits(symbol),
		I:         real(p),
		Q:         imag(p),
		Amplitude: amp,
		PhaseDeg:  phase,
	}
}

// Snapshot returns per-symbol metrics for the ideal points of a stream.
func Snapshot(symbols []int, c *Constellation) ([]SymbolMetrics, error) {
	out := make([]SymbolMetrics, len(symbols))
	for pos, sym := range symbols {
		p, err := c.Point(sym)
		if err != nil {
			return nil, &SymbolRangeError{Position: pos, Symbol: sym, Order: c.Order()}
		}
		out[pos] = Measure(c, pos, sym, p.Complex())
	}
	return out, nil
}

// SnapshotReceived returns per-symbol metrics for the received points of a
// signal; Symbol is the index that was sent.
func SnapshotReceived(symbols []int, sig *Signal, c *Constellation) ([]SymbolMetrics, error) {
	if len(symbols) != len(sig.Received) {
		return nil, fmt.Errorf("snapshot: %d symbols vs %d received: %w", len(symbols), len(sig.Received), ErrLengthMismatch)
	}
	out := make([]SymbolMetrics, len(symbols))
	for pos, sym := range symbols {
		out[pos] = Measure(c, pos, sym, sig.Received[pos])
	}
	return out, nil
}

// CountBitErrors compares two symbol streams by their labels and returns the
// number of differing bits and the number of bits compared.
func CountBitErrors(sent, received []int, c *Constellation) (errs, total int, err error) {
	if len(sent) != len(received) {
		return 0, 0, fmt.Errorf("bit errors: %d sent vs %d received: %w", len(sent), len(received), ErrLengthMismatch)
	}
	for i := range sent {
		a, b := c.Label(sent[i]), c.Label(received[i])
		if a < 0 {
			return 0, 0, &SymbolRangeError{Position: i, Symbol: sent[i], Order: c.Order()}
		}
		if b < 0 {
			return 0, 0, &SymbolRangeError{Position: i, Symbol: received[i], Order: c.Order()}
		}
		errs += bits.OnesCount(uint(a ^ b))
	}
	return errs, len(sent) * c.BitsPerSymbol(), nil
}
