package modem

import (
	"errors"
	"fmt"
)

// ErrLengthMismatch is returned when paired sequences differ in length.
var ErrLengthMismatch = errors.New("length mismatch")

// InvalidOrderError reports an unsupported modulation order.
type InvalidOrderError struct {
	Order int
}

func (e *InvalidOrderError) Error() string {
	return fmt.Sprintf("invalid modulation order %d: want 2 or a power of 4", e.Order)
}

// UnsupportedLabelingError reports an unknown bit labeling mode.
type UnsupportedLabelingError struct {
	Mode string
}

func (e *UnsupportedLabelingError) Error() string {
	return fmt.Sprintf("unsupported labeling %q", e.Mode)
}

// InvalidRateRatioError reports a sample/symbol rate pair that does not
// resolve to a positive integer number of samples per symbol.
type InvalidRateRatioError struct {
	SampleRate float64
	SymbolRate float64
}

func (e *InvalidRateRatioError) Error() string {
	return fmt.Sprintf("invalid rate ratio: sample rate %g / symbol rate %g", e.SampleRate, e.SymbolRate)
}

// InvalidSNRError reports a malformed SNR passed to a BER calculation.
type InvalidSNRError struct {
	SNR float64
}

func (e *InvalidSNRError) Error() string {
	return fmt.Sprintf("invalid SNR %g", e.SNR)
}

// InvalidSigmaError reports a negative noise standard deviation.
type InvalidSigmaError struct {
	Sigma float64
}

func (e *InvalidSigmaError) Error() string {
	return fmt.Sprintf("invalid noise sigma %g: must be >= 0", e.Sigma)
}

// SymbolRangeError reports a symbol index outside [0, Order).
type SymbolRangeError struct {
	Position int
	Symbol   int
	Order    int
}

func (e *SymbolRangeError) Error() string {
	return fmt.Sprintf("symbol %d at position %d out of range [0, %d)", e.Symbol, e.Position, e.Order)
}

// AliasingWarning is a non-fatal finding: the sample rate does not exceed
// twice the carrier frequency.
type AliasingWarning struct {
	CarrierHz  float64
	SampleRate float64
}

func (w *AliasingWarning) Error() string {
	return fmt.Sprintf("aliasing: sample rate %g Hz <= 2 x carrier %g Hz", w.SampleRate, w.CarrierHz)
}

// RateRoundingWarning is a non-fatal finding: sample rate / symbol rate was
// not an integer and was floored.
type RateRoundingWarning struct {
	Ratio            float64
	SamplesPerSymbol int
}

func (w *RateRoundingWarning) Error() string {
	return fmt.Sprintf("rate ratio %g floored to %d samples per symbol", w.Ratio, w.SamplesPerSymbol)
}
