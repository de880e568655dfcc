package modem

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// Source supplies standard normal draws. *rand.Rand satisfies it.
type Source interface {
	NormFloat64() float64
}

// NewSource returns a seeded generator for reproducible noise and symbol
// streams.
func NewSource(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// orTimeSeeded substitutes a time-seeded generator for a nil source.
func orTimeSeeded(src Source) Source {
	if src == nil {
		return NewSource(time.Now().UnixNano())
	}
	return src
}

func checkSigma(sigma float64) error {
	if sigma < 0 || math.IsNaN(sigma) || math.IsInf(sigma, 0) {
		return &InvalidSigmaError{Sigma: sigma}
	}
	return nil
}

// AddNoise adds zero-mean Gaussian noise with standard deviation sigma to
// every sample. sigma == 0 returns x itself; otherwise a new slice is
// returned and x is left untouched.
func AddNoise(x []float64, sigma float64, src Source) ([]float64, error) {
	if err := checkSigma(sigma); err != nil {
		return nil, err
	}
	if sigma == 0 {
		return x, nil
	}

	src = orTimeSeeded(src)
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v + sigma*src.NormFloat64()
	}
	return out, nil
}

// AddComplexNoise adds independent Gaussian noise to the I and Q parts.
func AddComplexNoise(x []complex128, sigma float64, src Source) ([]complex128, error) {
	if err := checkSigma(sigma); err != nil {
		return nil, err
	}
	if sigma == 0 {
		return x, nil
	}

	src = orTimeSeeded(src)
	out := make([]complex128, len(x))
	for i, v := range x {
		ni := sigma * src.NormFloat64()
		nq := sigma * src.NormFloat64()
		out[i] = complex(real(v)+ni, imag(v)+nq)
	}
	return out, nil
}

// NoiseMode selects where noise enters the chain.
type NoiseMode int

const (
	// NoiseRails adds noise to the I and Q rails before mixing.
	NoiseRails NoiseMode = iota
	// NoiseWaveform adds noise to the passband samples.
	NoiseWaveform
)

// String returns the mode name.
func (m NoiseMode) String() string {
	switch m {
	case NoiseRails:
		return "rails"
	case NoiseWaveform:
		return "waveform"
	default:
		return fmt.Sprintf("NoiseMode(%d)", int(m))
	}
}

// ParseNoiseMode parses "rails" or "waveform". The empty string means rails.
func ParseNoiseMode(s string) (NoiseMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rails", "iq":
		return NoiseRails, nil
	case "waveform", "signal":
		return NoiseWaveform, nil
	default:
		return 0, fmt.Errorf("unknown noise mode %q", s)
	}
}

// NoiseSpec describes an additive Gaussian impairment.
type NoiseSpec struct {
	Sigma float64
	Mode  NoiseMode
}

// ModulateNoisy synthesizes the signal with the described noise applied.
// Noise is drawn afresh on every call; pass a seeded src for reproducible
// output.
func (m *Modulator) ModulateNoisy(symbols []int, spec NoiseSpec, src Source) (*Signal, error) {
	if err := checkSigma(spec.Sigma); err != nil {
		return nil, err
	}

	sig, err := m.baseband(symbols)
	if err != nil {
		return nil, err
	}
	if spec.Sigma == 0 {
		m.mix(sig)
		return sig, nil
	}

	src = orTimeSeeded(src)
	switch spec.Mode {
	case NoiseRails:
		if sig.I, err = AddNoise(sig.I, spec.Sigma, src); err != nil {
			return nil, err
		}
		if sig.Q, err = AddNoise(sig.Q, spec.Sigma, src); err != nil {
			return nil, err
		}
		for pos := range sig.Received {
			n := pos * sig.SamplesPerSymbol
			sig.Received[pos] = complex(sig.I[n], sig.Q[n])
		}
		m.mix(sig)
	case NoiseWaveform:
		m.mix(sig)
		if sig.Samples, err = AddNoise(sig.Samples, spec.Sigma, src); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown noise mode %v", spec.Mode)
	}
	return sig, nil
}
