package modem

import (
	"errors"
	"math"
	"testing"
)

func TestAddNoise_ZeroSigmaIsIdentity(t *testing.T) {
	x := []float64{0.1, -0.5, 0.9, 0.0}
	y, err := AddNoise(x, 0, nil)
	if err != nil {
		t.Fatalf("AddNoise error: %v", err)
	}
	if &y[0] != &x[0] {
		t.Error("sigma 0 should return the input slice itself")
	}
	for i := range x {
		if x[i] != y[i] {
			t.Errorf("sample %d changed: %v -> %v", i, x[i], y[i])
		}
	}

	cx := []complex128{1, complex(0, -1)}
	cy, _ := AddComplexNoise(cx, 0, nil)
	if &cy[0] != &cx[0] {
		t.Error("sigma 0 should return the complex input itself")
	}
}

func TestAddNoise_NegativeSigma(t *testing.T) {
	var se *InvalidSigmaError
	if _, err := AddNoise([]float64{1}, -0.1, nil); !errors.As(err, &se) {
		t.Errorf("expected InvalidSigmaError, got %v", err)
	}
	if _, err := AddComplexNoise([]complex128{1}, math.NaN(), nil); !errors.As(err, &se) {
		t.Errorf("expected InvalidSigmaError for NaN, got %v", err)
	}
}

func TestAddNoise_SeededReproducible(t *testing.T) {
	x := make([]float64, 256)
	a, _ := AddNoise(x, 0.5, NewSource(42))
	b, _ := AddNoise(x, 0.5, NewSource(42))
	c, _ := AddNoise(x, 0.5, NewSource(43))

	same := true
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample %d differs with same seed", i)
		}
		if a[i] != c[i] {
			same = false
		}
	}
	if same {
		t.Error("different seeds produced identical noise")
	}
	for i := range x {
		if x[i] != 0 {
			t.Fatal("input modified")
		}
	}
}

func TestAddNoise_Statistics(t *testing.T) {
	n := 20000
	sigma := 0.25
	y, _ := AddNoise(make([]float64, n), sigma, NewSource(1))

	var sum, sumSq float64
	for _, v := range y {
		sum += v
		sumSq += v * v
	}
	mean := sum / float64(n)
	std := math.Sqrt(sumSq/float64(n) - mean*mean)

	if math.Abs(mean) > 0.01 {
		t.Errorf("noise mean = %v, want ~0", mean)
	}
	if math.Abs(std-sigma) > 0.01 {
		t.Errorf("noise std = %v, want ~%v", std, sigma)
	}
}

func TestModulateNoisy_ZeroSigmaMatchesClean(t *testing.T) {
	c := mustConstellation(t, QAM16, LabelGray)
	m, _ := NewModulator(c, 20, 1000, 2)

	clean, _ := m.Modulate(sweep16())
	for _, mode := range []NoiseMode{NoiseRails, NoiseWaveform} {
		noisy, err := m.ModulateNoisy(sweep16(), NoiseSpec{Sigma: 0, Mode: mode}, nil)
		if err != nil {
			t.Fatalf("ModulateNoisy error: %v", err)
		}
		for n := range clean.Samples {
			if clean.Samples[n] != noisy.Samples[n] {
				t.Fatalf("%v: sample %d differs without noise", mode, n)
			}
		}
	}
}

func TestModulateNoisy_Rails(t *testing.T) {
	c := mustConstellation(t, QAM16, LabelGray)
	m, _ := NewModulator(c, 20, 1000, 2)
	spec := NoiseSpec{Sigma: 0.05, Mode: NoiseRails}

	a, err := m.ModulateNoisy(sweep16(), spec, NewSource(9))
	if err != nil {
		t.Fatalf("ModulateNoisy error: %v", err)
	}
	b, _ := m.ModulateNoisy(sweep16(), spec, NewSource(9))
	for n := range a.Samples {
		if a.Samples[n] != b.Samples[n] {
			t.Fatalf("seeded rail noise not reproducible at %d", n)
		}
	}

	// Received points move off the lattice but still demap correctly at low noise.
	evm, _ := EVM(a.Received, a.Ideal)
	if evm == 0 {
		t.Error("rail noise should produce non-zero EVM")
	}
	got := c.DemapSymbols(a.Received)
	for i, sym := range got {
		if sym != i {
			t.Errorf("symbol %d demapped as %d at sigma 0.05", i, sym)
		}
	}

	// The passband is still the mix of the noisy rails.
	for n := range a.Samples {
		tn := float64(n) / 1000
		want := a.I[n]*math.Cos(2*math.Pi*20*tn) + a.Q[n]*math.Sin(2*math.Pi*20*tn)
		if math.Abs(a.Samples[n]-want) > 1e-9 {
			t.Fatalf("sample %d = %v, want %v", n, a.Samples[n], want)
		}
	}
}

func TestModulateNoisy_Waveform(t *testing.T) {
	c := mustConstellation(t, QPSK, LabelGray)
	m, _ := NewModulator(c, 1000, 10000, 100)
	clean, _ := m.Modulate([]int{0, 1, 2, 3})

	noisy, err := m.ModulateNoisy([]int{0, 1, 2, 3}, NoiseSpec{Sigma: 0.1, Mode: NoiseWaveform}, NewSource(3))
	if err != nil {
		t.Fatalf("ModulateNoisy error: %v", err)
	}
	evm, _ := EVM(noisy.Received, noisy.Ideal)
	if evm != 0 {
		t.Errorf("waveform noise should leave received points ideal, EVM = %v", evm)
	}
	wevm, _ := WaveformEVM(noisy.Samples, clean.Samples)
	if wevm == 0 {
		t.Error("waveform noise should change the samples")
	}
}

func TestParseNoiseMode(t *testing.T) {
	tests := map[string]NoiseMode{"": NoiseRails, "rails": NoiseRails, "Waveform": NoiseWaveform}
	for in, want := range tests {
		got, err := ParseNoiseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseNoiseMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseNoiseMode("pink"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
