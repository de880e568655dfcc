package modem

import (
	"errors"
	"math"
	"testing"
)

func sweep16() []int {
	s := make([]int, 16)
	for i := range s {
		s[i] = i
	}
	return s
}

func TestModulate_EndToEnd16QAM(t *testing.T) {
	c := mustConstellation(t, QAM16, LabelGray)
	sig, err := Modulate(sweep16(), c, 20, 1000, 2)
	if err != nil {
		t.Fatalf("Modulate error: %v", err)
	}

	if sig.SamplesPerSymbol != 500 {
		t.Errorf("samples per symbol = %d, want 500", sig.SamplesPerSymbol)
	}
	if len(sig.Samples) != 16*500 {
		t.Errorf("Expected %d samples, got %d", 16*500, len(sig.Samples))
	}
	if len(sig.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", sig.Warnings)
	}

	metrics, err := Snapshot(sweep16(), c)
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}
	m0 := metrics[0]
	if m0.I != -3 || m0.Q != -3 {
		t.Errorf("symbol 0 at (%v,%v), want (-3,-3)", m0.I, m0.Q)
	}
	if math.Abs(m0.Amplitude-math.Sqrt(18)) > 1e-12 {
		t.Errorf("symbol 0 amplitude = %v, want sqrt(18)", m0.Amplitude)
	}
	if math.Abs(m0.PhaseDeg-225) > 1e-9 {
		t.Errorf("symbol 0 phase = %v, want 225", m0.PhaseDeg)
	}
}

func TestModulate_Formula(t *testing.T) {
	c := mustConstellation(t, QAM16, LabelGray)
	m, err := NewModulator(c, 20, 1000, 2)
	if err != nil {
		t.Fatalf("NewModulator error: %v", err)
	}
	symbols := []int{5, 10, 3}
	sig, err := m.Modulate(symbols)
	if err != nil {
		t.Fatalf("Modulate error: %v", err)
	}

	for n, s := range sig.Samples {
		p := c.points[symbols[n/500]]
		tn := float64(n) / 1000
		want := p.I*math.Cos(2*math.Pi*20*tn) + p.Q*math.Sin(2*math.Pi*20*tn)
		if math.Abs(s-want) > 1e-9 {
			t.Fatalf("sample %d = %v, want %v", n, s, want)
		}
	}

	// Zero-order hold on the rails.
	for n := range sig.I {
		p := c.points[symbols[n/500]]
		if sig.I[n] != p.I || sig.Q[n] != p.Q {
			t.Fatalf("rail sample %d = (%v,%v), want (%v,%v)", n, sig.I[n], sig.Q[n], p.I, p.Q)
		}
	}
}

func TestModulate_PrefixConsistency(t *testing.T) {
	c := mustConstellation(t, QAM64, LabelLTE)
	m, err := NewModulator(c, 1000, 10000, 100)
	if err != nil {
		t.Fatalf("NewModulator error: %v", err)
	}

	symbols, _ := RandomSymbols(40, QAM64, NewSource(7))
	full, err := m.Modulate(symbols)
	if err != nil {
		t.Fatalf("Modulate error: %v", err)
	}

	sps := m.SamplesPerSymbol()
	for k := 0; k <= len(symbols); k++ {
		prefix, err := m.ModulatePrefix(symbols, k)
		if err != nil {
			t.Fatalf("ModulatePrefix(%d) error: %v", k, err)
		}
		if len(prefix.Samples) != k*sps {
			t.Fatalf("prefix %d: %d samples, want %d", k, len(prefix.Samples), k*sps)
		}
		for n := range prefix.Samples {
			if prefix.Samples[n] != full.Samples[n] {
				t.Fatalf("prefix %d: sample %d = %v, full = %v", k, n, prefix.Samples[n], full.Samples[n])
			}
		}
	}
}

func TestModulator_SymbolSamplesMatchFull(t *testing.T) {
	c := mustConstellation(t, QAM16, LabelGray)
	m, _ := NewModulator(c, 20, 1000, 2)
	symbols := sweep16()
	full, _ := m.Modulate(symbols)

	var streamed []float64
	for pos, sym := range symbols {
		chunk, err := m.SymbolSamples(pos, sym)
		if err != nil {
			t.Fatalf("SymbolSamples(%d, %d) error: %v", pos, sym, err)
		}
		streamed = append(streamed, chunk...)
	}

	if len(streamed) != len(full.Samples) {
		t.Fatalf("streamed %d samples, full %d", len(streamed), len(full.Samples))
	}
	for n := range streamed {
		if streamed[n] != full.Samples[n] {
			t.Fatalf("sample %d differs: %v vs %v", n, streamed[n], full.Samples[n])
		}
	}
}

func TestModulate_Deterministic(t *testing.T) {
	c := mustConstellation(t, QPSK, LabelGray)
	a, _ := Modulate([]int{0, 1, 2, 3}, c, 1000, 10000, 100)
	b, _ := Modulate([]int{0, 1, 2, 3}, c, 1000, 10000, 100)
	for n := range a.Samples {
		if a.Samples[n] != b.Samples[n] {
			t.Fatalf("sample %d not deterministic", n)
		}
	}
}

func TestNewModulator_RateRatio(t *testing.T) {
	c := mustConstellation(t, QAM16, LabelGray)

	tests := []struct {
		name       string
		sampleRate float64
		symbolRate float64
		wantSPS    int
		wantErr    bool
		wantRound  bool
	}{
		{"exact", 1000, 2, 500, false, false},
		{"fractional floor", 1000, 3, 333, false, true},
		{"float noise", 44100, 0.1, 441000, false, false},
		{"below one", 10, 20, 0, true, false},
		{"zero symbol rate", 1000, 0, 0, true, false},
		{"negative sample rate", -1000, 2, 0, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewModulator(c, 1, tt.sampleRate, tt.symbolRate)
			if tt.wantErr {
				var re *InvalidRateRatioError
				if !errors.As(err, &re) {
					t.Fatalf("expected InvalidRateRatioError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if m.SamplesPerSymbol() != tt.wantSPS {
				t.Errorf("samples per symbol = %d, want %d", m.SamplesPerSymbol(), tt.wantSPS)
			}

			rounded := false
			for _, w := range m.Warnings() {
				var rw *RateRoundingWarning
				if errors.As(w, &rw) {
					rounded = true
				}
			}
			if rounded != tt.wantRound {
				t.Errorf("rounding warning = %v, want %v", rounded, tt.wantRound)
			}
		})
	}
}

func TestNewModulator_AliasingWarning(t *testing.T) {
	c := mustConstellation(t, BPSK, LabelGray)

	m, err := NewModulator(c, 600, 1000, 10)
	if err != nil {
		t.Fatalf("aliasing must not be fatal: %v", err)
	}
	var aw *AliasingWarning
	found := false
	for _, w := range m.Warnings() {
		if errors.As(w, &aw) {
			found = true
		}
	}
	if !found {
		t.Fatal("expected AliasingWarning")
	}

	sig, err := m.Modulate([]int{0, 1})
	if err != nil {
		t.Fatalf("Modulate error: %v", err)
	}
	if len(sig.Warnings) == 0 {
		t.Error("signal should carry the aliasing warning")
	}

	clean, _ := NewModulator(c, 400, 1000, 10)
	if len(clean.Warnings()) != 0 {
		t.Errorf("unexpected warnings at fs > 2fc: %v", clean.Warnings())
	}
}

func TestModulate_SymbolOutOfRange(t *testing.T) {
	c := mustConstellation(t, QPSK, LabelGray)
	_, err := Modulate([]int{0, 1, 4}, c, 10, 100, 10)
	var se *SymbolRangeError
	if !errors.As(err, &se) {
		t.Fatalf("expected SymbolRangeError, got %v", err)
	}
	if se.Position != 2 || se.Symbol != 4 {
		t.Errorf("error position/symbol = %d/%d, want 2/4", se.Position, se.Symbol)
	}
}

func TestModulate_BPSK(t *testing.T) {
	c := mustConstellation(t, BPSK, LabelGray)
	sig, err := Modulate([]int{1, 0}, c, 1000, 10000, 100)
	if err != nil {
		t.Fatalf("Modulate error: %v", err)
	}
	// BPSK has no Q component: s[n] = ±cos.
	for n, s := range sig.Samples {
		sign := 1.0
		if n >= 100 {
			sign = -1
		}
		want := sign * math.Cos(2*math.Pi*1000*float64(n)/10000)
		if math.Abs(s-want) > 1e-12 {
			t.Fatalf("sample %d = %v, want %v", n, s, want)
		}
	}
}
