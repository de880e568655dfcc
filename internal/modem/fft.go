package modem

import (
	"math"
	"math/cmplx"
	"sort"
)

// FFT computes the Discrete Fourier Transform using Cooley-Tukey radix-2.
// Input length must be a power of 2.
func FFT(x []complex128) []complex128 {
	n := len(x)
	out := make([]complex128, n)
	copy(out, x)
	if n <= 1 {
		return out
	}
	if n&(n-1) != 0 {
		panic("FFT: length must be a power of 2")
	}

	bitReverse(out)
	butterflies(out)
	return out
}

func butterflies(x []complex128) {
	n := len(x)
	for size := 2; size <= n; size <<= 1 {
		halfSize := size >> 1
		wn := cmplx.Exp(complex(0, -2*math.Pi/float64(size)))
		for start := 0; start < n; start += size {
			w := complex(1, 0)
			for j := 0; j < halfSize; j++ {
				u := x[start+j]
				v := w * x[start+j+halfSize]
				x[start+j] = u + v
				x[start+j+halfSize] = u - v
				w *= wn
			}
		}
	}
}

func bitReverse(x []complex128) {
	n := len(x)
	width := 0
	for tmp := n; tmp > 1; tmp >>= 1 {
		width++
	}
	for i := 0; i < n; i++ {
		j := reverseBits(i, width)
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
	}
}

func reverseBits(x, width int) int {
	result := 0
	for i := 0; i < width; i++ {
		result = (result << 1) | (x & 1)
		x >>= 1
	}
	return result
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Bin is one spectrum line.
type Bin struct {
	FrequencyHz float64 `json:"frequency_hz"`
	Magnitude   float64 `json:"magnitude"`
}

// Spectrum returns the magnitude spectrum of real samples, both negative
// and positive frequencies, sorted by ascending frequency. The input is
// zero-padded to the next power of two, so bin spacing is
// sampleRate / nextPow2(len(samples)).
func Spectrum(samples []float64, sampleRate float64) []Bin {
	if len(samples) == 0 {
		return nil
	}

	n := nextPow2(len(samples))
	cx := make([]complex128, n)
	for i, v := range samples {
		cx[i] = complex(v, 0)
	}
	y := FFT(cx)

	bins := make([]Bin, n)
	for k, v := range y {
		f := k
		if k >= (n+1)/2 {
			f = k - n
		}
		bins[k] = Bin{FrequencyHz: float64(f) * sampleRate / float64(n), Magnitude: cmplx.Abs(v)}
	}
	sort.Slice(bins, func(i, j int) bool { return bins[i].FrequencyHz < bins[j].FrequencyHz })
	return bins
}

// PeakFrequency returns the positive-frequency bin with the largest
// magnitude, ignoring DC.
func PeakFrequency(bins []Bin) Bin {
	var best Bin
	for _, b := range bins {
		if b.FrequencyHz > 0 && b.Magnitude > best.Magnitude {
			best = b
		}
	}
	return best
}
