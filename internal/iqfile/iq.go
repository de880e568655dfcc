package iqfile

import (
	"bufio"
	"io"
	"math"

	"golang.org/x/xerrors"

	"github.com/jeongseonghan/qam-lab/internal/modem"
)

const int8Scale = 127

// Int8IQ converts the baseband rails to interleaved signed 8-bit I/Q, the
// layout HackRF tools read. Both rails share one scale so the peak rail
// magnitude maps to ±127.
func Int8IQ(sig *modem.Signal) []byte {
	var peak float64
	for n := range sig.I {
		peak = math.Max(peak, math.Max(math.Abs(sig.I[n]), math.Abs(sig.Q[n])))
	}

	buf := make([]byte, 2*len(sig.I))
	if peak == 0 {
		return buf
	}
	gain := int8Scale / peak
	for n := range sig.I {
		buf[2*n] = byte(int8(math.Round(sig.I[n] * gain)))
		buf[2*n+1] = byte(int8(math.Round(sig.Q[n] * gain)))
	}
	return buf
}

// WriteInt8IQ writes Int8IQ(sig) to w.
func WriteInt8IQ(w io.Writer, sig *modem.Signal) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(Int8IQ(sig)); err != nil {
		return xerrors.Errorf("write iq: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return xerrors.Errorf("flush iq: %w", err)
	}
	return nil
}
