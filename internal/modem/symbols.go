package modem

import (
	"fmt"
	"strings"
	"time"
)

// IntSource supplies uniform integers in [0, n). *rand.Rand satisfies it.
type IntSource interface {
	Intn(n int) int
}

// RandomSymbols draws n uniform symbols for the given order. A nil src uses
// a time-seeded generator.
func RandomSymbols(n int, mod Modulation, src IntSource) ([]int, error) {
	if err := mod.Validate(); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("negative symbol count %d", n)
	}
	if src == nil {
		src = NewSource(time.Now().UnixNano())
	}

	out := make([]int, n)
	for i := range out {
		out[i] = src.Intn(int(mod))
	}
	return out, nil
}

// SequentialSymbols sweeps 0..M-1 repeatedly until n symbols are produced.
func SequentialSymbols(n int, mod Modulation) ([]int, error) {
	if err := mod.Validate(); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("negative symbol count %d", n)
	}

	out := make([]int, n)
	for i := range out {
		out[i] = i % int(mod)
	}
	return out, nil
}

// SymbolsFromBits maps label bits (one bit per byte, MSB first) to symbol
// indices. The bit count must be a multiple of the bits per symbol.
func SymbolsFromBits(bits []byte, c *Constellation) ([]int, error) {
	bps := c.BitsPerSymbol()
	if len(bits)%bps != 0 {
		return nil, fmt.Errorf("bit count %d is not multiple of %d", len(bits), bps)
	}

	out := make([]int, len(bits)/bps)
	for i := range out {
		label := bitsToIndex(bits[i*bps : (i+1)*bps])
		sym, err := c.SymbolForLabel(label)
		if err != nil {
			return nil, err
		}
		out[i] = sym
	}
	return out, nil
}

// SymbolsFromBytes maps data bytes MSB first, zero-padding the final symbol.
func SymbolsFromBytes(data []byte, c *Constellation) ([]int, error) {
	bits := bytesToBits(data)
	if rem := len(bits) % c.BitsPerSymbol(); rem != 0 {
		bits = append(bits, make([]byte, c.BitsPerSymbol()-rem)...)
	}
	return SymbolsFromBits(bits, c)
}

// SymbolBits returns the label bits of a symbol stream.
func SymbolBits(symbols []int, c *Constellation) ([]byte, error) {
	bps := c.BitsPerSymbol()
	out := make([]byte, 0, len(symbols)*bps)
	for pos, sym := range symbols {
		label := c.Label(sym)
		if label < 0 {
			return nil, &SymbolRangeError{Position: pos, Symbol: sym, Order: c.Order()}
		}
		out = append(out, indexToBits(label, bps)...)
	}
	return out, nil
}

// SymbolsToBytes is the inverse of SymbolsFromBytes; a trailing partial
// byte is dropped.
func SymbolsToBytes(symbols []int, c *Constellation) ([]byte, error) {
	bits, err := SymbolBits(symbols, c)
	if err != nil {
		return nil, err
	}
	return bitsToBytes(bits), nil
}

// ParseBitString parses a string of '0' and '1' characters. Spaces,
// underscores and commas are ignored.
func ParseBitString(s string) ([]byte, error) {
	bits := make([]byte, 0, len(s))
	for i, r := range s {
		switch r {
		case '0':
			bits = append(bits, 0)
		case '1':
			bits = append(bits, 1)
		case ' ', '_', ',', '\t', '\n':
		default:
			return nil, fmt.Errorf("invalid bit %q at offset %d", r, i)
		}
	}
	return bits, nil
}

// FormatBits renders bits as a '0'/'1' string.
func FormatBits(bits []byte) string {
	var sb strings.Builder
	sb.Grow(len(bits))
	for _, b := range bits {
		sb.WriteByte('0' + b&1)
	}
	return sb.String()
}

func bytesToBits(data []byte) []byte {
	bits := make([]byte, len(data)*8)
	for i, b := range data {
		for j := 7; j >= 0; j-- {
			bits[i*8+(7-j)] = (b >> uint(j)) & 1
		}
	}
	return bits
}

func bitsToBytes(bits []byte) []byte {
	numBytes := len(bits) / 8
	data := make([]byte, numBytes)
	for i := 0; i < numBytes; i++ {
		var b byte
		for j := 0; j < 8; j++ {
			b = (b << 1) | (bits[i*8+j] & 1)
		}
		data[i] = b
	}
	return data
}
