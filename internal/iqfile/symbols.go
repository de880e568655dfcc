package iqfile

import (
	"io"

	"golang.org/x/xerrors"
)

// PackSymbols packs symbol values MSB first at bitsPerSymbol bits each. The
// last byte is zero-padded.
func PackSymbols(symbols []int, bitsPerSymbol int) ([]byte, error) {
	if bitsPerSymbol < 1 || bitsPerSymbol > 8 {
		return nil, xerrors.Errorf("bits per symbol %d out of range [1, 8]", bitsPerSymbol)
	}

	out := make([]byte, (len(symbols)*bitsPerSymbol+7)/8)
	bit := 0
	for pos, sym := range symbols {
		if sym < 0 || sym >= 1<<uint(bitsPerSymbol) {
			return nil, xerrors.Errorf("symbol %d at position %d does not fit in %d bits", sym, pos, bitsPerSymbol)
		}
		for j := bitsPerSymbol - 1; j >= 0; j-- {
			if sym>>uint(j)&1 == 1 {
				out[bit/8] |= 0x80 >> uint(bit%8)
			}
			bit++
		}
	}
	return out, nil
}

// UnpackSymbols is the inverse of PackSymbols. Trailing bits that do not
// form a whole symbol are dropped.
func UnpackSymbols(data []byte, bitsPerSymbol int) ([]int, error) {
	if bitsPerSymbol < 1 || bitsPerSymbol > 8 {
		return nil, xerrors.Errorf("bits per symbol %d out of range [1, 8]", bitsPerSymbol)
	}

	out := make([]int, len(data)*8/bitsPerSymbol)
	bit := 0
	for i := range out {
		v := 0
		for j := 0; j < bitsPerSymbol; j++ {
			v = v<<1 | int(data[bit/8]>>uint(7-bit%8)&1)
			bit++
		}
		out[i] = v
	}
	return out, nil
}

// WriteSymbols packs symbols and writes them to w.
func WriteSymbols(w io.Writer, symbols []int, bitsPerSymbol int) error {
	data, err := PackSymbols(symbols, bitsPerSymbol)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return xerrors.Errorf("write symbols: %w", err)
	}
	return nil
}

// ReadSymbols reads a packed symbol file.
func ReadSymbols(r io.Reader, bitsPerSymbol int) ([]int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, xerrors.Errorf("read symbols: %w", err)
	}
	return UnpackSymbols(data, bitsPerSymbol)
}
