package modem

import (
	"fmt"
	"math"
	"math/bits"
	"strings"
)

// Modulation is a modulation order: the number of constellation points.
type Modulation int

const (
	BPSK   Modulation = 2   // 1 bit per symbol
	QPSK   Modulation = 4   // 2 bits per symbol
	QAM16  Modulation = 16  // 4 bits per symbol
	QAM64  Modulation = 64  // 6 bits per symbol
	QAM256 Modulation = 256 // 8 bits per symbol
)

// Validate reports whether m is BPSK or a square QAM order with an integer
// number of bits per symbol.
func (m Modulation) Validate() error {
	if m == BPSK {
		return nil
	}
	if m < 4 || m&(m-1) != 0 || bits.TrailingZeros(uint(m))%2 != 0 {
		return &InvalidOrderError{Order: int(m)}
	}
	return nil
}

// BitsPerSymbol returns log2 of the order.
func (m Modulation) BitsPerSymbol() int {
	return bits.TrailingZeros(uint(m))
}

// side returns the lattice width (sqrt of the order); BPSK has width 2.
func (m Modulation) side() int {
	if m == BPSK {
		return 2
	}
	return 1 << (m.BitsPerSymbol() / 2)
}

// String returns the modulation name.
func (m Modulation) String() string {
	switch {
	case m == BPSK:
		return "BPSK"
	case m == QPSK:
		return "QPSK"
	case m.Validate() == nil:
		return fmt.Sprintf("%d-QAM", int(m))
	default:
		return "Unknown"
	}
}

// Labeling selects how bit patterns are attached to lattice points.
type Labeling int

const (
	LabelGray Labeling = iota
	LabelNatural
	LabelSetPartition
	LabelLTE
)

var labelingNames = map[Labeling]string{
	LabelGray:         "gray",
	LabelNatural:      "natural_binary",
	LabelSetPartition: "set_partition",
	LabelLTE:          "lte_gray",
}

// String returns the canonical labeling name.
func (l Labeling) String() string {
	if name, ok := labelingNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Labeling(%d)", int(l))
}

// Validate reports whether l is a known labeling.
func (l Labeling) Validate() error {
	if _, ok := labelingNames[l]; !ok {
		return &UnsupportedLabelingError{Mode: l.String()}
	}
	return nil
}

// ParseLabeling parses a labeling name. Short aliases "natural" and "lte"
// are accepted.
func ParseLabeling(s string) (Labeling, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "natural", "nbc":
		return LabelNatural, nil
	case "lte":
		return LabelLTE, nil
	}
	for l, n := range labelingNames {
		if n == name {
			return l, nil
		}
	}
	return 0, &UnsupportedLabelingError{Mode: s}
}

// Point is one constellation entry.
type Point struct {
	Symbol int
	Label  int
	I      float64
	Q      float64
}

// Complex returns the point as I + jQ.
func (p Point) Complex() complex128 {
	return complex(p.I, p.Q)
}

// Constellation maps symbol indices to lattice points and bit labels.
// Symbols follow the canonical lattice ordering: row-major with Q ascending
// by row and I ascending by column, so symbol 0 is the most negative corner.
// A Constellation is immutable once built.
type Constellation struct {
	Mod      Modulation
	Labeling Labeling
	points   []Point
	byLabel  []int // label -> symbol
}

// NewConstellation builds the constellation for the given order and labeling.
func NewConstellation(mod Modulation, labeling Labeling) (*Constellation, error) {
	if err := mod.Validate(); err != nil {
		return nil, err
	}
	if err := labeling.Validate(); err != nil {
		return nil, err
	}

	c := &Constellation{Mod: mod, Labeling: labeling}
	if mod == BPSK {
		c.generateBPSK()
	} else {
		c.generateQAM(mod.side())
	}

	c.byLabel = make([]int, len(c.points))
	for _, p := range c.points {
		c.byLabel[p.Label] = p.Symbol
	}
	return c, nil
}

func (c *Constellation) generateBPSK() {
	c.points = []Point{
		{Symbol: 0, Label: 0, I: -1},
		{Symbol: 1, Label: 1, I: 1},
	}
	if c.Labeling == LabelLTE {
		// LTE BPSK: bit 0 is the positive phase.
		c.points[0].Label, c.points[1].Label = 1, 0
	}
}

func (c *Constellation) generateQAM(side int) {
	size := side * side
	c.points = make([]Point, size)

	for k := 0; k < size; k++ {
		row := k / side
		col := k % side
		c.points[k] = Point{
			Symbol: k,
			I:      float64(2*col - side + 1), // odd values: -3, -1, 1, 3 for 16-QAM
			Q:      float64(2*row - side + 1),
		}
	}

	width := bits.TrailingZeros(uint(side))
	switch c.Labeling {
	case LabelNatural:
		for k := range c.points {
			c.points[k].Label = k
		}
	case LabelGray:
		// Row codes are reflected Gray codes with the low bit inverted so the
		// row just below the I axis carries all-zero row bits.
		for k := range c.points {
			row, col := k/side, k%side
			c.points[k].Label = (gray(row)^1)<<width | gray(col)
		}
	case LabelSetPartition:
		for k := range c.points {
			row, col := k/side, k%side
			c.points[k].Label = row<<width | gray(col)
		}
	case LabelLTE:
		for icode := 0; icode < side; icode++ {
			for qcode := 0; qcode < side; qcode++ {
				col := (lteLevel(icode, width) + side - 1) / 2
				row := (lteLevel(qcode, width) + side - 1) / 2
				c.points[row*side+col].Label = interleave(icode, qcode, width)
			}
		}
	}
}

func gray(x int) int {
	return x ^ (x >> 1)
}

// lteLevel returns the odd amplitude level selected by an axis code of the
// given width. The MSB is the sign (0 = positive); the remaining bits pick
// the magnitude as in TS 36.211.
func lteLevel(code, width int) int {
	mag := 1
	for j := 0; j < width-1; j++ {
		bit := (code >> j) & 1
		mag = (1 << (j + 1)) - (1-2*bit)*mag
	}
	sign := (code >> (width - 1)) & 1
	return (1 - 2*sign) * mag
}

// interleave merges per-axis codes MSB first: I, Q, I, Q, ...
func interleave(icode, qcode, width int) int {
	label := 0
	for j := width - 1; j >= 0; j-- {
		label = label<<1 | (icode>>j)&1
		label = label<<1 | (qcode>>j)&1
	}
	return label
}

// Order returns the number of points.
func (c *Constellation) Order() int {
	return len(c.points)
}

// BitsPerSymbol returns the label width.
func (c *Constellation) BitsPerSymbol() int {
	return c.Mod.BitsPerSymbol()
}

// Points returns a copy of the table in symbol order.
func (c *Constellation) Points() []Point {
	out := make([]Point, len(c.points))
	copy(out, c.points)
	return out
}

// Point returns the entry for a symbol index.
func (c *Constellation) Point(symbol int) (Point, error) {
	if symbol < 0 || symbol >= len(c.points) {
		return Point{}, &SymbolRangeError{Position: -1, Symbol: symbol, Order: len(c.points)}
	}
	return c.points[symbol], nil
}

// Label returns the bit label of a symbol, or -1 if out of range.
func (c *Constellation) Label(symbol int) int {
	if symbol < 0 || symbol >= len(c.points) {
		return -1
	}
	return c.points[symbol].Label
}

// Bits returns the label of a symbol as a fixed-width binary string.
func (c *Constellation) Bits(symbol int) string {
	label := c.Label(symbol)
	if label < 0 {
		return ""
	}
	return fmt.Sprintf("%0*b", c.BitsPerSymbol(), label)
}

// SymbolForLabel returns the symbol carrying the given label.
func (c *Constellation) SymbolForLabel(label int) (int, error) {
	if label < 0 || label >= len(c.byLabel) {
		return 0, fmt.Errorf("label %d out of range [0, %d)", label, len(c.byLabel))
	}
	return c.byLabel[label], nil
}

// Map maps label bits (one bit per byte, MSB first) to a constellation point.
func (c *Constellation) Map(bits []byte) complex128 {
	label := bitsToIndex(bits) & (len(c.points) - 1)
	return c.points[c.byLabel[label]].Complex()
}

// MapBits maps a bit slice to constellation symbols.
// bits are packed as bytes (0 or 1 each); trailing bits short of a full
// symbol are ignored.
func (c *Constellation) MapBits(bits []byte) []complex128 {
	bps := c.BitsPerSymbol()
	numSymbols := len(bits) / bps
	symbols := make([]complex128, numSymbols)

	for i := 0; i < numSymbols; i++ {
		symbols[i] = c.Map(bits[i*bps : (i+1)*bps])
	}
	return symbols
}

// Demap returns the symbol whose point is closest to p.
func (c *Constellation) Demap(p complex128) int {
	minDist := math.MaxFloat64
	minIdx := 0

	for i, pt := range c.points {
		di := real(p) - pt.I
		dq := imag(p) - pt.Q
		if d := di*di + dq*dq; d < minDist {
			minDist = d
			minIdx = i
		}
	}
	return minIdx
}

// DemapSymbols demaps each point to its nearest symbol.
func (c *Constellation) DemapSymbols(points []complex128) []int {
	out := make([]int, len(points))
	for i, p := range points {
		out[i] = c.Demap(p)
	}
	return out
}

// DemapBits demaps points back to label bits.
func (c *Constellation) DemapBits(points []complex128) []byte {
	bps := c.BitsPerSymbol()
	out := make([]byte, 0, len(points)*bps)
	for _, p := range points {
		out = append(out, indexToBits(c.points[c.Demap(p)].Label, bps)...)
	}
	return out
}

// AveragePower returns the mean of I²+Q² over all points.
func (c *Constellation) AveragePower() float64 {
	var sum float64
	for _, p := range c.points {
		sum += p.I*p.I + p.Q*p.Q
	}
	return sum / float64(len(c.points))
}

// PeakAmplitude returns the largest point magnitude.
func (c *Constellation) PeakAmplitude() float64 {
	var peak float64
	for _, p := range c.points {
		peak = math.Max(peak, math.Hypot(p.I, p.Q))
	}
	return peak
}

// Normalized returns the points scaled to unit average power.
func (c *Constellation) Normalized() []complex128 {
	scale := 1.0 / math.Sqrt(c.AveragePower())
	out := make([]complex128, len(c.points))
	for i, p := range c.points {
		out[i] = complex(p.I*scale, p.Q*scale)
	}
	return out
}

func bitsToIndex(bits []byte) int {
	idx := 0
	for _, b := range bits {
		idx = (idx << 1) | int(b&1)
	}
	return idx
}

func indexToBits(idx, numBits int) []byte {
	bits := make([]byte, numBits)
	for i := numBits - 1; i >= 0; i-- {
		bits[i] = byte(idx & 1)
		idx >>= 1
	}
	return bits
}
