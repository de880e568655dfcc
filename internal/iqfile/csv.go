// Package iqfile exports modulated signals and symbol streams to files.
package iqfile

import (
	"encoding/csv"
	"io"
	"strconv"

	"golang.org/x/xerrors"

	"github.com/jeongseonghan/qam-lab/internal/modem"
)

// Recorder produces the list of fields making up a record.
type Recorder interface {
	Record() []string
}

// Encoder writes CSV records to an output stream.
type Encoder struct {
	w *csv.Writer
}

// NewEncoder returns a new encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: csv.NewWriter(w)}
}

// Encode writes a CSV record representing v to the stream. v must
// implement Recorder.
func (enc *Encoder) Encode(v interface{}) error {
	r, ok := v.(Recorder)
	if !ok {
		return xerrors.Errorf("encode %T: not a Recorder", v)
	}
	if err := enc.w.Write(r.Record()); err != nil {
		return xerrors.Errorf("write record: %w", err)
	}
	return nil
}

// Flush writes buffered records and reports any write error.
func (enc *Encoder) Flush() error {
	enc.w.Flush()
	if err := enc.w.Error(); err != nil {
		return xerrors.Errorf("flush: %w", err)
	}
	return nil
}

// SampleRecord is one row of a waveform dump.
type SampleRecord struct {
	Time   float64
	I      float64
	Q      float64
	Sample float64
}

func (r SampleRecord) Record() []string {
	return []string{
		strconv.FormatFloat(r.Time, 'f', -1, 64),
		strconv.FormatFloat(r.I, 'f', -1, 64),
		strconv.FormatFloat(r.Q, 'f', -1, 64),
		strconv.FormatFloat(r.Sample, 'f', -1, 64),
	}
}

// MetricsRecord adapts a symbol snapshot to a CSV row.
type MetricsRecord modem.SymbolMetrics

func (r MetricsRecord) Record() []string {
	return []string{
		strconv.Itoa(r.Position),
		strconv.Itoa(r.Symbol),
		r.Bits,
		strconv.FormatFloat(r.I, 'f', -1, 64),
		strconv.FormatFloat(r.Q, 'f', -1, 64),
		strconv.FormatFloat(r.Amplitude, 'f', 6, 64),
		strconv.FormatFloat(r.PhaseDeg, 'f', 3, 64),
	}
}

type header []string

func (h header) Record() []string { return h }

// WriteCSV writes the signal as time,i,q,sample rows with a header line.
func WriteCSV(w io.Writer, sig *modem.Signal) error {
	enc := NewEncoder(w)
	if err := enc.Encode(header{"time", "i", "q", "sample"}); err != nil {
		return err
	}
	for n := range sig.Samples {
		rec := SampleRecord{Time: sig.Time(n), I: sig.I[n], Q: sig.Q[n], Sample: sig.Samples[n]}
		if err := enc.Encode(rec); err != nil {
			return xerrors.Errorf("sample %d: %w", n, err)
		}
	}
	return enc.Flush()
}

// WriteMetricsCSV writes one row per symbol snapshot.
func WriteMetricsCSV(w io.Writer, metrics []modem.SymbolMetrics) error {
	enc := NewEncoder(w)
	if err := enc.Encode(header{"position", "symbol", "bits", "i", "q", "amplitude", "phase_degrees"}); err != nil {
		return err
	}
	for _, m := range metrics {
		if err := enc.Encode(MetricsRecord(m)); err != nil {
			return xerrors.Errorf("symbol %d: %w", m.Position, err)
		}
	}
	return enc.Flush()
}

// WriteRailsCSV writes the I and Q rails to separate streams, one value per
// line with one decimal place.
func WriteRailsCSV(iw, qw io.Writer, sig *modem.Signal) error {
	if err := writeColumn(iw, sig.I); err != nil {
		return xerrors.Errorf("I channel: %w", err)
	}
	if err := writeColumn(qw, sig.Q); err != nil {
		return xerrors.Errorf("Q channel: %w", err)
	}
	return nil
}

func writeColumn(w io.Writer, values []float64) error {
	cw := csv.NewWriter(w)
	for _, v := range values {
		if err := cw.Write([]string{strconv.FormatFloat(v, 'f', 1, 64)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
