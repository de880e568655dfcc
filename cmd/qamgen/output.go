package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/pkg/errors"

	"github.com/jeongseonghan/qam-lab/internal/iqfile"
	"github.com/jeongseonghan/qam-lab/internal/modem"
)

type summary struct {
	Modulation       string                `json:"modulation"`
	Labeling         string                `json:"labeling"`
	CarrierHz        float64               `json:"carrier_hz"`
	SampleRate       float64               `json:"sample_rate"`
	SamplesPerSymbol int                   `json:"samples_per_symbol"`
	EVM              float64               `json:"evm_percent"`
	SNRdB            *float64              `json:"snr_db"`
	TheoreticalBER   float64               `json:"theoretical_ber"`
	Warnings         []string              `json:"warnings,omitempty"`
	Metrics          []modem.SymbolMetrics `json:"metrics"`
}

func newSummary(res *modem.Result) summary {
	s := summary{
		Modulation:       res.Constellation.Mod.String(),
		Labeling:         res.Constellation.Labeling.String(),
		CarrierHz:        res.Signal.CarrierHz,
		SampleRate:       res.Signal.SampleRate,
		SamplesPerSymbol: res.Signal.SamplesPerSymbol,
		EVM:              res.EVM,
		TheoreticalBER:   res.TheoreticalBER,
		Metrics:          res.Metrics,
	}
	if !math.IsInf(res.SNRdB, 0) && !math.IsNaN(res.SNRdB) {
		snr := res.SNRdB
		s.SNRdB = &snr
	}
	for _, w := range res.Warnings {
		s.Warnings = append(s.Warnings, w.Error())
	}
	return s
}

// export writes the result in the requested format.
func export(opts options, res *modem.Result) error {
	out, err := create(opts.out)
	if err != nil {
		return err
	}
	defer out.Close()

	switch opts.format {
	case "table":
		return writeTable(out, res)
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(newSummary(res))
	case "csv":
		return iqfile.WriteCSV(out, res.Signal)
	case "metrics-csv":
		return iqfile.WriteMetricsCSV(out, res.Metrics)
	case "rails":
		if opts.qOut == "" {
			return errors.New("--format rails needs --q-out for the Q channel")
		}
		qw, err := create(opts.qOut)
		if err != nil {
			return err
		}
		defer qw.Close()
		return iqfile.WriteRailsCSV(out, qw, res.Signal)
	case "iq":
		return iqfile.WriteInt8IQ(out, res.Signal)
	case "symbols":
		symbols := make([]int, len(res.Metrics))
		for i, m := range res.Metrics {
			symbols[i] = m.Symbol
		}
		return iqfile.WriteSymbols(out, symbols, res.Constellation.BitsPerSymbol())
	default:
		return errors.Errorf("unknown format %q", opts.format)
	}
}

func writeTable(w io.Writer, res *modem.Result) error {
	fmt.Fprintf(w, "Modulation: %s (%s)\n", res.Constellation.Mod, res.Constellation.Labeling)
	fmt.Fprintf(w, "Carrier Frequency: %g Hz\n", res.Signal.CarrierHz)
	fmt.Fprintf(w, "Sample Rate: %g Hz, %d samples/symbol\n", res.Signal.SampleRate, res.Signal.SamplesPerSymbol)
	fmt.Fprintf(w, "EVM: %.3f%%  SNR: %.2f dB  BER: %.3e\n\n", res.EVM, res.SNRdB, res.TheoreticalBER)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "#\tsymbol\tbits\tI\tQ\tamplitude\tphase°\t")
	for _, m := range res.Metrics {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%.3f\t%.3f\t%.3f\t%.2f\t\n",
			m.Position, m.Symbol, m.Bits, m.I, m.Q, m.Amplitude, m.PhaseDeg)
	}
	return tw.Flush()
}
