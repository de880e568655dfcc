// Command qamgen modulates a symbol stream, prints its per-symbol
// amplitude and phase, and optionally exports or plays the waveform.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/jeongseonghan/qam-lab/internal/audio"
	"github.com/jeongseonghan/qam-lab/internal/config"
	"github.com/jeongseonghan/qam-lab/internal/modem"
)

type options struct {
	order      int
	labeling   string
	carrier    float64
	sampleRate float64
	symbolRate float64
	symbols    string
	bits       string
	data       string
	random     int
	seed       int64
	sigma      float64
	noiseMode  string
	prefix     *int
	format     string
	out        string
	qOut       string
	play       bool
}

func main() {
	var opts options
	configFile := pflag.StringP("config", "c", "", "YAML configuration file supplying defaults")
	pflag.IntVarP(&opts.order, "order", "M", 16, "Modulation order: 2, 4, 16, 64 or 256")
	pflag.StringVarP(&opts.labeling, "labeling", "l", "gray", "Bit labeling: gray, natural_binary, set_partition, lte_gray")
	pflag.Float64VarP(&opts.carrier, "carrier", "f", 20, "Carrier frequency in Hz")
	pflag.Float64Var(&opts.sampleRate, "sample-rate", 1000, "Sample rate in Hz")
	pflag.Float64Var(&opts.symbolRate, "symbol-rate", 2, "Symbol rate in symbols per second")
	pflag.StringVarP(&opts.symbols, "symbols", "s", "", "Comma-separated symbol indices (default: sweep 0..M-1)")
	pflag.StringVarP(&opts.bits, "bits", "b", "", "Label bits, e.g. \"0000 0001 0010\"")
	pflag.StringVar(&opts.data, "data", "", "Text to map byte by byte")
	pflag.IntVarP(&opts.random, "random", "r", 0, "Number of uniform random symbols")
	pflag.Int64Var(&opts.seed, "seed", 0, "Seed for random symbols and noise (default: time-seeded)")
	pflag.Float64Var(&opts.sigma, "sigma", 0, "Noise standard deviation")
	pflag.StringVar(&opts.noiseMode, "noise-mode", "rails", "Where noise is added: rails or waveform")
	prefix := pflag.Int("prefix", 0, "Evaluate only the first N symbols (default: all)")
	pflag.StringVarP(&opts.format, "format", "F", "table", "Output: table, json, csv, metrics-csv, rails, iq, symbols")
	pflag.StringVarP(&opts.out, "out", "o", "-", "Output file ('-' for stdout)")
	pflag.StringVar(&opts.qOut, "q-out", "", "Q channel file for --format rails")
	pflag.BoolVar(&opts.play, "play", false, "Play the waveform on the default audio device")
	listDevices := pflag.Bool("list-devices", false, "List audio devices and exit")
	logLevel := pflag.String("log-level", "warn", "Log level (overrides config)")
	pflag.Parse()
	if err := config.EnvOverride(pflag.CommandLine, log.StandardLogger()); err != nil {
		log.WithError(err).Fatal("invalid environment override")
	}
	if pflag.Lookup("prefix").Changed {
		opts.prefix = prefix
	}

	cfg := config.Default()
	cfg.Logging.Level = "warn"
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadConfig(*configFile); err != nil {
			log.WithError(err).Fatal("failed to load config")
		}
		applyDefaults(&opts, cfg.Defaults)
		if f := pflag.Lookup("play"); !f.Changed {
			opts.play = cfg.Audio.Enabled
		}
	}
	if err := setupLogging(log.StandardLogger(), cfg.Logging, *logLevel, pflag.Lookup("log-level").Changed); err != nil {
		log.WithError(err).Fatal("invalid logging config")
	}

	if *listDevices {
		if err := audio.Init(); err != nil {
			log.WithError(err).Fatal("failed to initialize PortAudio")
		}
		defer audio.Terminate()
		if err := audio.PrintDevices(os.Stdout); err != nil {
			log.WithError(err).Fatal("failed to list devices")
		}
		return
	}

	res, err := run(opts)
	if err != nil {
		log.WithError(err).Fatal("modulation failed")
	}
	for _, w := range res.Warnings {
		log.Warn(w.Error())
	}

	if err := export(opts, res); err != nil {
		log.WithError(err).Fatal("export failed")
	}

	if opts.play {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := play(ctx, res.Signal, cfg.Audio.FramesPerBuf); err != nil && err != context.Canceled {
			log.WithError(err).Fatal("playback failed")
		}
	}
}

// setupLogging applies the config's logging settings, with level taking
// precedence when it was given explicitly.
func setupLogging(logger *log.Logger, lc config.LoggingConfig, level string, override bool) error {
	if override {
		lc.Level = level
	}
	return lc.Apply(logger)
}

// applyDefaults takes values from the config file for flags not given on
// the command line.
func applyDefaults(opts *options, d config.ModemConfig) {
	set := func(name string, apply func()) {
		if f := pflag.Lookup(name); f != nil && !f.Changed {
			apply()
		}
	}
	set("order", func() { opts.order = d.Order })
	set("labeling", func() { opts.labeling = d.Labeling })
	set("carrier", func() { opts.carrier = d.CarrierHz })
	set("sample-rate", func() { opts.sampleRate = d.SampleRate })
	set("symbol-rate", func() { opts.symbolRate = d.SymbolRate })
	set("sigma", func() { opts.sigma = d.NoiseSigma })
	set("noise-mode", func() { opts.noiseMode = d.NoiseMode })
	if d.Seed != nil {
		set("seed", func() { opts.seed = *d.Seed })
	}
}

func seedSet(opts options) bool {
	if f := pflag.Lookup("seed"); f != nil && f.Changed {
		return true
	}
	return opts.seed != 0
}

// buildRequest turns the options into an engine request.
func buildRequest(opts options, seeded bool) (modem.Request, error) {
	mc := config.ModemConfig{
		Order:      opts.order,
		Labeling:   opts.labeling,
		CarrierHz:  opts.carrier,
		SampleRate: opts.sampleRate,
		SymbolRate: opts.symbolRate,
		NoiseSigma: opts.sigma,
		NoiseMode:  opts.noiseMode,
	}
	if seeded {
		seed := opts.seed
		mc.Seed = &seed
	}
	req, err := mc.Request(nil)
	if err != nil {
		return req, err
	}
	c, err := modem.NewConstellation(req.Order, req.Labeling)
	if err != nil {
		return req, err
	}

	switch {
	case opts.symbols != "":
		req.Symbols, err = parseSymbolList(opts.symbols)
	case opts.bits != "":
		var bits []byte
		if bits, err = modem.ParseBitString(opts.bits); err == nil {
			req.Symbols, err = modem.SymbolsFromBits(bits, c)
		}
	case opts.data != "":
		req.Symbols, err = modem.SymbolsFromBytes([]byte(opts.data), c)
	case opts.random > 0:
		var src modem.IntSource
		if seeded {
			src = modem.NewSource(opts.seed)
		}
		req.Symbols, err = modem.RandomSymbols(opts.random, req.Order, src)
	default:
		req.Symbols, err = modem.SequentialSymbols(c.Order(), req.Order)
	}
	if err != nil {
		return req, errors.Wrap(err, "symbols")
	}
	req.Prefix = opts.prefix
	return req, nil
}

func run(opts options) (*modem.Result, error) {
	req, err := buildRequest(opts, seedSet(opts))
	if err != nil {
		return nil, err
	}
	return modem.Run(req)
}

func parseSymbolList(s string) ([]int, error) {
	var out []int
	for _, field := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		v, err := strconv.Atoi(field)
		if err != nil {
			return nil, errors.Wrapf(err, "symbol %q", field)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, errors.New("empty symbol list")
	}
	return out, nil
}

func create(path string) (io.WriteCloser, error) {
	if path == "-" || path == "" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create output")
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func play(ctx context.Context, sig *modem.Signal, framesPerBuf int) error {
	if err := audio.Init(); err != nil {
		return errors.Wrap(err, "initialize PortAudio")
	}
	defer audio.Terminate()

	if err := audio.CheckRate(sig.SampleRate); err != nil {
		return err
	}
	player, err := audio.NewPlayer(sig.SampleRate, framesPerBuf)
	if err != nil {
		return err
	}
	defer player.Close()

	log.WithFields(log.Fields{"samples": len(sig.Samples), "rate": sig.SampleRate}).Info("playing")
	fmt.Fprintf(os.Stderr, "Playing %.2f s...\n", float64(len(sig.Samples))/sig.SampleRate)
	return player.Play(ctx, sig.Samples)
}
