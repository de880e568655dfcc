package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/jeongseonghan/qam-lab/internal/modem"
)

// AppConfig represents the application configuration
type AppConfig struct {
	Server   ServerConfig  `yaml:"server"`
	Defaults ModemConfig   `yaml:"defaults"`
	MQTT     MQTTConfig    `yaml:"mqtt"`
	Audio    AudioConfig   `yaml:"audio"`
	Logging  LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the HTTP / WebSocket server settings
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
	// FrameInterval is the delay between streamed symbol frames.
	FrameInterval time.Duration `yaml:"frame_interval"`
	// MaxSymbols caps the stream length a client may request.
	MaxSymbols int `yaml:"max_symbols"`
	// MaxSamples caps the samples per rail a request may synthesize.
	MaxSamples int `yaml:"max_samples"`
}

// ModemConfig holds the default modulation parameters
type ModemConfig struct {
	Order      int     `yaml:"order" json:"order"`
	Labeling   string  `yaml:"labeling" json:"labeling"`
	CarrierHz  float64 `yaml:"carrier_hz" json:"carrier_hz"`
	SampleRate float64 `yaml:"sample_rate" json:"sample_rate"`
	SymbolRate float64 `yaml:"symbol_rate" json:"symbol_rate"`
	NoiseSigma float64 `yaml:"noise_sigma" json:"noise_sigma"`
	NoiseMode  string  `yaml:"noise_mode" json:"noise_mode"`
	Seed       *int64  `yaml:"seed" json:"seed,omitempty"`
}

// MQTTConfig holds MQTT broker configuration
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	UseTLS      bool   `yaml:"use_tls"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
}

// AudioConfig holds the monitor playback settings
type AudioConfig struct {
	// Enabled makes qamgen play every generated waveform.
	Enabled      bool `yaml:"enabled"`
	FramesPerBuf int  `yaml:"frames_per_buffer"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given: the
// 16-QAM demo at 20 Hz carrier, 1 kHz sampling and 2 symbols per second.
func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr:          "127.0.0.1:8080",
			StaticDir:     "./web/static",
			FrameInterval: 500 * time.Millisecond,
			MaxSymbols:    4096,
			MaxSamples:    1 << 22,
		},
		Defaults: ModemConfig{
			Order:      16,
			Labeling:   "gray",
			CarrierHz:  20,
			SampleRate: 1000,
			SymbolRate: 2,
			NoiseMode:  "rails",
		},
		MQTT: MQTTConfig{
			Host:        "localhost",
			Port:        1883,
			TopicPrefix: "qamlab",
		},
		Audio: AudioConfig{
			FramesPerBuf: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from a YAML file. Fields missing from the
// file keep their Default values.
func LoadConfig(filename string) (*AppConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse decodes and validates a YAML document over the defaults.
func Parse(data []byte) (*AppConfig, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return config, nil
}

// Validate checks if the configuration is valid
func (c *AppConfig) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server addr is required")
	}
	if c.Server.FrameInterval < 0 {
		return errors.Errorf("frame_interval %v must not be negative", c.Server.FrameInterval)
	}
	if c.Server.MaxSymbols <= 0 {
		return errors.Errorf("max_symbols %d must be positive", c.Server.MaxSymbols)
	}
	if c.Server.MaxSamples <= 0 {
		return errors.Errorf("max_samples %d must be positive", c.Server.MaxSamples)
	}

	if _, err := c.Defaults.Request(nil); err != nil {
		return errors.Wrap(err, "defaults")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Host == "" {
			return errors.New("MQTT host is required when MQTT is enabled")
		}
		if c.MQTT.Port == 0 {
			return errors.New("MQTT port is required when MQTT is enabled")
		}
		if c.MQTT.TopicPrefix == "" {
			return errors.New("MQTT topic prefix is required")
		}
		if c.MQTT.QoS > 2 {
			return errors.Errorf("MQTT qos %d out of range", c.MQTT.QoS)
		}
	}

	if c.Audio.FramesPerBuf <= 0 {
		return errors.Errorf("frames_per_buffer %d must be positive", c.Audio.FramesPerBuf)
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return errors.Wrap(err, "logging level")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return errors.Errorf("unknown logging format %q", c.Logging.Format)
	}
	return nil
}

// Request resolves the modem parameters into an engine request for the
// given symbol stream. The rate and order checks are the ones the
// modulator itself performs, so a valid config always modulates.
func (m ModemConfig) Request(symbols []int) (modem.Request, error) {
	order := modem.Modulation(m.Order)
	if err := order.Validate(); err != nil {
		return modem.Request{}, err
	}
	labeling, err := modem.ParseLabeling(m.Labeling)
	if err != nil {
		return modem.Request{}, err
	}
	mode, err := modem.ParseNoiseMode(m.NoiseMode)
	if err != nil {
		return modem.Request{}, err
	}
	if m.NoiseSigma < 0 {
		return modem.Request{}, &modem.InvalidSigmaError{Sigma: m.NoiseSigma}
	}

	c, err := modem.NewConstellation(order, labeling)
	if err != nil {
		return modem.Request{}, err
	}
	if _, err := modem.NewModulator(c, m.CarrierHz, m.SampleRate, m.SymbolRate); err != nil {
		return modem.Request{}, err
	}

	return modem.Request{
		Order:      order,
		Labeling:   labeling,
		CarrierHz:  m.CarrierHz,
		SampleRate: m.SampleRate,
		SymbolRate: m.SymbolRate,
		Symbols:    symbols,
		Noise:      modem.NoiseSpec{Sigma: m.NoiseSigma, Mode: mode},
		Seed:       m.Seed,
	}, nil
}

// Apply configures a logrus logger from the logging settings.
func (l LoggingConfig) Apply(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return errors.Wrap(err, "logging level")
	}
	logger.SetLevel(level)

	switch strings.ToLower(l.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return errors.Errorf("unknown logging format %q", l.Format)
	}
	return nil
}
