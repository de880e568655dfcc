package audio

import (
	"fmt"
	"io"

	"github.com/gordonklaus/portaudio"
)

// DeviceInfo holds audio device information.
type DeviceInfo struct {
	Name              string  `json:"name"`
	MaxOutputChannels int     `json:"max_output_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
	IsDefault         bool    `json:"is_default"`
}

// ListDevices returns the devices that can play audio.
func ListDevices() ([]DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var defaultOutName string
	if d, err := portaudio.DefaultOutputDevice(); err == nil {
		defaultOutName = d.Name
	}

	var result []DeviceInfo
	for _, d := range devices {
		if d.MaxOutputChannels == 0 {
			continue
		}
		result = append(result, DeviceInfo{
			Name:              d.Name,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			IsDefault:         d.Name == defaultOutName,
		})
	}
	return result, nil
}

// HasOutputDevice returns true if a default output device is available.
func HasOutputDevice() bool {
	_, err := portaudio.DefaultOutputDevice()
	return err == nil
}

// CheckRate reports whether the default output device accepts a mono
// float32 stream at rate. Teaching rates such as 1 kHz are often refused.
func CheckRate(rate float64) error {
	dev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return fmt.Errorf("default output device: %w", err)
	}
	p := portaudio.LowLatencyParameters(nil, dev)
	p.Output.Channels = NumChannels
	p.SampleRate = rate
	if err := portaudio.IsFormatSupported(p, make([]float32, 1)); err != nil {
		return fmt.Errorf("%s does not support %.0f Hz (default %.0f Hz): %w",
			dev.Name, rate, dev.DefaultSampleRate, err)
	}
	return nil
}

// PrintDevices writes the output devices to w.
func PrintDevices(w io.Writer) error {
	devices, err := ListDevices()
	if err != nil {
		return err
	}
	FormatDevices(w, devices)
	if !HasOutputDevice() {
		fmt.Fprintln(w, "\n  WARNING: No default output device. Playback unavailable.")
	}
	return nil
}

// FormatDevices renders a device table.
func FormatDevices(w io.Writer, devices []DeviceInfo) {
	fmt.Fprintln(w, "Audio Devices:")
	if len(devices) == 0 {
		fmt.Fprintln(w, "  (no devices found)")
		return
	}
	for i, d := range devices {
		defaultStr := ""
		if d.IsDefault {
			defaultStr = " [DEFAULT]"
		}
		fmt.Fprintf(w, "  %d: %s (out:%d rate:%.0f)%s\n",
			i, d.Name, d.MaxOutputChannels, d.DefaultSampleRate, defaultStr)
	}
}
