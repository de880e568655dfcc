package audio

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const (
	// Headroom is the peak level Play normalizes to.
	Headroom    = 0.8
	NumChannels = 1
)

// Init initializes PortAudio.
func Init() error {
	return portaudio.Initialize()
}

// Terminate cleans up PortAudio.
func Terminate() error {
	return portaudio.Terminate()
}

// Player plays modulated waveforms on the default output device.
type Player struct {
	stream       *portaudio.Stream
	buf          []float32
	sampleRate   float64
	framesPerBuf int
	mu           sync.Mutex
}

// NewPlayer opens the default output stream. Init must have been called.
func NewPlayer(sampleRate float64, framesPerBuf int) (*Player, error) {
	if framesPerBuf <= 0 {
		return nil, fmt.Errorf("frames per buffer %d must be positive", framesPerBuf)
	}

	p := &Player{
		buf:          make([]float32, framesPerBuf),
		sampleRate:   sampleRate,
		framesPerBuf: framesPerBuf,
	}
	stream, err := portaudio.OpenDefaultStream(
		0,           // input channels
		NumChannels, // output channels
		sampleRate,
		framesPerBuf,
		p.buf,
	)
	if err != nil {
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	p.stream = stream
	return p, nil
}

// SampleRate returns the stream rate in Hz.
func (p *Player) SampleRate() float64 {
	return p.sampleRate
}

// Play normalizes samples to Headroom and writes them in framesPerBuf
// chunks, blocking until done or ctx is cancelled.
func (p *Player) Play(ctx context.Context, samples []float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return fmt.Errorf("output stream not opened")
	}
	if err := p.stream.Start(); err != nil {
		return fmt.Errorf("start output: %w", err)
	}

	for _, chunk := range Chunks(Normalize(samples, Headroom), p.framesPerBuf) {
		select {
		case <-ctx.Done():
			p.stream.Stop()
			return ctx.Err()
		default:
		}
		copy(p.buf, chunk)
		if err := p.stream.Write(); err != nil {
			p.stream.Stop()
			return fmt.Errorf("write: %w", err)
		}
	}
	return p.stream.Stop()
}

// Close closes the stream.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}
	err := p.stream.Close()
	p.stream = nil
	return err
}

// Normalize scales samples so the largest magnitude equals peak. Silence
// stays silent.
func Normalize(samples []float64, peak float64) []float32 {
	var in float64
	for _, s := range samples {
		in = math.Max(in, math.Abs(s))
	}

	out := make([]float32, len(samples))
	if in == 0 {
		return out
	}
	gain := peak / in
	for i, s := range samples {
		out[i] = float32(s * gain)
	}
	return out
}

// Chunks splits samples into size-long buffers, zero-padding the last.
func Chunks(samples []float32, size int) [][]float32 {
	var out [][]float32
	for i := 0; i < len(samples); i += size {
		end := i + size
		if end > len(samples) {
			chunk := make([]float32, size)
			copy(chunk, samples[i:])
			out = append(out, chunk)
		} else {
			out = append(out, samples[i:end])
		}
	}
	return out
}
