package audio

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"
)

const SampleRate = 16000

var ErrNoSpeech = errors.New("no speech recorded")

type RecorderConfig struct {
	// Frame RMS above which a frame counts as speech.
	SilenceRMS float64
	// Silence after speech that ends the capture.
	SilenceHold time.Duration
	MaxLength   time.Duration
}

func (c RecorderConfig) withDefaults() RecorderConfig {
	if c.SilenceRMS <= 0 {
		c.SilenceRMS = 0.015
	}
	if c.SilenceHold <= 0 {
		c.SilenceHold = 600 * time.Millisecond
	}
	if c.MaxLength <= 0 {
		c.MaxLength = 10 * time.Second
	}
	return c
}

// Recorder captures one utterance at a time from the default input device.
type Recorder struct {
	cfg RecorderConfig
}

func NewRecorder(cfg RecorderConfig) *Recorder {
	return &Recorder{cfg: cfg.withDefaults()}
}

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

// Record blocks until the speaker goes quiet, MaxLength is reached or ctx is
// done. The result is mono 16 kHz PCM.
func (r *Recorder) Record(ctx context.Context) ([]float32, error) {
	const frameSize = SampleRate / 50 // 20ms

	buf := make([]float32, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, SampleRate, len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	gate := newSpeechGate(r.cfg, frameSize)
	for !gate.done() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := stream.Read(); err != nil {
			return nil, err
		}
		gate.push(buf)
	}

	if len(gate.out) == 0 {
		return nil, ErrNoSpeech
	}
	return gate.out, nil
}

// speechGate keeps frames from the first loud one until SilenceHold of
// quiet, or until MaxLength worth of frames have been read.
type speechGate struct {
	threshold  float64
	holdFrames int
	maxFrames  int

	read     int
	speaking bool
	quiet    int
	out      []float32
}

func newSpeechGate(cfg RecorderConfig, frameSize int) *speechGate {
	frame := time.Duration(frameSize) * time.Second / SampleRate
	return &speechGate{
		threshold:  cfg.SilenceRMS,
		holdFrames: max(int(cfg.SilenceHold/frame), 1),
		maxFrames:  int(cfg.MaxLength / frame),
		out:        make([]float32, 0, 3*SampleRate),
	}
}

func (g *speechGate) push(frame []float32) {
	g.read++

	if rms(frame) > g.threshold {
		g.speaking = true
		g.quiet = 0
		g.out = append(g.out, frame...)
		return
	}
	if g.speaking {
		g.quiet++
		if g.quiet < g.holdFrames {
			g.out = append(g.out, frame...)
		}
	}
}

func (g *speechGate) done() bool {
	return g.read >= g.maxFrames || (g.speaking && g.quiet >= g.holdFrames)
}

func rms(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s / float64(len(f)))
}
