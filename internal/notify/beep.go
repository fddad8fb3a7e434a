// Package notify plays the listening chime and raises desktop
// notifications.
package notify

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

// Chime plays a short mp3 through the speaker.
type Chime struct {
	path string

	mu     sync.Mutex
	inited bool
	rate   beep.SampleRate
}

func NewChime(path string) (*Chime, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("chime: %w", err)
	}
	return &Chime{path: path}, nil
}

// Play blocks until the chime has finished or ctx is done.
func (c *Chime) Play(ctx context.Context) error {
	f, err := os.Open(c.path)
	if err != nil {
		return err
	}

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("decode %s: %w", c.path, err)
	}
	defer streamer.Close()

	c.mu.Lock()
	if !c.inited {
		if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("speaker init: %w", err)
		}
		c.inited = true
		c.rate = format.SampleRate
	}
	rate := c.rate
	c.mu.Unlock()

	var s beep.Streamer = streamer
	if format.SampleRate != rate {
		s = beep.Resample(4, format.SampleRate, rate, streamer)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() { close(done) })))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

// Desktop shows a notification with notify-send.
func Desktop(ctx context.Context, summary, body string) error {
	args := []string{"--app-name=companion", "--expire-time=3000", summary}
	if body != "" {
		args = append(args, body)
	}
	if err := exec.CommandContext(ctx, "notify-send", args...).Run(); err != nil {
		return fmt.Errorf("notify-send: %w", err)
	}
	return nil
}
