// Package notify gives audible and desktop feedback about the session.
package notify

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

// Cue is a short mp3 played when the assistant starts listening.
type Cue struct {
	data []byte

	initOnce sync.Once
	initErr  error
}

func NewCue(path string) (*Cue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cue: %w", err)
	}
	c := &Cue{data: data}

	// Decode once up front so a broken file fails at startup.
	s, _, err := c.decode()
	if err != nil {
		return nil, err
	}
	_ = s.Close()
	return c, nil
}

func (c *Cue) decode() (beep.StreamSeekCloser, beep.Format, error) {
	s, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(c.data)))
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("decode cue: %w", err)
	}
	return s, format, nil
}

// Play starts the cue and returns without waiting for it to finish.
func (c *Cue) Play() error {
	streamer, format, err := c.decode()
	if err != nil {
		return err
	}

	c.initOnce.Do(func() {
		c.initErr = speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10))
	})
	if c.initErr != nil {
		_ = streamer.Close()
		return fmt.Errorf("init speaker: %w", c.initErr)
	}

	speaker.Play(beep.Seq(streamer, beep.Callback(func() {
		_ = streamer.Close()
	})))
	return nil
}
