package audio

import (
	"context"
	"fmt"
	log "log/slog"
	"math"
	"sync"
	"sync/atomic"

	"voxchat/internal/voice"
	"voxchat/pkg/audioconv"
)

const (
	DefaultPlaybackRate  = 24000
	DefaultPlaybackFrame = 480 // 20ms at 24kHz
)

// Player decodes synthesized audio and plays it on the default output.
type Player struct {
	rate      int
	frameSize int
	open      func(buf []float32, rate float64) (outputStream, error)
}

func NewPlayer(sampleRate, frameSize int) *Player {
	if sampleRate <= 0 {
		sampleRate = DefaultPlaybackRate
	}
	if frameSize <= 0 {
		frameSize = DefaultPlaybackFrame
	}
	return &Player{rate: sampleRate, frameSize: frameSize, open: openPortaudioOutput}
}

// Play starts playback and returns immediately.
func (p *Player) Play(ctx context.Context, a voice.Audio) (voice.Playback, error) {
	pcm, err := audioconv.Decode(a.Data, a.Format, audioconv.Options{SampleRate: p.rate})
	if err != nil {
		return nil, fmt.Errorf("decode reply audio: %w", err)
	}

	buf := make([]float32, p.frameSize)
	s, err := p.open(buf, float64(p.rate))
	if err != nil {
		return nil, err
	}
	if err := s.Start(); err != nil {
		_ = s.Close()
		return nil, deviceError(err)
	}

	pb := &playback{
		done:   make(chan error, 1),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go pb.run(ctx, s, buf, pcm)

	log.Debug("Playback started", "samples", len(pcm), "rate", p.rate)
	return pb, nil
}

type playback struct {
	done     chan error
	stop     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
	level    atomic.Uint64
}

func (pb *playback) run(ctx context.Context, s outputStream, buf, pcm []float32) {
	defer close(pb.exited)

	err := pb.write(ctx, s, buf, pcm)
	pb.level.Store(0)

	if stopErr := s.Stop(); err == nil && stopErr != nil {
		err = fmt.Errorf("stop output: %w", stopErr)
	}
	_ = s.Close()

	pb.done <- err
}

func (pb *playback) write(ctx context.Context, s outputStream, buf, pcm []float32) error {
	for pos := 0; pos < len(pcm); pos += len(buf) {
		select {
		case <-pb.stop:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		n := copy(buf, pcm[pos:])
		clear(buf[n:])
		pb.level.Store(math.Float64bits(Level(buf[:n])))

		if err := s.Write(); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
	return nil
}

func (pb *playback) Done() <-chan error { return pb.done }

func (pb *playback) Level() float64 { return math.Float64frombits(pb.level.Load()) }

// Stop halts playback within one frame and waits for the device to close.
func (pb *playback) Stop() error {
	pb.stopOnce.Do(func() { close(pb.stop) })
	<-pb.exited
	return nil
}
