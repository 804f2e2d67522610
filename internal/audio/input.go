package audio

import (
	"context"
	log "log/slog"
	"math"
	"sync"
	"sync/atomic"

	"voxchat/internal/voice"
)

const (
	DefaultSampleRate = 16000
	DefaultFrameSize  = 320 // 20ms at 16kHz
)

// Input shares one capture stream between every open level stream and frame
// stream. The device is opened by the first subscriber and released with
// the last.
type Input struct {
	rate      int
	frameSize int
	open      func(buf []float32, rate float64) (inputStream, error)

	mu    sync.Mutex
	subs  map[*subscriber]struct{}
	cur   *capture
	level atomic.Uint64
}

type capture struct {
	stream inputStream
	stop   chan struct{}
	done   chan struct{}
}

type subscriber struct {
	in     *Input
	frames chan []float32
	once   sync.Once
	err    atomic.Pointer[error]
}

func NewInput(sampleRate, frameSize int) *Input {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	return &Input{
		rate:      sampleRate,
		frameSize: frameSize,
		open:      openPortaudioInput,
		subs:      make(map[*subscriber]struct{}),
	}
}

func (in *Input) SampleRate() int { return in.rate }

// Open implements voice.Microphone.
func (in *Input) Open(ctx context.Context) (voice.LevelStream, error) {
	sub, err := in.subscribe(ctx, false)
	if err != nil {
		return nil, err
	}
	return levelStream{sub}, nil
}

// OpenFrames implements voice.FrameSource.
func (in *Input) OpenFrames(ctx context.Context) (voice.FrameStream, error) {
	sub, err := in.subscribe(ctx, true)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (in *Input) subscribe(ctx context.Context, wantFrames bool) (*subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if in.cur == nil {
		buf := make([]float32, in.frameSize)
		s, err := in.open(buf, float64(in.rate))
		if err != nil {
			return nil, err
		}
		if err := s.Start(); err != nil {
			_ = s.Close()
			return nil, deviceError(err)
		}
		c := &capture{stream: s, stop: make(chan struct{}), done: make(chan struct{})}
		in.cur = c
		go in.loop(c, buf)
		log.Debug("Capture started", "rate", in.rate, "frame", in.frameSize)
	}

	sub := &subscriber{in: in}
	if wantFrames {
		sub.frames = make(chan []float32, 64)
	}
	in.subs[sub] = struct{}{}
	return sub, nil
}

func (in *Input) loop(c *capture, buf []float32) {
	defer close(c.done)

	for {
		select {
		case <-c.stop:
			return
		default:
		}

		if err := c.stream.Read(); err != nil {
			in.fail(c, err)
			return
		}

		frame := append([]float32(nil), buf...)
		in.level.Store(math.Float64bits(Level(frame)))

		in.mu.Lock()
		for sub := range in.subs {
			if sub.frames == nil {
				continue
			}
			select {
			case sub.frames <- frame:
			default:
				// Slow consumer; drop the frame rather than stall capture.
			}
		}
		in.mu.Unlock()
	}
}

func (in *Input) fail(c *capture, err error) {
	in.mu.Lock()
	owned := in.cur == c
	if owned {
		in.cur = nil
		in.level.Store(0)
		for sub := range in.subs {
			sub.closeWith(err)
			delete(in.subs, sub)
		}
	}
	in.mu.Unlock()

	if owned {
		log.Warn("Capture failed", "err", err)
		_ = c.stream.Stop()
		_ = c.stream.Close()
	}
}

func (in *Input) unsubscribe(sub *subscriber) {
	in.mu.Lock()
	if _, ok := in.subs[sub]; !ok {
		in.mu.Unlock()
		return
	}
	delete(in.subs, sub)
	sub.closeWith(nil)

	var c *capture
	if len(in.subs) == 0 && in.cur != nil {
		c = in.cur
		in.cur = nil
		in.level.Store(0)
	}
	in.mu.Unlock()

	if c == nil {
		return
	}
	close(c.stop)
	<-c.done

	in.mu.Lock()
	if in.cur == nil {
		in.level.Store(0)
	}
	in.mu.Unlock()

	_ = c.stream.Stop()
	_ = c.stream.Close()
	log.Debug("Capture released")
}

// closeWith must be called with in.mu held.
func (s *subscriber) closeWith(err error) {
	s.once.Do(func() {
		if err != nil {
			s.err.Store(&err)
		}
		if s.frames != nil {
			close(s.frames)
		}
	})
}

func (s *subscriber) Frames() <-chan []float32 { return s.frames }

func (s *subscriber) Err() error {
	if p := s.err.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *subscriber) Close() error {
	s.in.unsubscribe(s)
	return nil
}

type levelStream struct {
	*subscriber
}

func (l levelStream) Level() float64 {
	if l.Err() != nil {
		return 0
	}
	return math.Float64frombits(l.in.level.Load())
}
