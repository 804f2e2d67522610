package session

import (
	"context"
	"sync"
	"sync/atomic"

	"voxchat/internal/voice"
)

type fakeStream struct {
	events  chan voice.RecognitionEvent
	once    sync.Once
	stopped atomic.Bool
	lang    string
}

func newFakeStream(lang string) *fakeStream {
	return &fakeStream{events: make(chan voice.RecognitionEvent, 32), lang: lang}
}

func (f *fakeStream) Events() <-chan voice.RecognitionEvent { return f.events }

func (f *fakeStream) Stop() error {
	f.stopped.Store(true)
	f.end()
	return nil
}

func (f *fakeStream) end() {
	f.once.Do(func() { close(f.events) })
}

func (f *fakeStream) interim(text string) {
	f.events <- voice.RecognitionEvent{Kind: voice.RecognitionInterim, Text: text}
}

func (f *fakeStream) final(text string, speechFinal bool) {
	f.events <- voice.RecognitionEvent{Kind: voice.RecognitionFinal, Text: text, SpeechFinal: speechFinal}
}

func (f *fakeStream) fail(code string) {
	f.events <- voice.RecognitionEvent{Kind: voice.RecognitionError, Code: code}
}

type fakeRecognizer struct {
	mu      sync.Mutex
	streams []*fakeStream
	err     error
}

func (r *fakeRecognizer) Start(_ context.Context, language string) (voice.RecognitionStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	s := newFakeStream(language)
	r.streams = append(r.streams, s)
	return s, nil
}

func (r *fakeRecognizer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

func (r *fakeRecognizer) latest() *fakeStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.streams) == 0 {
		return nil
	}
	return r.streams[len(r.streams)-1]
}

func (r *fakeRecognizer) all() []*fakeStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*fakeStream(nil), r.streams...)
}

type fakeLevelStream struct {
	level  float64
	closed atomic.Bool
}

func (f *fakeLevelStream) Level() float64 { return f.level }

func (f *fakeLevelStream) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeMicrophone struct {
	mu      sync.Mutex
	streams []*fakeLevelStream
	level   float64
	err     error
}

func (m *fakeMicrophone) Open(context.Context) (voice.LevelStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s := &fakeLevelStream{level: m.level}
	m.streams = append(m.streams, s)
	return s, nil
}

func (m *fakeMicrophone) all() []*fakeLevelStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*fakeLevelStream(nil), m.streams...)
}

func (m *fakeMicrophone) openCount() int {
	n := 0
	for _, s := range m.all() {
		if !s.closed.Load() {
			n++
		}
	}
	return n
}

type fakeChat struct {
	mu       sync.Mutex
	requests []voice.ChatRequest
	fn       func(ctx context.Context, req voice.ChatRequest) (voice.ChatReply, error)
}

func (c *fakeChat) Complete(ctx context.Context, req voice.ChatRequest) (voice.ChatReply, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	fn := c.fn
	c.mu.Unlock()

	if fn == nil {
		return voice.ChatReply{Text: "ok"}, nil
	}
	return fn(ctx, req)
}

func (c *fakeChat) last() voice.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[len(c.requests)-1]
}

func (c *fakeChat) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

type fakeSynth struct {
	mu       sync.Mutex
	requests []voice.SynthesisRequest
	fn       func(ctx context.Context, req voice.SynthesisRequest) (voice.Audio, error)
}

func (s *fakeSynth) Synthesize(ctx context.Context, req voice.SynthesisRequest) (voice.Audio, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	fn := s.fn
	s.mu.Unlock()

	if fn == nil {
		return voice.Audio{Data: []byte("RIFFfake"), Format: "wav"}, nil
	}
	return fn(ctx, req)
}

func (s *fakeSynth) last() voice.SynthesisRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

type fakePlayback struct {
	audio   voice.Audio
	done    chan error
	once    sync.Once
	stopped atomic.Bool
	level   float64
}

func (p *fakePlayback) Done() <-chan error { return p.done }

func (p *fakePlayback) Level() float64 { return p.level }

func (p *fakePlayback) Stop() error {
	p.stopped.Store(true)
	p.finish(nil)
	return nil
}

func (p *fakePlayback) finish(err error) {
	p.once.Do(func() { p.done <- err })
}

type fakePlayer struct {
	mu    sync.Mutex
	plays []*fakePlayback
	level float64
	err   error
}

func (p *fakePlayer) Play(_ context.Context, audio voice.Audio) (voice.Playback, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	pb := &fakePlayback{audio: audio, done: make(chan error, 1), level: p.level}
	p.plays = append(p.plays, pb)
	return pb, nil
}

func (p *fakePlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.plays)
}

func (p *fakePlayer) latest() *fakePlayback {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.plays) == 0 {
		return nil
	}
	return p.plays[len(p.plays)-1]
}

type transition struct {
	from, to voice.Status
	reason   string
}

type sessionError struct {
	kind, message string
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []transition
	errors      []sessionError
	turns       []voice.Turn
	levels      []float64
	transcripts [][2]string
}

func (o *recordingObserver) StatusChanged(from, to voice.Status, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, transition{from: from, to: to, reason: reason})
}

func (o *recordingObserver) TranscriptChanged(final, interim string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transcripts = append(o.transcripts, [2]string{final, interim})
}

func (o *recordingObserver) TurnAppended(turn voice.Turn) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.turns = append(o.turns, turn)
}

func (o *recordingObserver) LevelChanged(level float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.levels = append(o.levels, level)
}

func (o *recordingObserver) SessionError(kind, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors = append(o.errors, sessionError{kind: kind, message: message})
}

func (o *recordingObserver) path() []voice.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]voice.Status, 0, len(o.transitions)+1)
	for i, tr := range o.transitions {
		if i == 0 {
			out = append(out, tr.from)
		}
		out = append(out, tr.to)
	}
	return out
}

func (o *recordingObserver) countTo(status voice.Status) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, tr := range o.transitions {
		if tr.to == status {
			n++
		}
	}
	return n
}

func (o *recordingObserver) snapshotErrors() []sessionError {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]sessionError(nil), o.errors...)
}

func (o *recordingObserver) snapshotLevels() []float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]float64(nil), o.levels...)
}

func (o *recordingObserver) lastReason() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.transitions) == 0 {
		return ""
	}
	return o.transitions[len(o.transitions)-1].reason
}

func (o *recordingObserver) lastTo() voice.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.transitions) == 0 {
		return voice.StatusIdle
	}
	return o.transitions[len(o.transitions)-1].to
}
