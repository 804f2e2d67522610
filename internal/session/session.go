package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"voxchat/internal/voice"
)

// Deps are the collaborators a session drives. Observer and Clock are
// optional.
type Deps struct {
	Recognizer  voice.Recognizer
	Microphone  voice.Microphone
	Chat        voice.Chat
	Synthesizer voice.Synthesizer
	Player      voice.Player
	Observer    voice.Observer
	Clock       clock.Clock
}

type Options struct {
	Model    string
	Language string
	Voice    string // empty selects the synthesizer's default

	SilenceTimeout time.Duration
	ResumeDelay    time.Duration // negative resumes immediately
	SampleInterval time.Duration

	Speed           float64
	DisableEmotions bool

	SystemPrompt func(language string) string
}

const (
	DefaultSilenceTimeout = 3 * time.Second
	DefaultResumeDelay    = 500 * time.Millisecond
	DefaultSampleInterval = time.Second / 60
	DefaultLanguage       = "en-US"
)

func (o Options) withDefaults() Options {
	if o.SilenceTimeout <= 0 {
		o.SilenceTimeout = DefaultSilenceTimeout
	}
	switch {
	case o.ResumeDelay == 0:
		o.ResumeDelay = DefaultResumeDelay
	case o.ResumeDelay < 0:
		o.ResumeDelay = 0
	}
	if o.SampleInterval <= 0 {
		o.SampleInterval = DefaultSampleInterval
	}
	if o.Speed <= 0 {
		o.Speed = 1.0
	}
	if o.Language == "" {
		o.Language = DefaultLanguage
	}
	if o.SystemPrompt == nil {
		o.SystemPrompt = SystemPrompt
	}
	return o
}

// Snapshot is a copy of the session state.
type Snapshot struct {
	ID        string
	StartedAt time.Time

	Status            voice.Status
	Transcript        string
	InterimTranscript string
	History           []voice.Turn
	Analytics         Analytics

	Model    string
	Language string
	Voice    string

	LastError string
	Level     float64

	Recognizing    bool
	MicrophoneOpen bool
	Playing        bool
}

// Session is a single voice conversation. All state transitions run on one
// event-loop goroutine; public methods post commands to it and wait for the
// result.
type Session struct {
	deps Deps
	opts Options
	clk  clock.Clock
	obs  voice.Observer

	id        string
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	events    chan envelope
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	level atomic.Uint64

	mu        sync.RWMutex
	status    voice.Status
	finals    []string
	interim   string
	frozen    string
	history   []voice.Turn
	analytics Analytics
	model     string
	language  string
	voiceName string
	lastErr   string

	// Owned by the event loop.
	epoch       uint64
	rec         voice.RecognitionStream
	recGen      uint64
	mic         voice.LevelStream
	playback    voice.Playback
	sampler     *sampler
	silence     *clock.Timer
	silenceGen  uint64
	resume      *clock.Timer
	inflight    context.CancelFunc
	pendingUser string
	pendingAt   time.Time
	notes       []func(voice.Observer)
}

var errMissingDependency = errors.New("missing session dependency")

// Open creates a session in the idle state and starts its event loop.
func Open(ctx context.Context, deps Deps, opts Options) (*Session, error) {
	if deps.Recognizer == nil {
		return nil, voice.ErrRecognitionUnsupported
	}
	if deps.Microphone == nil || deps.Chat == nil || deps.Synthesizer == nil || deps.Player == nil {
		return nil, errMissingDependency
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Observer == nil {
		deps.Observer = voice.NopObserver{}
	}

	opts = opts.withDefaults()
	sctx, cancel := context.WithCancel(ctx)

	s := &Session{
		deps:      deps,
		opts:      opts,
		clk:       deps.Clock,
		obs:       deps.Observer,
		id:        uuid.NewString(),
		startedAt: deps.Clock.Now(),
		ctx:       sctx,
		cancel:    cancel,
		events:    make(chan envelope, 64),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		status:    voice.StatusIdle,
		model:     opts.Model,
		language:  opts.Language,
		voiceName: opts.Voice,
	}

	go s.run()

	return s, nil
}

// Toggle is the microphone control: it starts listening from idle, ends the
// utterance while listening and interrupts playback while speaking.
func (s *Session) Toggle() error {
	return s.call(toggleCmd{})
}

// StopListening ends the current utterance and dispatches what was heard.
func (s *Session) StopListening() error {
	return s.call(stopCmd{})
}

// Interrupt stops playback and returns to idle.
func (s *Session) Interrupt() error {
	return s.call(interruptCmd{})
}

// ClearConversation drops the history and resets analytics.
func (s *Session) ClearConversation() error {
	return s.call(clearCmd{})
}

// SetLanguage changes the recognition and reply language. Recognition is
// restarted when the session is listening.
func (s *Session) SetLanguage(language string) error {
	return s.call(setLanguageCmd{language: language})
}

func (s *Session) SetModel(model string) error {
	return s.call(setModelCmd{model: model})
}

func (s *Session) SetVoice(name string) error {
	return s.call(setVoiceCmd{voice: name})
}

// Close releases every resource and stops the event loop. Results of calls
// still in flight are discarded. Close is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
	})
	<-s.done
	return nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Status() voice.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		ID:                s.id,
		StartedAt:         s.startedAt,
		Status:            s.status,
		Transcript:        s.transcriptLocked(),
		InterimTranscript: s.interim,
		History:           append([]voice.Turn(nil), s.history...),
		Analytics:         s.analytics,
		Model:             s.model,
		Language:          s.language,
		Voice:             s.voiceName,
		LastError:         s.lastErr,
		Level:             math.Float64frombits(s.level.Load()),
		Recognizing:       s.rec != nil,
		MicrophoneOpen:    s.mic != nil,
		Playing:           s.playback != nil,
	}
}

type envelope struct {
	ev    event
	reply chan error
}

func (s *Session) run() {
	defer close(s.done)

	for {
		select {
		case env := <-s.events:
			err := s.apply(env.ev)
			if env.reply != nil {
				env.reply <- err
			}
		case <-s.closing:
			s.apply(closeEvent{})
			return
		}
	}
}

func (s *Session) apply(ev event) error {
	s.mu.Lock()
	err := s.handle(ev)
	notes := s.notes
	s.notes = nil
	s.mu.Unlock()

	for _, n := range notes {
		n(s.obs)
	}
	return err
}

func (s *Session) call(ev event) error {
	reply := make(chan error, 1)

	select {
	case s.events <- envelope{ev: ev, reply: reply}:
	case <-s.closing:
		return ErrClosed
	case <-s.done:
		return ErrClosed
	}

	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrClosed
	}
}

// post delivers an asynchronous result to the event loop.
func (s *Session) post(ev event) {
	select {
	case s.events <- envelope{ev: ev}:
	case <-s.done:
	}
}

func (s *Session) notify(n func(voice.Observer)) {
	s.notes = append(s.notes, n)
}

func (s *Session) publishLevel(v float64) {
	s.level.Store(math.Float64bits(v))
	s.obs.LevelChanged(v)
}
