package voice

import "context"

// RecognitionStream is a running recognition session. Events is closed when
// recognition ends for any reason.
type RecognitionStream interface {
	Events() <-chan RecognitionEvent
	Stop() error
}

// Recognizer starts continuous speech recognition for a locale tag.
type Recognizer interface {
	Start(ctx context.Context, language string) (RecognitionStream, error)
}

// LevelStream is an open microphone stream exposing its input level in 0..1.
type LevelStream interface {
	Level() float64
	Close() error
}

type Microphone interface {
	Open(ctx context.Context) (LevelStream, error)
}

type Chat interface {
	Complete(ctx context.Context, req ChatRequest) (ChatReply, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (Audio, error)
}

// Playback is the single in-flight playback resource. Done receives exactly
// one value: nil on natural end, the failure otherwise. Stop halts playback
// immediately and is safe to call more than once.
type Playback interface {
	Done() <-chan error
	Level() float64
	Stop() error
}

type Player interface {
	Play(ctx context.Context, audio Audio) (Playback, error)
}

// Observer receives session events. Calls are made from the session's event
// loop, never concurrently with each other, except LevelChanged which comes
// from the level sampler.
type Observer interface {
	StatusChanged(from, to Status, reason string)
	TranscriptChanged(final, interim string)
	TurnAppended(turn Turn)
	LevelChanged(level float64)
	SessionError(kind, message string)
}

// NopObserver can be embedded to implement only part of Observer.
type NopObserver struct{}

func (NopObserver) StatusChanged(Status, Status, string) {}
func (NopObserver) TranscriptChanged(string, string)     {}
func (NopObserver) TurnAppended(Turn)                    {}
func (NopObserver) LevelChanged(float64)                 {}
func (NopObserver) SessionError(string, string)          {}

// Observers fans events out to every member.
type Observers []Observer

func (o Observers) StatusChanged(from, to Status, reason string) {
	for _, ob := range o {
		ob.StatusChanged(from, to, reason)
	}
}

func (o Observers) TranscriptChanged(final, interim string) {
	for _, ob := range o {
		ob.TranscriptChanged(final, interim)
	}
}

func (o Observers) TurnAppended(turn Turn) {
	for _, ob := range o {
		ob.TurnAppended(turn)
	}
}

func (o Observers) LevelChanged(level float64) {
	for _, ob := range o {
		ob.LevelChanged(level)
	}
}

func (o Observers) SessionError(kind, message string) {
	for _, ob := range o {
		ob.SessionError(kind, message)
	}
}

// FrameStream delivers mono PCM frames. The channel closes when the stream is
// closed or the device fails; Err reports the failure, if any.
type FrameStream interface {
	Frames() <-chan []float32
	Err() error
	Close() error
}

// FrameSource opens raw capture for recognizers.
type FrameSource interface {
	OpenFrames(ctx context.Context) (FrameStream, error)
	SampleRate() int
}
