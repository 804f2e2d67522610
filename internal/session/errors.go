package session

import "errors"

// ErrorKind classifies failures surfaced to the user.
type ErrorKind string

const (
	KindCapability  ErrorKind = "capability"
	KindRecognition ErrorKind = "recognition"
	KindChat        ErrorKind = "chat"
	KindSynthesis   ErrorKind = "synthesis"
	KindPlayback    ErrorKind = "playback"
)

// Error is a failure that returned the session to idle.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	ErrClosed       = errors.New("session closed")
	ErrBusy         = errors.New("session is processing a turn")
	ErrNotListening = errors.New("session is not listening")
	ErrNotSpeaking  = errors.New("session is not speaking")
	ErrEmptyReply   = errors.New("chat service returned an empty reply")
	ErrNoAudio      = errors.New("synthesis returned no audio")
)
