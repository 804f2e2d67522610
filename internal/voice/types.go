package voice

import (
	"errors"
	"time"
)

// Status is the authoritative state of a voice session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusListening  Status = "listening"
	StatusProcessing Status = "processing"
	StatusSpeaking   Status = "speaking"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat completion request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Turn is an immutable conversation history entry.
type Turn struct {
	Role          Role
	Content       string
	Timestamp     time.Time
	WordCount     int
	TokenEstimate int
	Latency       time.Duration // assistant turns only
}

type RecognitionKind string

const (
	RecognitionInterim RecognitionKind = "interim"
	RecognitionFinal   RecognitionKind = "final"
	RecognitionError   RecognitionKind = "error"
)

// Recognition error codes shared by recognizer implementations.
const (
	CodeNoSpeech          = "no-speech"
	CodeAborted           = "aborted"
	CodeNotAllowed        = "not-allowed"
	CodeServiceNotAllowed = "service-not-allowed"
	CodeAudioCapture      = "audio-capture"
	CodeNetwork           = "network"
)

// RecognitionEvent is one incremental result from a speech recognizer.
type RecognitionEvent struct {
	Kind RecognitionKind
	Text string
	// SpeechFinal marks a final result that also ends the utterance.
	SpeechFinal bool
	Code        string
}

// Transient reports whether a recognition error can be ignored.
func (e RecognitionEvent) Transient() bool {
	return e.Kind == RecognitionError && (e.Code == CodeNoSpeech || e.Code == CodeAborted)
}

// PermissionDenied reports whether a recognition error means the microphone
// or the recognition service was refused.
func (e RecognitionEvent) PermissionDenied() bool {
	return e.Kind == RecognitionError && (e.Code == CodeNotAllowed || e.Code == CodeServiceNotAllowed)
}

type ChatRequest struct {
	Messages          []Message `json:"messages"`
	Model             string    `json:"model"`
	PreferredLanguage string    `json:"preferred_language"`
}

// ChatReply carries the assistant text. Latency is the time to the first
// response byte when the client can measure it, zero otherwise.
type ChatReply struct {
	Text    string
	Latency time.Duration
}

type SynthesisRequest struct {
	Text           string  `json:"text"`
	Language       string  `json:"language"`
	Voice          *string `json:"voice"`
	Speed          float64 `json:"speed"`
	EnableEmotions bool    `json:"enable_emotions"`
}

// Audio is an encoded audio payload, e.g. mp3 or wav bytes.
type Audio struct {
	Data   []byte
	Format string
}

var (
	ErrPermissionDenied       = errors.New("microphone permission denied")
	ErrRecognitionUnsupported = errors.New("speech recognition not supported")
	ErrDeviceUnavailable      = errors.New("audio device unavailable")
)
