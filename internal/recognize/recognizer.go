// Package recognize implements continuous speech recognition on top of a
// local whisper model. Speech is segmented with an energy gate; ongoing
// speech is transcribed periodically for interim results and each finished
// segment once more for its final text.
package recognize

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"voxchat/internal/voice"
	"voxchat/pkg/audioconv"
	"voxchat/pkg/stt"
)

// CodeTranscriber marks an error event caused by the transcription backend.
const CodeTranscriber = "transcriber"

// Transcriber turns 16 kHz mono PCM into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []float32, language string) (string, error)
}

// Whisper adapts stt.Transcriber.
type Whisper struct {
	T       *stt.Transcriber
	Options stt.Options
}

func (w Whisper) Transcribe(ctx context.Context, pcm []float32, language string) (string, error) {
	opt := w.Options
	opt.Language = stt.LanguageCode(language)
	res, err := w.T.TranscribePCM(ctx, pcm, opt)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

type Config struct {
	// StartThreshold is the frame RMS that opens a segment, StopThreshold
	// the level below which a frame counts as silence.
	StartThreshold float64
	StopThreshold  float64
	Hangover       time.Duration // trailing silence that closes a segment
	MinSpeech      time.Duration // shorter segments are discarded
	MaxSegment     time.Duration
	InterimEvery   time.Duration // 0 disables interim results

	// EndOfSpeech marks each final as the end of the utterance.
	EndOfSpeech bool
}

var DefaultConfig = Config{
	StartThreshold: 0.02,
	StopThreshold:  0.012,
	Hangover:       700 * time.Millisecond,
	MinSpeech:      250 * time.Millisecond,
	MaxSegment:     20 * time.Second,
	InterimEvery:   time.Second,
}

type Recognizer struct {
	src voice.FrameSource
	tr  Transcriber
	cfg Config
}

func New(src voice.FrameSource, tr Transcriber, cfg Config) *Recognizer {
	if cfg.StopThreshold <= 0 || cfg.StopThreshold > cfg.StartThreshold {
		cfg.StopThreshold = cfg.StartThreshold
	}
	if cfg.MaxSegment <= 0 {
		cfg.MaxSegment = DefaultConfig.MaxSegment
	}
	return &Recognizer{src: src, tr: tr, cfg: cfg}
}

func (r *Recognizer) Start(ctx context.Context, language string) (voice.RecognitionStream, error) {
	frames, err := r.src.OpenFrames(ctx)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &stream{
		events:      make(chan voice.RecognitionEvent, 16),
		frames:      frames,
		cancel:      cancel,
		language:    language,
		endOfSpeech: r.cfg.EndOfSpeech,
	}

	jobs := make(chan job, 4)
	go s.segment(ctx, r.cfg, r.src.SampleRate(), jobs)
	go s.transcribe(ctx, r.tr, jobs)

	log.Debug("Recognition started", "language", language)
	return s, nil
}

type jobKind int

const (
	jobInterim jobKind = iota
	jobFinal
	jobError
)

type job struct {
	kind jobKind
	pcm  []float32
	code string
}

type stream struct {
	events      chan voice.RecognitionEvent
	frames      voice.FrameStream
	cancel      context.CancelFunc
	language    string
	endOfSpeech bool
	stopOnce    sync.Once
}

func (s *stream) Events() <-chan voice.RecognitionEvent { return s.events }

// Stop does not wait for an in-flight transcription; Events closes once it
// returns.
func (s *stream) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.cancel()
		err = s.frames.Close()
	})
	return err
}

func samples(d time.Duration) int {
	return int(d.Seconds() * stt.SampleRate)
}

func (s *stream) segment(ctx context.Context, cfg Config, rate int, jobs chan<- job) {
	defer close(jobs)

	var (
		seg          []float32
		speaking     bool
		silent       int
		sinceInterim int

		hangover     = samples(cfg.Hangover)
		minSpeech    = samples(cfg.MinSpeech)
		maxSegment   = samples(cfg.MaxSegment)
		interimEvery = samples(cfg.InterimEvery)
	)

	for {
		var frame []float32
		select {
		case <-ctx.Done():
			return
		case f, ok := <-s.frames.Frames():
			if !ok {
				if err := s.frames.Err(); err != nil && ctx.Err() == nil {
					code := voice.CodeAudioCapture
					if errors.Is(err, voice.ErrPermissionDenied) {
						code = voice.CodeNotAllowed
					}
					log.Warn("Capture ended", "err", err)
					select {
					case jobs <- job{kind: jobError, code: code}:
					case <-ctx.Done():
					}
				}
				return
			}
			frame = f
		}

		if rate != stt.SampleRate {
			frame = audioconv.Resample(frame, rate, stt.SampleRate)
		}
		rms := audioconv.RMS(frame)

		if !speaking {
			if rms < cfg.StartThreshold {
				continue
			}
			speaking = true
			seg, silent, sinceInterim = nil, 0, 0
		}

		seg = append(seg, frame...)
		sinceInterim += len(frame)
		if rms < cfg.StopThreshold {
			silent += len(frame)
		} else {
			silent = 0
		}

		switch {
		case silent >= hangover || len(seg) >= maxSegment:
			speaking = false
			if len(seg)-silent < minSpeech {
				continue
			}
			select {
			case jobs <- job{kind: jobFinal, pcm: seg}:
			case <-ctx.Done():
				return
			}
			seg = nil

		case interimEvery > 0 && sinceInterim >= interimEvery:
			sinceInterim = 0
			select {
			case jobs <- job{kind: jobInterim, pcm: append([]float32(nil), seg...)}:
			default:
				// Transcriber is behind; the next interim or the final catches up.
			}
		}
	}
}

func (s *stream) transcribe(ctx context.Context, tr Transcriber, jobs <-chan job) {
	defer close(s.events)

	for j := range jobs {
		var ev voice.RecognitionEvent
		switch j.kind {
		case jobError:
			ev = voice.RecognitionEvent{Kind: voice.RecognitionError, Code: j.code}

		default:
			text, err := tr.Transcribe(ctx, j.pcm, s.language)
			if ctx.Err() != nil {
				continue
			}
			if err != nil {
				log.Error("Transcription failed", "err", err)
				ev = voice.RecognitionEvent{Kind: voice.RecognitionError, Code: CodeTranscriber}
				break
			}
			text = cleanTranscript(text)
			if text == "" {
				continue
			}
			ev = voice.RecognitionEvent{Kind: voice.RecognitionInterim, Text: text}
			if j.kind == jobFinal {
				ev.Kind = voice.RecognitionFinal
				ev.SpeechFinal = s.endOfSpeech
			}
		}

		select {
		case s.events <- ev:
		case <-ctx.Done():
		}
	}
}

// annotationRe matches whisper's non-speech markers such as [BLANK_AUDIO] or
// (music).
var annotationRe = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)|\*[^*]*\*`)

func cleanTranscript(text string) string {
	text = annotationRe.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(text), " ")
}
