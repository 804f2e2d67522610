package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voxchat/internal/voice"
	"voxchat/pkg/estimate"
)

type event interface{}

type (
	toggleCmd      struct{}
	stopCmd        struct{}
	interruptCmd   struct{}
	clearCmd       struct{}
	setLanguageCmd struct{ language string }
	setModelCmd    struct{ model string }
	setVoiceCmd    struct{ voice string }
	closeEvent     struct{}

	recognized struct {
		gen uint64
		ev  voice.RecognitionEvent
	}
	recognitionEnded struct{ gen uint64 }
	silenceElapsed   struct{ gen uint64 }
	chatDone         struct {
		epoch   uint64
		reply   voice.ChatReply
		err     error
		elapsed time.Duration
	}
	synthesisDone struct {
		epoch uint64
		audio voice.Audio
		err   error
	}
	playbackEnded struct {
		epoch uint64
		err   error
	}
	resumeDue struct{ epoch uint64 }
)

// Transition reasons reported to observers.
const (
	ReasonActivated    = "activated"
	ReasonDeactivated  = "deactivated"
	ReasonUtterance    = "utterance"
	ReasonSilence      = "silence"
	ReasonReply        = "reply"
	ReasonResumed      = "resumed"
	ReasonInterrupted  = "interrupted"
	ReasonNothingHeard = "nothing_heard"
	ReasonError        = "error"
	ReasonClosed       = "closed"
)

func (s *Session) handle(ev event) error {
	switch e := ev.(type) {
	case toggleCmd:
		return s.onToggle()
	case stopCmd:
		if s.status != voice.StatusListening {
			return ErrNotListening
		}
		s.finishListening(ReasonDeactivated)
	case interruptCmd:
		return s.interrupt()
	case clearCmd:
		s.history = nil
		s.analytics = Analytics{}
	case setLanguageCmd:
		return s.onSetLanguage(e.language)
	case setModelCmd:
		s.model = e.model
	case setVoiceCmd:
		s.voiceName = e.voice
	case closeEvent:
		s.shutdown()
	case recognized:
		s.onRecognized(e.gen, e.ev)
	case recognitionEnded:
		s.onRecognitionEnded(e.gen)
	case silenceElapsed:
		s.onSilence(e.gen)
	case chatDone:
		s.onChatDone(e)
	case synthesisDone:
		s.onSynthesisDone(e)
	case playbackEnded:
		s.onPlaybackEnded(e)
	case resumeDue:
		s.onResume(e.epoch)
	default:
		return fmt.Errorf("unknown session event %T", ev)
	}
	return nil
}

func (s *Session) setStatus(to voice.Status, reason string) {
	from := s.status
	s.status = to
	s.epoch++
	if from != to {
		s.notify(func(o voice.Observer) { o.StatusChanged(from, to, reason) })
	}
}

func (s *Session) onToggle() error {
	switch s.status {
	case voice.StatusIdle:
		return s.startListening(ReasonActivated)
	case voice.StatusListening:
		s.finishListening(ReasonDeactivated)
		return nil
	case voice.StatusSpeaking:
		return s.interrupt()
	default:
		return ErrBusy
	}
}

// startListening opens the microphone and recognition. On failure both are
// released and the session is left idle.
func (s *Session) startListening(reason string) error {
	s.lastErr = ""

	mic, err := s.deps.Microphone.Open(s.ctx)
	if err != nil {
		return s.fail(KindCapability, fmt.Errorf("open microphone: %w", err))
	}
	s.mic = mic

	if err := s.startRecognition(); err != nil {
		kind := KindRecognition
		if errors.Is(err, voice.ErrPermissionDenied) || errors.Is(err, voice.ErrRecognitionUnsupported) {
			kind = KindCapability
		}
		return s.fail(kind, err)
	}

	s.finals = nil
	s.interim = ""
	s.frozen = ""
	s.setStatus(voice.StatusListening, reason)
	s.sampler = startSampler(s.clk, s.opts.SampleInterval, mic, s.publishLevel)

	return nil
}

func (s *Session) startRecognition() error {
	s.recGen++
	gen := s.recGen

	stream, err := s.deps.Recognizer.Start(s.ctx, s.language)
	if err != nil {
		return fmt.Errorf("start recognition: %w", err)
	}
	s.rec = stream

	go func() {
		for ev := range stream.Events() {
			s.post(recognized{gen: gen, ev: ev})
		}
		s.post(recognitionEnded{gen: gen})
	}()

	return nil
}

func (s *Session) stopRecognition() {
	if s.rec == nil {
		return
	}
	s.recGen++
	_ = s.rec.Stop()
	s.rec = nil
}

func (s *Session) onRecognized(gen uint64, ev voice.RecognitionEvent) {
	if gen != s.recGen || s.status != voice.StatusListening {
		return
	}

	switch ev.Kind {
	case voice.RecognitionError:
		if ev.Transient() {
			return
		}
		err := fmt.Errorf("recognition error: %s", ev.Code)
		kind := KindRecognition
		if ev.PermissionDenied() {
			err = fmt.Errorf("%w (%s)", voice.ErrPermissionDenied, ev.Code)
			kind = KindCapability
		}
		s.fail(kind, err)
		return

	case voice.RecognitionInterim:
		s.interim = strings.TrimSpace(ev.Text)

	case voice.RecognitionFinal:
		if text := strings.TrimSpace(ev.Text); text != "" {
			s.finals = append(s.finals, text)
		}
		s.interim = ""
	}

	s.armSilence()
	final, interim := s.transcriptLocked(), s.interim
	s.notify(func(o voice.Observer) { o.TranscriptChanged(final, interim) })

	if ev.Kind == voice.RecognitionFinal && ev.SpeechFinal {
		s.finishListening(ReasonUtterance)
	}
}

// onRecognitionEnded restarts recognition that ended on its own while the
// session still listens. The silence timer keeps running across the restart.
func (s *Session) onRecognitionEnded(gen uint64) {
	if gen != s.recGen || s.status != voice.StatusListening {
		return
	}
	s.rec = nil

	if err := s.startRecognition(); err != nil {
		s.fail(KindRecognition, err)
	}
}

func (s *Session) armSilence() {
	s.stopSilence()
	gen := s.silenceGen
	s.silence = s.clk.AfterFunc(s.opts.SilenceTimeout, func() {
		s.post(silenceElapsed{gen: gen})
	})
}

func (s *Session) stopSilence() {
	s.silenceGen++
	if s.silence != nil {
		s.silence.Stop()
		s.silence = nil
	}
}

func (s *Session) onSilence(gen uint64) {
	if gen != s.silenceGen || s.status != voice.StatusListening {
		return
	}
	s.silence = nil
	if s.pendingText() == "" {
		return
	}
	s.finishListening(ReasonSilence)
}

// pendingText is the finalized text heard so far, or the outstanding interim
// text when nothing was finalized.
func (s *Session) pendingText() string {
	if text := strings.Join(s.finals, " "); text != "" {
		return text
	}
	return s.interim
}

func (s *Session) transcriptLocked() string {
	if s.frozen != "" {
		return s.frozen
	}
	return strings.Join(s.finals, " ")
}

func (s *Session) finishListening(reason string) {
	text := s.pendingText()
	s.releaseCapture()
	s.finals = nil
	s.interim = ""

	if text == "" {
		s.setStatus(voice.StatusIdle, ReasonNothingHeard)
		return
	}

	s.frozen = text
	s.notify(func(o voice.Observer) { o.TranscriptChanged(text, "") })
	s.setStatus(voice.StatusProcessing, reason)
	s.dispatch(text)
}

func (s *Session) dispatch(text string) {
	msgs := make([]voice.Message, 0, len(s.history)+2)
	msgs = append(msgs, voice.Message{Role: voice.RoleSystem, Content: s.opts.SystemPrompt(s.language)})
	for _, t := range s.history {
		msgs = append(msgs, voice.Message{Role: t.Role, Content: t.Content})
	}
	msgs = append(msgs, voice.Message{Role: voice.RoleUser, Content: text})

	req := voice.ChatRequest{
		Messages:          msgs,
		Model:             s.model,
		PreferredLanguage: s.language,
	}

	ctx := s.startInflight()
	epoch := s.epoch
	start := s.clk.Now()
	s.pendingUser = text
	s.pendingAt = start

	go func() {
		reply, err := s.deps.Chat.Complete(ctx, req)
		s.post(chatDone{epoch: epoch, reply: reply, err: err, elapsed: s.clk.Since(start)})
	}()
}

func (s *Session) onChatDone(e chatDone) {
	if e.epoch != s.epoch || s.status != voice.StatusProcessing {
		return
	}
	s.cancelInflight()

	if e.err != nil {
		s.fail(KindChat, e.err)
		return
	}
	reply := strings.TrimSpace(e.reply.Text)
	if reply == "" {
		s.fail(KindChat, ErrEmptyReply)
		return
	}

	latency := e.reply.Latency
	if latency <= 0 {
		latency = e.elapsed
	}

	s.appendTurn(voice.RoleUser, s.pendingUser, s.pendingAt, 0)
	s.appendTurn(voice.RoleAssistant, reply, s.clk.Now(), latency)
	s.pendingUser = ""
	s.frozen = ""

	s.setStatus(voice.StatusSpeaking, ReasonReply)
	s.synthesize(reply)
}

func (s *Session) appendTurn(role voice.Role, content string, at time.Time, latency time.Duration) {
	words, tokens := estimate.Text(content)
	turn := voice.Turn{
		Role:          role,
		Content:       content,
		Timestamp:     at,
		WordCount:     words,
		TokenEstimate: tokens,
		Latency:       latency,
	}
	s.history = append(s.history, turn)
	s.analytics.Add(turn)
	s.notify(func(o voice.Observer) { o.TurnAppended(turn) })
}

func (s *Session) synthesize(text string) {
	req := voice.SynthesisRequest{
		Text:           text,
		Language:       s.language,
		Speed:          s.opts.Speed,
		EnableEmotions: !s.opts.DisableEmotions,
	}
	if s.voiceName != "" {
		name := s.voiceName
		req.Voice = &name
	}

	ctx := s.startInflight()
	epoch := s.epoch

	go func() {
		audio, err := s.deps.Synthesizer.Synthesize(ctx, req)
		s.post(synthesisDone{epoch: epoch, audio: audio, err: err})
	}()
}

func (s *Session) onSynthesisDone(e synthesisDone) {
	if e.epoch != s.epoch || s.status != voice.StatusSpeaking || s.playback != nil {
		return
	}
	s.cancelInflight()

	if e.err != nil {
		s.fail(KindSynthesis, e.err)
		return
	}
	if len(e.audio.Data) == 0 {
		s.fail(KindSynthesis, ErrNoAudio)
		return
	}

	pb, err := s.deps.Player.Play(s.ctx, e.audio)
	if err != nil {
		s.fail(KindPlayback, fmt.Errorf("start playback: %w", err))
		return
	}
	s.playback = pb
	s.sampler = startSampler(s.clk, s.opts.SampleInterval, pb, s.publishLevel)

	epoch := s.epoch
	go func() {
		select {
		case err := <-pb.Done():
			s.post(playbackEnded{epoch: epoch, err: err})
		case <-s.done:
		}
	}()
}

func (s *Session) onPlaybackEnded(e playbackEnded) {
	if e.epoch != s.epoch || s.status != voice.StatusSpeaking || s.playback == nil {
		return
	}
	s.releasePlayback()

	if e.err != nil {
		s.fail(KindPlayback, e.err)
		return
	}

	if s.opts.ResumeDelay == 0 {
		s.startListening(ReasonResumed)
		return
	}
	epoch := s.epoch
	s.resume = s.clk.AfterFunc(s.opts.ResumeDelay, func() {
		s.post(resumeDue{epoch: epoch})
	})
}

func (s *Session) onResume(epoch uint64) {
	if epoch != s.epoch || s.status != voice.StatusSpeaking {
		return
	}
	s.resume = nil
	s.startListening(ReasonResumed)
}

func (s *Session) interrupt() error {
	if s.status != voice.StatusSpeaking {
		return ErrNotSpeaking
	}
	s.releaseAll()
	s.setStatus(voice.StatusIdle, ReasonInterrupted)
	return nil
}

func (s *Session) onSetLanguage(language string) error {
	language = strings.TrimSpace(language)
	if language == "" {
		return errors.New("empty language tag")
	}
	if language == s.language {
		return nil
	}
	s.language = language

	if s.status != voice.StatusListening {
		return nil
	}
	s.stopRecognition()
	if err := s.startRecognition(); err != nil {
		return s.fail(KindRecognition, err)
	}
	return nil
}

// fail releases everything the current state owns, records the error and
// returns the session to idle.
func (s *Session) fail(kind ErrorKind, err error) error {
	serr := &Error{Kind: kind, Err: err}

	s.releaseAll()
	s.finals = nil
	s.interim = ""
	s.frozen = ""
	s.pendingUser = ""
	s.lastErr = serr.Error()

	msg := err.Error()
	s.notify(func(o voice.Observer) { o.SessionError(string(kind), msg) })
	s.setStatus(voice.StatusIdle, ReasonError)

	return serr
}

func (s *Session) startInflight() context.Context {
	s.cancelInflight()
	ctx, cancel := context.WithCancel(s.ctx)
	s.inflight = cancel
	return ctx
}

func (s *Session) cancelInflight() {
	if s.inflight != nil {
		s.inflight()
		s.inflight = nil
	}
}

func (s *Session) stopSampler() {
	if s.sampler != nil {
		s.sampler.Stop()
		s.sampler = nil
	}
	s.level.Store(0)
}

func (s *Session) releaseCapture() {
	s.stopSilence()
	s.stopSampler()
	s.stopRecognition()
	if s.mic != nil {
		_ = s.mic.Close()
		s.mic = nil
	}
}

func (s *Session) releasePlayback() {
	s.stopSampler()
	if s.playback != nil {
		_ = s.playback.Stop()
		s.playback = nil
	}
}

func (s *Session) releaseAll() {
	s.cancelInflight()
	if s.resume != nil {
		s.resume.Stop()
		s.resume = nil
	}
	s.releaseCapture()
	s.releasePlayback()
}

func (s *Session) shutdown() {
	s.releaseAll()
	s.cancel()
	s.setStatus(voice.StatusIdle, ReasonClosed)
}
