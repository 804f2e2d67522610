package session

import (
	log "log/slog"

	"voxchat/internal/voice"
)

// LogObserver writes session events to the default slog logger. Levels are
// not logged.
type LogObserver struct {
	voice.NopObserver
}

func (LogObserver) StatusChanged(from, to voice.Status, reason string) {
	log.Info("Voice status", "from", from, "to", to, "reason", reason)
}

func (LogObserver) TranscriptChanged(final, interim string) {
	log.Debug("Transcript", "final", final, "interim", interim)
}

func (LogObserver) TurnAppended(turn voice.Turn) {
	log.Info("Turn",
		"role", turn.Role,
		"words", turn.WordCount,
		"tokens", turn.TokenEstimate,
		"latency", turn.Latency,
		"text", turn.Content,
	)
}

func (LogObserver) SessionError(kind, message string) {
	log.Error("Voice session failed", "kind", kind, "err", message)
}
