package session

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"voxchat/internal/voice"
)

// isoLayout matches JavaScript's Date.toISOString.
const isoLayout = "2006-01-02T15:04:05.000Z"

type Export struct {
	Session      ExportSession   `json:"session"`
	Analytics    ExportAnalytics `json:"analytics"`
	Conversation []ExportTurn    `json:"conversation"`
}

type ExportSession struct {
	ID         string `json:"id"`
	StartedAt  string `json:"startedAt"`
	ExportedAt string `json:"exportedAt"`
	Model      string `json:"model"`
	Language   string `json:"language"`
	Voice      string `json:"voice,omitempty"`
	Status     string `json:"status"`
}

type ExportAnalytics struct {
	TotalWords       int     `json:"totalWords"`
	TotalTokens      int     `json:"totalTokens"`
	MessageCount     int     `json:"messageCount"`
	AverageLatencyMs float64 `json:"averageLatencyMs"`
}

type ExportTurn struct {
	Role          string `json:"role"`
	Content       string `json:"content"`
	Timestamp     string `json:"timestamp"`
	WordCount     int    `json:"wordCount"`
	TokenEstimate int    `json:"tokenEstimate"`
	LatencyMs     *int64 `json:"latencyMs,omitempty"`
}

// Export captures the session as a self-contained document. It only reads
// state.
func (s *Session) Export() Export {
	return BuildExport(s.Snapshot(), s.clk.Now())
}

func BuildExport(snap Snapshot, at time.Time) Export {
	out := Export{
		Session: ExportSession{
			ID:         snap.ID,
			StartedAt:  isoTime(snap.StartedAt),
			ExportedAt: isoTime(at),
			Model:      snap.Model,
			Language:   snap.Language,
			Voice:      snap.Voice,
			Status:     string(snap.Status),
		},
		Analytics: ExportAnalytics{
			TotalWords:       snap.Analytics.TotalWords,
			TotalTokens:      snap.Analytics.TotalTokens,
			MessageCount:     snap.Analytics.MessageCount,
			AverageLatencyMs: float64(snap.Analytics.AverageLatency) / float64(time.Millisecond),
		},
		Conversation: make([]ExportTurn, 0, len(snap.History)),
	}

	for _, t := range snap.History {
		et := ExportTurn{
			Role:          string(t.Role),
			Content:       t.Content,
			Timestamp:     isoTime(t.Timestamp),
			WordCount:     t.WordCount,
			TokenEstimate: t.TokenEstimate,
		}
		if t.Role == voice.RoleAssistant && t.Latency > 0 {
			ms := t.Latency.Milliseconds()
			et.LatencyMs = &ms
		}
		out.Conversation = append(out.Conversation, et)
	}

	return out
}

func (e Export) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(e); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	return nil
}

// FileName is the suggested download name for the export.
func (e Export) FileName() string {
	stamp := e.Session.ExportedAt
	if t, err := time.Parse(isoLayout, stamp); err == nil {
		stamp = t.Format("20060102-150405")
	}
	return fmt.Sprintf("voice-session-%s.json", stamp)
}

func isoTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(isoLayout)
}
