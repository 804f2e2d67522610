// Package control maps control-socket commands onto a voice session.
package control

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"voxchat/internal/ipc"
	"voxchat/internal/session"
)

// Session is the part of *session.Session the control surface drives.
type Session interface {
	Toggle() error
	StopListening() error
	Interrupt() error
	ClearConversation() error
	SetLanguage(string) error
	SetModel(string) error
	SetVoice(string) error
	Snapshot() session.Snapshot
	Export() session.Export
}

// Status is the reply to the status command.
type Status struct {
	ID                string  `json:"id"`
	Status            string  `json:"status"`
	Transcript        string  `json:"transcript,omitempty"`
	InterimTranscript string  `json:"interimTranscript,omitempty"`
	Model             string  `json:"model"`
	Language          string  `json:"language"`
	Voice             string  `json:"voice,omitempty"`
	Messages          int     `json:"messages"`
	TotalWords        int     `json:"totalWords"`
	TotalTokens       int     `json:"totalTokens"`
	AverageLatencyMs  float64 `json:"averageLatencyMs"`
	LastError         string  `json:"lastError,omitempty"`
}

// ExportResult is the reply to the export command.
type ExportResult struct {
	Path string `json:"path"`
}

// Handler returns the ipc handler for s. Exports are written to exportDir.
func Handler(s Session, exportDir string) ipc.Handler {
	return func(_ context.Context, msg ipc.ControlMessage) (any, error) {
		arg := strings.TrimSpace(msg.Arg)

		switch strings.ToLower(msg.Cmd) {
		case "toggle":
			return nil, s.Toggle()
		case "stop":
			return nil, s.StopListening()
		case "interrupt":
			return nil, s.Interrupt()
		case "clear":
			return nil, s.ClearConversation()
		case "status":
			return statusOf(s.Snapshot()), nil
		case "export":
			return export(s, exportDir, arg)
		case "language":
			return nil, s.SetLanguage(arg)
		case "model":
			if arg == "" {
				return nil, fmt.Errorf("model name required")
			}
			return nil, s.SetModel(arg)
		case "voice":
			return nil, s.SetVoice(arg)
		}
		return nil, fmt.Errorf("unknown command %q", msg.Cmd)
	}
}

func statusOf(snap session.Snapshot) Status {
	return Status{
		ID:                snap.ID,
		Status:            string(snap.Status),
		Transcript:        snap.Transcript,
		InterimTranscript: snap.InterimTranscript,
		Model:             snap.Model,
		Language:          snap.Language,
		Voice:             snap.Voice,
		Messages:          snap.Analytics.MessageCount,
		TotalWords:        snap.Analytics.TotalWords,
		TotalTokens:       snap.Analytics.TotalTokens,
		AverageLatencyMs:  float64(snap.Analytics.AverageLatency.Microseconds()) / 1000,
		LastError:         snap.LastError,
	}
}

// export writes the session document. path overrides the generated name.
func export(s Session, dir, path string) (ExportResult, error) {
	doc := s.Export()
	if path == "" {
		path = filepath.Join(dir, doc.FileName())
	}

	f, err := os.Create(path)
	if err != nil {
		return ExportResult{}, fmt.Errorf("create export: %w", err)
	}
	if err := doc.WriteJSON(f); err != nil {
		f.Close()
		return ExportResult{}, err
	}
	if err := f.Close(); err != nil {
		return ExportResult{}, fmt.Errorf("close export: %w", err)
	}
	return ExportResult{Path: path}, nil
}
