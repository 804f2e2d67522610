// Package synth turns assistant replies into audio through the synthesis
// proxy.
package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"voxchat/internal/voice"
)

const maxErrorBody = 4 << 10

// ErrNoAudio means the service reported success but returned no audio.
var ErrNoAudio = errors.New("synthesis: no audio in reply")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("synthesis endpoint: status %d", e.Code)
	}
	return fmt.Sprintf("synthesis endpoint: status %d: %s", e.Code, e.Message)
}

// ServiceError is a 2xx reply with success set to false.
type ServiceError struct {
	Message string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return "synthesis failed"
	}
	return "synthesis failed: " + e.Message
}

type Endpoint struct {
	URL    string
	Client *http.Client
}

func NewEndpoint(url string, client *http.Client) *Endpoint {
	if client == nil {
		client = http.DefaultClient
	}
	return &Endpoint{URL: url, Client: client}
}

type reply struct {
	Success bool   `json:"success"`
	Audio   string `json:"audio"`
	Format  string `json:"format"`
	Error   string `json:"error"`
}

func (e *Endpoint) Synthesize(ctx context.Context, req voice.SynthesisRequest) (voice.Audio, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return voice.Audio{}, fmt.Errorf("encode synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return voice.Audio{}, fmt.Errorf("build synthesis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(httpReq)
	if err != nil {
		return voice.Audio{}, fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var r reply
		if json.Unmarshal(raw, &r) == nil && r.Error != "" {
			return voice.Audio{}, &StatusError{Code: resp.StatusCode, Message: r.Error}
		}
		return voice.Audio{}, &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	var r reply
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return voice.Audio{}, fmt.Errorf("decode synthesis reply: %w", err)
	}
	if !r.Success {
		return voice.Audio{}, &ServiceError{Message: r.Error}
	}
	if r.Audio == "" {
		return voice.Audio{}, ErrNoAudio
	}

	data, err := base64.StdEncoding.DecodeString(r.Audio)
	if err != nil {
		return voice.Audio{}, fmt.Errorf("decode synthesis audio: %w", err)
	}

	return voice.Audio{Data: data, Format: r.Format}, nil
}
