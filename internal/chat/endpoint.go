// Package chat implements voice.Chat against a completion proxy or directly
// against an OpenAI-compatible provider.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"voxchat/internal/voice"
)

// maxErrorBody bounds how much of a failed response is kept in StatusError.
const maxErrorBody = 4 << 10

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat endpoint: status %d", e.Code)
	}
	return fmt.Sprintf("chat endpoint: status %d: %s", e.Code, e.Message)
}

// ErrMalformedReply means the endpoint answered 2xx without a usable body.
var ErrMalformedReply = errors.New("chat endpoint: malformed reply")

// Endpoint posts the conversation to the completion proxy.
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

type endpointReply struct {
	Response *string `json:"response"`
}

type endpointError struct {
	Error string `json:"error"`
}

// Complete sends the request and measures latency up to the first response
// byte.
func (e *Endpoint) Complete(ctx context.Context, req voice.ChatRequest) (voice.ChatReply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return voice.ChatReply{}, fmt.Errorf("encode chat request: %w", err)
	}

	var firstByte time.Time
	trace := &httptrace.ClientTrace{
		GotFirstResponseByte: func() { firstByte = time.Now() },
	}
	ctx = httptrace.WithClientTrace(ctx, trace)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return voice.ChatReply{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.Client.Do(httpReq)
	if err != nil {
		return voice.ChatReply{}, fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if firstByte.IsZero() {
		firstByte = time.Now()
	}
	latency := firstByte.Sub(start)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return voice.ChatReply{}, statusError(resp)
	}

	var out endpointReply
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return voice.ChatReply{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if out.Response == nil {
		return voice.ChatReply{}, fmt.Errorf("%w: missing response field", ErrMalformedReply)
	}

	return voice.ChatReply{Text: *out.Response, Latency: latency}, nil
}

func statusError(resp *http.Response) *StatusError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body endpointError
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return &StatusError{Code: resp.StatusCode, Message: body.Error}
	}
	return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
}
