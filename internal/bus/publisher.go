// Package bus mirrors session events to a websocket hub so other processes
// (an overlay, a status bar) can follow the conversation.
package bus

import (
	"context"
	"errors"
	log "log/slog"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"

	"voxchat/internal/voice"
)

// Event is one JSON frame on the hub.
type Event struct {
	Type    string        `json:"type"`
	From    string        `json:"from"`
	At      time.Time     `json:"at"`
	Status  *StatusChange `json:"status,omitempty"`
	Final   string        `json:"final,omitempty"`
	Interim string        `json:"interim,omitempty"`
	Turn    *voice.Turn   `json:"turn,omitempty"`
	Level   *float64      `json:"level,omitempty"`
	Error   *ErrorInfo    `json:"error,omitempty"`
}

type StatusChange struct {
	From   voice.Status `json:"from"`
	To     voice.Status `json:"to"`
	Reason string       `json:"reason"`
}

type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

const (
	TypeStatus     = "status"
	TypeTranscript = "transcript"
	TypeTurn       = "turn"
	TypeLevel      = "level"
	TypeError      = "error"
)

type Config struct {
	URL       string
	Shard     string        // sender name stamped on every event
	Reconnect time.Duration // delay between dial attempts
	Timeout   time.Duration // per-write deadline
	Queue     int
	Levels    bool // forward level samples too
}

// Publisher is a voice.Observer. Events are queued without blocking the
// session; when the queue is full new events are dropped.
type Publisher struct {
	cfg     Config
	queue   chan Event
	dropped atomic.Int64
	now     func() time.Time
}

func NewPublisher(cfg Config) *Publisher {
	if cfg.Reconnect <= 0 {
		cfg.Reconnect = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 256
	}
	if cfg.Shard == "" {
		cfg.Shard = "voxchat"
	}
	return &Publisher{cfg: cfg, queue: make(chan Event, cfg.Queue), now: time.Now}
}

// Dropped is the number of events discarded because the queue was full.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

func (p *Publisher) enqueue(ev Event) {
	ev.From = p.cfg.Shard
	ev.At = p.now().UTC()
	select {
	case p.queue <- ev:
	default:
		p.dropped.Add(1)
	}
}

func (p *Publisher) StatusChanged(from, to voice.Status, reason string) {
	p.enqueue(Event{Type: TypeStatus, Status: &StatusChange{From: from, To: to, Reason: reason}})
}

func (p *Publisher) TranscriptChanged(final, interim string) {
	p.enqueue(Event{Type: TypeTranscript, Final: final, Interim: interim})
}

func (p *Publisher) TurnAppended(turn voice.Turn) {
	p.enqueue(Event{Type: TypeTurn, Turn: &turn})
}

func (p *Publisher) LevelChanged(level float64) {
	if !p.cfg.Levels {
		return
	}
	p.enqueue(Event{Type: TypeLevel, Level: &level})
}

func (p *Publisher) SessionError(kind, message string) {
	p.enqueue(Event{Type: TypeError, Error: &ErrorInfo{Kind: kind, Message: message}})
}

// Run delivers queued events until ctx is done, redialing the hub whenever
// the connection drops. An event that failed to send is retried on the new
// connection. It returns ctx.Err().
func (p *Publisher) Run(ctx context.Context) error {
	var pending *Event

	for {
		conn, err := p.dial(ctx)
		if err != nil {
			return err
		}
		log.Info("Connected to hub", "url", p.cfg.URL)

		pending, err = p.pump(ctx, conn, pending)
		if ctx.Err() != nil {
			p.closeConn(conn)
			return ctx.Err()
		}
		_ = conn.Close()
		log.Warn("Hub connection lost, reconnecting", "url", p.cfg.URL, "err", err)
	}
}

func (p *Publisher) dial(ctx context.Context) (*ws.Conn, error) {
	for {
		conn, _, err := ws.DefaultDialer.DialContext(ctx, p.cfg.URL, nil)
		if err == nil {
			return conn, nil
		}
		log.Debug("Failed to dial hub", "url", p.cfg.URL, "err", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.cfg.Reconnect):
		}
	}
}

func (p *Publisher) pump(ctx context.Context, conn *ws.Conn, pending *Event) (*Event, error) {
	// The hub never talks back; reading only surfaces close frames.
	closed := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closed <- err
				return
			}
		}
	}()

	for {
		if pending != nil {
			_ = conn.SetWriteDeadline(time.Now().Add(p.cfg.Timeout))
			if err := conn.WriteJSON(pending); err != nil {
				return pending, err
			}
			pending = nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-closed:
			if isClosed(err) {
				return nil, err
			}
			return nil, errors.Join(errors.New("hub read failed"), err)
		case ev := <-p.queue:
			pending = &ev
		}
	}
}

func (p *Publisher) closeConn(conn *ws.Conn) {
	msg := ws.FormatCloseMessage(ws.CloseNormalClosure, "")
	_ = conn.WriteControl(ws.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}

func isClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
