package bus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxchat/internal/voice"
)

type hub struct {
	srv    *httptest.Server
	events chan Event
	conns  atomic.Int32
	// dropFirst closes the first connection after one event.
	dropFirst bool
}

func newHub(t *testing.T, dropFirst bool) *hub {
	t.Helper()
	h := &hub{events: make(chan Event, 32), dropFirst: dropFirst}
	up := ws.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := h.conns.Add(1)

		for {
			var ev Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			h.events <- ev
			if h.dropFirst && n == 1 {
				msg := ws.FormatCloseMessage(ws.CloseGoingAway, "restart")
				_ = conn.WriteControl(ws.CloseMessage, msg, time.Now().Add(time.Second))
				return
			}
		}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *hub) url() string { return "ws" + strings.TrimPrefix(h.srv.URL, "http") }

func (h *hub) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func start(t *testing.T, p *Publisher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Error("publisher did not stop")
		}
	})
}

func TestPublishesSessionEvents(t *testing.T) {
	h := newHub(t, false)
	p := NewPublisher(Config{URL: h.url(), Shard: "desk", Reconnect: 10 * time.Millisecond})
	start(t, p)

	p.StatusChanged(voice.StatusIdle, voice.StatusListening, "activated")
	p.TranscriptChanged("hello", "wor")
	p.TurnAppended(voice.Turn{Role: voice.RoleUser, Content: "hello world", WordCount: 2})
	p.LevelChanged(0.4)
	p.SessionError("chat", "boom")

	ev := h.next(t)
	assert.Equal(t, TypeStatus, ev.Type)
	assert.Equal(t, "desk", ev.From)
	assert.Equal(t, &StatusChange{From: voice.StatusIdle, To: voice.StatusListening, Reason: "activated"}, ev.Status)

	ev = h.next(t)
	assert.Equal(t, TypeTranscript, ev.Type)
	assert.Equal(t, "hello", ev.Final)
	assert.Equal(t, "wor", ev.Interim)

	ev = h.next(t)
	require.NotNil(t, ev.Turn)
	assert.Equal(t, "hello world", ev.Turn.Content)

	// Levels are off by default, so the error comes next.
	ev = h.next(t)
	assert.Equal(t, TypeError, ev.Type)
	assert.Equal(t, &ErrorInfo{Kind: "chat", Message: "boom"}, ev.Error)
}

func TestReconnectsAfterHubDrop(t *testing.T) {
	h := newHub(t, true)
	p := NewPublisher(Config{URL: h.url(), Reconnect: 10 * time.Millisecond, Levels: true})
	start(t, p)

	p.LevelChanged(0.1)
	first := h.next(t)
	require.NotNil(t, first.Level)
	assert.InDelta(t, 0.1, *first.Level, 1e-9)

	require.Eventually(t, func() bool { return h.conns.Load() == 2 }, 2*time.Second, 5*time.Millisecond)

	p.StatusChanged(voice.StatusListening, voice.StatusIdle, "deactivated")
	assert.Equal(t, TypeStatus, h.next(t).Type)
}

func TestQueueDropsWhenFull(t *testing.T) {
	p := NewPublisher(Config{URL: "ws://127.0.0.1:1", Queue: 2})

	p.LevelChanged(0.5)
	assert.Zero(t, p.Dropped())

	p.StatusChanged(voice.StatusIdle, voice.StatusListening, "activated")
	p.TranscriptChanged("", "a")
	p.TranscriptChanged("", "ab")
	assert.EqualValues(t, 1, p.Dropped())
}

func TestRunStopsWhileDialing(t *testing.T) {
	p := NewPublisher(Config{URL: "ws://127.0.0.1:1", Reconnect: 10 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, p.Run(ctx), context.DeadlineExceeded)
}
