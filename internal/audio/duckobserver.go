package audio

import (
	"context"
	log "log/slog"
	"time"

	"voxchat/internal/voice"
)

// Ducking controls how DuckObserver fades other streams.
type Ducking struct {
	Factor  float64
	FadeOut time.Duration
	FadeIn  time.Duration
}

var DefaultDucking = Ducking{Factor: 0.3, FadeOut: 300 * time.Millisecond, FadeIn: 600 * time.Millisecond}

// DuckObserver ducks other applications for as long as the session is
// speaking. pactl runs on its own goroutine so the session loop never waits
// for it; only the most recent request is kept.
type DuckObserver struct {
	voice.NopObserver

	d    *Ducker
	cfg  Ducking
	want chan bool
	done chan struct{}
}

func NewDuckObserver(ctx context.Context, d *Ducker, cfg Ducking) *DuckObserver {
	o := &DuckObserver{d: d, cfg: cfg, want: make(chan bool, 1), done: make(chan struct{})}
	go o.loop(ctx)
	return o
}

func (o *DuckObserver) StatusChanged(from, to voice.Status, _ string) {
	duck := to == voice.StatusSpeaking
	if duck == (from == voice.StatusSpeaking) {
		return
	}
	for {
		select {
		case o.want <- duck:
			return
		default:
			select {
			case <-o.want:
			default:
			}
		}
	}
}

// Done is closed after the observer restored volumes on shutdown.
func (o *DuckObserver) Done() <-chan struct{} { return o.done }

func (o *DuckObserver) loop(ctx context.Context) {
	defer close(o.done)

	for {
		select {
		case <-ctx.Done():
			restore, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := o.d.UnduckOthers(restore, 0); err != nil {
				log.Warn("Failed to restore volumes", "err", err)
			}
			cancel()
			return
		case duck := <-o.want:
			var err error
			if duck {
				err = o.d.DuckOthers(ctx, o.cfg.Factor, o.cfg.FadeOut)
			} else {
				err = o.d.UnduckOthers(ctx, o.cfg.FadeIn)
			}
			if err != nil {
				log.Warn("Ducking failed", "duck", duck, "err", err)
			}
		}
	}
}
