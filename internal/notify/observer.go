package notify

import (
	"context"
	"fmt"
	log "log/slog"
	"os/exec"
	"time"

	"voxchat/internal/voice"
)

// Desktop posts notifications through notify-send.
type Desktop struct {
	AppName string
	run     func(ctx context.Context, name string, args ...string) error
}

func NewDesktop(appName string) *Desktop {
	return &Desktop{AppName: appName, run: func(ctx context.Context, name string, args ...string) error {
		return exec.CommandContext(ctx, name, args...).Run()
	}}
}

func (d *Desktop) Notify(title, body string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := d.run(ctx, "notify-send", "--app-name", d.AppName, title, body); err != nil {
		return fmt.Errorf("notify-send: %w", err)
	}
	return nil
}

type player interface {
	Play() error
}

type notifier interface {
	Notify(title, body string) error
}

// Observer plays the cue whenever listening starts and raises a desktop
// notification for session errors. Either may be nil.
type Observer struct {
	voice.NopObserver

	cue     player
	desktop notifier
}

func NewObserver(cue *Cue, desktop *Desktop) *Observer {
	o := &Observer{}
	if cue != nil {
		o.cue = cue
	}
	if desktop != nil {
		o.desktop = desktop
	}
	return o
}

func (o *Observer) StatusChanged(_, to voice.Status, _ string) {
	if to != voice.StatusListening || o.cue == nil {
		return
	}
	if err := o.cue.Play(); err != nil {
		log.Warn("Failed to play cue", "err", err)
	}
}

func (o *Observer) SessionError(kind, message string) {
	if o.desktop == nil {
		return
	}
	go func() {
		if err := o.desktop.Notify("Voice "+kind+" error", message); err != nil {
			log.Warn("Failed to notify", "err", err)
		}
	}()
}
