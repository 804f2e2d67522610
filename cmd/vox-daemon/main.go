package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"voxchat/internal/audio"
	"voxchat/internal/bus"
	"voxchat/internal/chat"
	"voxchat/internal/config"
	"voxchat/internal/control"
	"voxchat/internal/ipc"
	"voxchat/internal/notify"
	"voxchat/internal/proxy"
	"voxchat/internal/recognize"
	"voxchat/internal/session"
	"voxchat/internal/synth"
	"voxchat/internal/voice"
	"voxchat/pkg/stt"
)

const appName = "voxchat"

func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if errors.Is(err, cli.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "vox-daemon:", err)
		os.Exit(2)
	}

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: cfg.LogLevel,
	})))

	log.Info("Booting up")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error("Daemon failed", "err", err)
		os.Exit(1)
	}
	log.Info("Shut down")
}

func run(ctx context.Context, cfg config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpClient, err := proxy.NewClient(cfg.Proxy, cfg.HTTPTimeout)
	if err != nil {
		return fmt.Errorf("http client: %w", err)
	}
	if cfg.Proxy != "" {
		log.Debug("Loaded proxy", "proxy", cfg.Proxy)
	}

	var completer voice.Chat = chat.NewEndpoint(cfg.ChatURL, httpClient)
	if cfg.Direct {
		completer = chat.NewOpenAI(cfg.OpenAIKey, cfg.OpenAIBase, httpClient)
		log.Debug("Chat goes directly to the provider", "base", cfg.OpenAIBase)
	}

	if err := audio.Init(); err != nil {
		return err
	}
	defer audio.Terminate()

	whisper, err := stt.NewTranscriber(cfg.WhisperModel)
	if err != nil {
		return fmt.Errorf("init whisper: %w", err)
	}
	defer whisper.Close()

	log.Debug("Loaded whisper", "model", cfg.WhisperModel)

	input := audio.NewInput(0, 0)
	observers := voice.Observers{session.LogObserver{}, observeNotify(cfg)}

	if cfg.Duck {
		ducker := audio.NewDucker([]string{appName, "ALSA plug-in [vox-daemon]"}, 10)
		duck := audio.NewDuckObserver(ctx, ducker, audio.DefaultDucking)
		observers = append(observers, duck)
		defer func() {
			cancel()
			<-duck.Done()
		}()
	}

	if cfg.HubURL != "" {
		pub := bus.NewPublisher(bus.Config{URL: cfg.HubURL, Shard: appName})
		go func() { _ = pub.Run(ctx) }()
		observers = append(observers, pub)
	}

	sess, err := session.Open(ctx, session.Deps{
		Recognizer:  recognize.New(input, recognize.Whisper{T: whisper}, recognize.DefaultConfig),
		Microphone:  input,
		Chat:        completer,
		Synthesizer: synth.NewEndpoint(cfg.SynthURL, httpClient),
		Player:      audio.NewPlayer(0, 0),
		Observer:    observers,
	}, session.Options{
		Model:           cfg.Model,
		Language:        cfg.Language,
		Voice:           cfg.Voice,
		SilenceTimeout:  cfg.SilenceTimeout,
		ResumeDelay:     cfg.ResumeDelay,
		Speed:           cfg.Speed,
		DisableEmotions: !cfg.Emotions,
	})
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	srv, err := ipc.Listen(cfg.Socket, control.Handler(sess, cfg.ExportDir))
	if err != nil {
		return fmt.Errorf("ipc server: %w", err)
	}

	log.Info("Boot up - successful", "session", sess.ID(), "socket", srv.Path(), "model", cfg.Model)

	return srv.Serve(ctx)
}

func observeNotify(cfg config.Config) *notify.Observer {
	var cue *notify.Cue
	if cfg.Cue != "" {
		c, err := notify.NewCue(cfg.Cue)
		if err != nil {
			log.Warn("Listening cue disabled", "err", err)
		} else {
			cue = c
		}
	}
	return notify.NewObserver(cue, notify.NewDesktop(appName))
}
