// Package config resolves daemon settings from flags, the environment and an
// optional .env file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	log "log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"
)

type Config struct {
	EnvFile  string
	LogLevel log.Level
	Proxy    string
	Socket   string

	ChatURL     string
	SynthURL    string
	OpenAIKey   string
	OpenAIBase  string
	Direct      bool
	HTTPTimeout time.Duration

	Model          string
	Language       string
	Voice          string
	Speed          float64
	Emotions       bool
	SilenceTimeout time.Duration
	ResumeDelay    time.Duration

	WhisperModel string
	Cue          string
	HubURL       string
	Duck         bool
	ExportDir    string
}

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

// envNames maps flag names to the variables that may set them.
var envNames = map[string]string{
	"log":           "VOX_LOG",
	"proxy":         "VOX_PROXY",
	"socket":        "VOX_SOCKET",
	"chat-url":      "VOX_CHAT_URL",
	"synth-url":     "VOX_SYNTH_URL",
	"openai-key":    "OPENAI_API_KEY",
	"openai-base":   "OPENAI_BASE_URL",
	"direct":        "VOX_DIRECT",
	"http-timeout":  "VOX_HTTP_TIMEOUT",
	"model":         "VOX_MODEL",
	"language":      "VOX_LANGUAGE",
	"voice":         "VOX_VOICE",
	"speed":         "VOX_SPEED",
	"emotions":      "VOX_EMOTIONS",
	"silence":       "VOX_SILENCE_TIMEOUT",
	"resume-delay":  "VOX_RESUME_DELAY",
	"whisper-model": "VOX_WHISPER_MODEL",
	"cue":           "VOX_CUE",
	"hub":           "VOX_HUB_URL",
	"duck":          "VOX_DUCK",
	"export-dir":    "VOX_EXPORT_DIR",
}

// Load parses args (without the program name). getenv is consulted before
// the .env file; pass os.Getenv in production.
func Load(args []string, getenv func(string) string) (Config, error) {
	fl := cli.NewFlagSet("vox-daemon", cli.ContinueOnError)

	envFile := fl.StringP("env", "e", ".env", "Env file path")
	logLevel := fl.StringP("log", "l", "info", "Log level")
	proxyAddr := fl.StringP("proxy", "p", "", "Socks proxy address, empty for direct connections")
	socket := fl.StringP("socket", "s", "/tmp/voxchat.sock", "Control socket path")

	chatURL := fl.String("chat-url", "http://localhost:3000/api/chat", "Chat completion proxy endpoint")
	synthURL := fl.String("synth-url", "http://localhost:3000/api/tts", "Speech synthesis proxy endpoint")
	openaiKey := fl.String("openai-key", "", "API key for direct mode")
	openaiBase := fl.String("openai-base", "", "OpenAI-compatible base URL for direct mode")
	direct := fl.Bool("direct", false, "Call the chat provider directly instead of the proxy")
	httpTimeout := fl.Duration("http-timeout", 120*time.Second, "Timeout for chat and synthesis requests")

	model := fl.StringP("model", "m", "openai/gpt-4o-mini", "Chat model")
	language := fl.String("language", "en-US", "Recognition and reply language")
	voiceName := fl.String("voice", "", "Synthesis voice, empty for the service default")
	speed := fl.Float64("speed", 1.0, "Speech rate")
	emotions := fl.Bool("emotions", true, "Let the synthesizer add emotional inflection")
	silence := fl.Duration("silence", 3*time.Second, "Silence that ends an utterance")
	resume := fl.Duration("resume-delay", 500*time.Millisecond, "Pause before listening again after a reply")

	whisperModel := fl.StringP("whisper-model", "w", "models/ggml-base.bin", "whisper.cpp model file")
	cue := fl.String("cue", "", "mp3 played when listening starts")
	hub := fl.String("hub", "", "Websocket hub receiving session events")
	duck := fl.Bool("duck", false, "Lower other applications while speaking")
	exportDir := fl.String("export-dir", ".", "Directory for exported sessions")

	if err := fl.Parse(args); err != nil {
		return Config{}, err
	}

	dotenv, err := godotenv.Read(*envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("read %s: %w", *envFile, err)
	}

	var setErr error
	fl.VisitAll(func(f *cli.Flag) {
		name, ok := envNames[f.Name]
		if !ok || f.Changed || setErr != nil {
			return
		}
		v := getenv(name)
		if v == "" {
			v = dotenv[name]
		}
		if v == "" {
			return
		}
		if err := fl.Set(f.Name, v); err != nil {
			setErr = fmt.Errorf("%s: %w", name, err)
		}
	})
	if setErr != nil {
		return Config{}, setErr
	}

	level, ok := logLevelMap[strings.ToLower(*logLevel)]
	if !ok {
		return Config{}, fmt.Errorf("unknown log level %q", *logLevel)
	}

	cfg := Config{
		EnvFile:        *envFile,
		LogLevel:       level,
		Proxy:          *proxyAddr,
		Socket:         *socket,
		ChatURL:        *chatURL,
		SynthURL:       *synthURL,
		OpenAIKey:      *openaiKey,
		OpenAIBase:     *openaiBase,
		Direct:         *direct,
		HTTPTimeout:    *httpTimeout,
		Model:          *model,
		Language:       *language,
		Voice:          *voiceName,
		Speed:          *speed,
		Emotions:       *emotions,
		SilenceTimeout: *silence,
		ResumeDelay:    *resume,
		WhisperModel:   *whisperModel,
		Cue:            *cue,
		HubURL:         *hub,
		Duck:           *duck,
		ExportDir:      *exportDir,
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Direct && c.OpenAIKey == "" {
		errs = append(errs, errors.New("direct mode needs OPENAI_API_KEY"))
	}
	if !c.Direct && c.ChatURL == "" {
		errs = append(errs, errors.New("chat-url is required"))
	}
	if c.SynthURL == "" {
		errs = append(errs, errors.New("synth-url is required"))
	}
	if c.WhisperModel == "" {
		errs = append(errs, errors.New("whisper-model is required"))
	}
	if c.Speed <= 0 {
		errs = append(errs, fmt.Errorf("speed must be positive, got %v", c.Speed))
	}
	if c.SilenceTimeout <= 0 {
		errs = append(errs, errors.New("silence timeout must be positive"))
	}
	if c.ResumeDelay < 0 {
		errs = append(errs, errors.New("resume delay must not be negative"))
	}
	return errors.Join(errs...)
}
