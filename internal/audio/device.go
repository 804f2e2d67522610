// Package audio drives the sound card through PortAudio: shared microphone
// capture, reply playback, and ducking of other applications.
package audio

import (
	"fmt"
	"math"
	"strings"

	"github.com/gordonklaus/portaudio"

	"voxchat/internal/voice"
	"voxchat/pkg/audioconv"
)

// Init must be called once before any device is opened.
func Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	return nil
}

func Terminate() {
	_ = portaudio.Terminate()
}

// floorDB is the level reported as silence.
const floorDB = -60.0

// Level maps a frame's RMS from floorDB..0 dBFS onto 0..1.
func Level(frame []float32) float64 {
	rms := audioconv.RMS(frame)
	if rms <= 0 {
		return 0
	}
	db := 20 * math.Log10(rms)
	v := (db - floorDB) / -floorDB
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// stream is the subset of *portaudio.Stream used here.
type stream interface {
	Start() error
	Stop() error
	Close() error
}

type inputStream interface {
	stream
	Read() error
}

type outputStream interface {
	stream
	Write() error
}

func openPortaudioInput(buf []float32, rate float64) (inputStream, error) {
	s, err := portaudio.OpenDefaultStream(1, 0, rate, len(buf), buf)
	if err != nil {
		return nil, deviceError(err)
	}
	return s, nil
}

func openPortaudioOutput(buf []float32, rate float64) (outputStream, error) {
	s, err := portaudio.OpenDefaultStream(0, 1, rate, len(buf), buf)
	if err != nil {
		return nil, deviceError(err)
	}
	return s, nil
}

// deviceError classifies PortAudio failures. Host APIs report denied access
// as an unanticipated host error mentioning permission.
func deviceError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "not allowed") {
		return fmt.Errorf("%w: %v", voice.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", voice.ErrDeviceUnavailable, err)
}
