// Package audioconv decodes compressed or container audio into mono float32
// PCM at a requested sample rate.
package audioconv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

const DefaultSampleRate = 16000

// ErrUnsupported is returned when neither the declared format nor the
// leading bytes identify a known codec.
var ErrUnsupported = errors.New("unsupported audio format")

type Options struct {
	// SampleRate of the returned PCM. Zero means DefaultSampleRate.
	SampleRate int
	// MaxSamples truncates the output when positive.
	MaxSamples int
}

func (o Options) rate() int {
	if o.SampleRate <= 0 {
		return DefaultSampleRate
	}
	return o.SampleRate
}

// Decode converts data in the given format ("wav", "mp3", "ogg", "opus",
// "vorbis", or a MIME type) to mono PCM. An empty or unknown format falls
// back to sniffing the magic bytes.
func Decode(data []byte, format string, opt Options) ([]float32, error) {
	if len(data) == 0 {
		return nil, errors.New("empty audio")
	}

	kind := normalize(format)
	if kind == "" {
		kind = sniff(data)
	}

	var (
		x   []float32
		sr  int
		err error
	)
	switch kind {
	case "wav":
		x, sr, err = decodeWAV(bytes.NewReader(data))
	case "mp3":
		x, sr, err = decodeMP3(bytes.NewReader(data))
	case "ogg":
		x, sr, err = decodeOggVorbis(bytes.NewReader(data))
		if err != nil {
			var e2 error
			if x, sr, e2 = decodeOggOpus(bytes.NewReader(data)); e2 != nil {
				return nil, fmt.Errorf("cannot decode ogg as vorbis (%v) or opus: %w", err, e2)
			}
			err = nil
		}
	case "opus":
		x, sr, err = decodeOggOpus(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, format)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}

	if want := opt.rate(); sr != want {
		x = resampleLinear(x, sr, want)
	}
	if opt.MaxSamples > 0 && len(x) > opt.MaxSamples {
		x = x[:opt.MaxSamples]
	}
	return x, nil
}

func normalize(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	f = strings.TrimPrefix(f, "audio/")
	f = strings.TrimPrefix(f, ".")
	switch f {
	case "wav", "wave", "x-wav", "vnd.wave":
		return "wav"
	case "mp3", "mpeg", "mpga":
		return "mp3"
	case "ogg", "oga", "vorbis":
		return "ogg"
	case "opus":
		return "opus"
	}
	return ""
}

func sniff(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")):
		return "wav"
	case bytes.HasPrefix(data, []byte("OggS")):
		if bytes.Contains(data[:min(len(data), 64)], []byte("OpusHead")) {
			return "opus"
		}
		return "ogg"
	case bytes.HasPrefix(data, []byte("ID3")):
		return "mp3"
	case len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	}
	return ""
}

func decodeWAV(r io.ReadSeeker) ([]float32, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil || pb == nil || pb.Data == nil {
		if err == nil {
			err = errors.New("empty wav")
		}
		return nil, 0, err
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}
	x := intSliceToFloat32(pb.Data, bd)

	ch := 1
	sr := 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			ch = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			sr = pb.Format.SampleRate
		}
	}
	return downmixInterleaved(x, ch), sr, nil
}

func decodeMP3(r io.Reader) ([]float32, int, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, err
	}
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return nil, 0, err
	}
	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(bytes.NewReader(raw.Bytes()), binary.LittleEndian, &ints); err != nil {
		return nil, 0, err
	}
	// go-mp3 always yields interleaved stereo.
	x := downmixInterleaved(int16SliceToFloat32(ints), 2)

	sr := dec.SampleRate()
	if sr <= 0 {
		sr = 44100
	}
	return x, sr, nil
}

func decodeOggVorbis(r io.Reader) ([]float32, int, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, 0, errors.New("invalid ogg/vorbis stream")
	}
	return downmixInterleaved(pcm, format.Channels), format.SampleRate, nil
}

func decodeOggOpus(r io.ReadSeeker) ([]float32, int, error) {
	dec, err := popus.NewDecoder(r)
	if err != nil {
		return nil, 0, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	// Opus always decodes at 48 kHz.
	var (
		pcm []float32
		buf = make([]int16, 48_000*ch/2)
	)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			pcm = append(pcm, int16SliceToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, err
		}
	}
	return downmixInterleaved(pcm, ch), 48000, nil
}
