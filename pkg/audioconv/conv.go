// Package audioconv decodes audio files into the 16 kHz mono float32 PCM
// that whisper expects.
package audioconv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

const TargetRate = 16000

var ErrUnsupported = errors.New("unsupported audio format")

type Options struct {
	// Truncate the output to this many samples; 0 keeps everything.
	MaxSamples int
}

// clip is decoded audio before normalisation.
type clip struct {
	samples  []float32
	channels int
	rate     int
}

func (c clip) normalize(opt Options) []float32 {
	x := downmix(c.samples, c.channels)
	x = resample(x, c.rate, TargetRate)
	if opt.MaxSamples > 0 && len(x) > opt.MaxSamples {
		x = x[:opt.MaxSamples]
	}
	return x
}

// DecodeFile reads a wav, mp3 or ogg (vorbis or opus) file. The format is
// taken from the extension, falling back to the file's magic bytes.
func DecodeFile(ctx context.Context, path string, opt Options) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if format != "wav" && format != "mp3" && format != "ogg" && format != "oga" {
		magic, _ := bufio.NewReader(f).Peek(4)
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		switch string(magic) {
		case "RIFF":
			format = "wav"
		case "OggS":
			format = "ogg"
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupported, path)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return c.normalize(opt), nil
}

func decode(f io.ReadSeeker, format string) (clip, error) {
	switch format {
	case "wav":
		return decodeWAV(f)
	case "mp3":
		return decodeMP3(f)
	}

	c, err := decodeVorbis(f)
	if err == nil {
		return c, nil
	}
	if _, serr := f.Seek(0, io.SeekStart); serr != nil {
		return clip{}, serr
	}
	c, oerr := decodeOpus(f)
	if oerr != nil {
		return clip{}, fmt.Errorf("neither vorbis (%v) nor opus: %w", err, oerr)
	}
	return c, nil
}

func decodeWAV(r io.ReadSeeker) (clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return clip{}, errors.New("invalid wav")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return clip{}, err
	}
	if buf == nil || len(buf.Data) == 0 {
		return clip{}, errors.New("empty wav")
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}

	c := clip{samples: intsToFloat(buf.Data, depth), channels: 1, rate: 44100}
	if buf.Format != nil {
		if buf.Format.NumChannels > 0 {
			c.channels = buf.Format.NumChannels
		}
		if buf.Format.SampleRate > 0 {
			c.rate = buf.Format.SampleRate
		}
	}
	return c, nil
}

func decodeMP3(r io.Reader) (clip, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return clip{}, err
	}

	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return clip{}, err
	}
	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(&raw, binary.LittleEndian, ints); err != nil {
		return clip{}, err
	}

	rate := dec.SampleRate()
	if rate <= 0 {
		rate = 44100
	}
	// go-mp3 always yields interleaved stereo
	return clip{samples: int16sToFloat(ints), channels: 2, rate: rate}, nil
}

func decodeVorbis(r io.Reader) (clip, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return clip{}, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return clip{}, errors.New("invalid vorbis stream")
	}
	return clip{samples: pcm, channels: format.Channels, rate: format.SampleRate}, nil
}

func decodeOpus(r io.ReadSeeker) (clip, error) {
	dec, err := popus.NewDecoder(r)
	if err != nil {
		return clip{}, err
	}
	defer dec.Destroy()

	ch := max(dec.ChannelCount(), 1)

	var pcm []float32
	buf := make([]int16, 24000*ch)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			pcm = append(pcm, int16sToFloat(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return clip{}, err
		}
	}
	if len(pcm) == 0 {
		return clip{}, errors.New("empty opus stream")
	}

	// opus always decodes at 48 kHz
	return clip{samples: pcm, channels: ch, rate: 48000}, nil
}
