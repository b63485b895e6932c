package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/hajimehoshi/go-mp3"

	"github.com/ansh-stack00/svaraAI/internal/voiceerr"
)

// Encoding names the container/codec of a synthesizer stream.
type Encoding string

const (
	EncodingMP3    Encoding = "mp3"
	EncodingLinear Encoding = "linear16"
)

// Stream is an encoded synthesizer response.
type Stream struct {
	io.ReadCloser
	Encoding Encoding
	// SampleRate is only meaningful for linear16 streams.
	SampleRate int
}

// Decoder turns an encoded stream into pipeline PCM (mono, 48 kHz, s16).
// Implementations stop early and return ctx.Err() when ctx is cancelled.
type Decoder interface {
	Decode(ctx context.Context, s Stream) ([]int16, error)
}

// NewDecoder returns the decoder for kind ("mp3" or "ffmpeg"). Linear16
// streams are always passed through regardless of kind.
func NewDecoder(kind, ffmpegPath string) Decoder {
	var mp3Dec Decoder = MP3Decoder{}
	if kind == "ffmpeg" {
		mp3Dec = FFmpegDecoder{Path: ffmpegPath}
	}
	return Mux{MP3: mp3Dec, Linear: LinearDecoder{}}
}

// Mux dispatches on the stream encoding.
type Mux struct {
	MP3    Decoder
	Linear Decoder
}

func (m Mux) Decode(ctx context.Context, s Stream) ([]int16, error) {
	switch s.Encoding {
	case EncodingMP3:
		return m.MP3.Decode(ctx, s)
	case EncodingLinear:
		return m.Linear.Decode(ctx, s)
	default:
		return nil, fmt.Errorf("%w: unsupported encoding %q", voiceerr.ErrDecodeFailed, s.Encoding)
	}
}

const readChunk = 16 * 1024

// MP3Decoder decodes mp3 in process.
type MP3Decoder struct{}

func (MP3Decoder) Decode(ctx context.Context, s Stream) ([]int16, error) {
	dec, err := mp3.NewDecoder(s)
	if err != nil {
		return nil, fmt.Errorf("%w: mp3 header: %v", voiceerr.ErrDecodeFailed, err)
	}
	// go-mp3 always yields interleaved stereo s16le
	raw, err := readAll(ctx, dec)
	if err != nil {
		return nil, err
	}
	mono := Downmix(Samples(raw))
	out, err := Resample(mono, dec.SampleRate(), SampleRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", voiceerr.ErrDecodeFailed, err)
	}
	return out, nil
}

// LinearDecoder accepts raw s16le mono and resamples when needed.
type LinearDecoder struct{}

func (LinearDecoder) Decode(ctx context.Context, s Stream) ([]int16, error) {
	raw, err := readAll(ctx, s)
	if err != nil {
		return nil, err
	}
	rate := s.SampleRate
	if rate == 0 {
		rate = SampleRate
	}
	out, err := Resample(Samples(raw), rate, SampleRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", voiceerr.ErrDecodeFailed, err)
	}
	return out, nil
}

// FFmpegDecoder pipes the stream through an ffmpeg subprocess.
type FFmpegDecoder struct {
	Path string
}

func (f FFmpegDecoder) Decode(ctx context.Context, s Stream) ([]int16, error) {
	path := f.Path
	if path == "" {
		path = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, path,
		"-f", string(s.Encoding),
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", fmt.Sprint(SampleRate),
		"-ac", fmt.Sprint(Channels),
		"pipe:1",
	)
	cmd.Stdin = s
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: ffmpeg: %v", voiceerr.ErrDecodeFailed, err)
	}
	return Samples(stdout.Bytes()), nil
}

func readAll(ctx context.Context, r io.Reader) ([]byte, error) {
	var out bytes.Buffer
	buf := make([]byte, readChunk)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.Read(buf)
		out.Write(buf[:n])
		if errors.Is(err, io.EOF) {
			return out.Bytes(), nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", voiceerr.ErrDecodeFailed, err)
		}
	}
}
