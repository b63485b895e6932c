// Package audio turns synthesizer output into fixed-format PCM and slices it
// into transport frames.
//
// The pipeline format is mono, 48 kHz, 16-bit signed little-endian. One frame
// is 20 ms (960 samples).
package audio

import (
	"encoding/binary"
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

const (
	SampleRate   = 48000
	Channels     = 1
	FrameSamples = SampleRate / 50
)

// Samples converts s16le bytes to samples. A trailing odd byte is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Bytes converts samples to s16le bytes.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Downmix averages interleaved stereo into mono.
func Downmix(stereo []int16) []int16 {
	out := make([]int16, len(stereo)/2)
	for i := range out {
		out[i] = int16((int32(stereo[2*i]) + int32(stereo[2*i+1])) / 2)
	}
	return out
}

// Frames slices mono PCM into frames of n samples. The last partial frame is
// padded with silence so the tail of a sentence is not clipped.
func Frames(pcm []int16, n int) [][]int16 {
	if n <= 0 || len(pcm) == 0 {
		return nil
	}
	frames := make([][]int16, 0, (len(pcm)+n-1)/n)
	for off := 0; off < len(pcm); off += n {
		end := off + n
		if end <= len(pcm) {
			frames = append(frames, pcm[off:end])
			continue
		}
		last := make([]int16, n)
		copy(last, pcm[off:])
		frames = append(frames, last)
	}
	return frames
}

// Resample converts mono PCM between sample rates.
func Resample(pcm []int16, from, to int) ([]int16, error) {
	if from == to || len(pcm) == 0 {
		return pcm, nil
	}
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("resample: invalid rates %d -> %d", from, to)
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	in := make([]float64, len(pcm))
	for i, s := range pcm {
		in[i] = float64(s) / 32768.0
	}
	res, err := rs.Process(in)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	// the filter holds back the tail of the input until flushed
	tail, err := rs.Flush()
	if err != nil {
		return nil, fmt.Errorf("resample flush: %w", err)
	}
	res = append(res, tail...)
	out := make([]int16, len(res))
	for i, v := range res {
		switch {
		case v >= 1.0:
			out[i] = 32767
		case v < -1.0:
			out[i] = -32768
		default:
			out[i] = int16(v * 32767.0)
		}
	}
	return out, nil
}
