package rtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"

	"github.com/ansh-stack00/svaraAI/internal/audio"
	"github.com/ansh-stack00/svaraAI/internal/voiceerr"
)

const frameDuration = 20 * time.Millisecond

// sampleWriter is the part of *lksdk.LocalTrack the writer needs.
type sampleWriter interface {
	WriteSample(s media.Sample, opts *lksdk.SampleWriteOptions) error
}

type frameEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// PacedWriter encodes 20 ms PCM frames to Opus and writes them to the track
// at real-time rate. CaptureFrame blocks while the backlog is full, so callers
// cannot run ahead of playback by more than the backlog.
type PacedWriter struct {
	enc    frameEncoder
	track  sampleWriter
	log    *zap.Logger
	frames chan []byte
	stopCh chan struct{}

	encMu    sync.Mutex
	opusBuf  []byte
	rejected atomic.Pointer[error]
	stopOnce sync.Once
}

func newPacedWriter(enc frameEncoder, track sampleWriter, backlog int, log *zap.Logger) *PacedWriter {
	if backlog <= 0 {
		backlog = 5
	}
	w := &PacedWriter{
		enc:     enc,
		track:   track,
		log:     log,
		frames:  make(chan []byte, backlog),
		stopCh:  make(chan struct{}),
		opusBuf: make([]byte, 4000),
	}
	go w.pacer()
	return w
}

// CaptureFrame encodes one frame and waits for room in the backlog. A frame
// the transport refused since the last call surfaces as
// voiceerr.ErrFrameRejected.
func (w *PacedWriter) CaptureFrame(ctx context.Context, frame []int16) error {
	if errp := w.rejected.Swap(nil); errp != nil {
		return fmt.Errorf("%w: %v", voiceerr.ErrFrameRejected, *errp)
	}
	if len(frame) != audio.FrameSamples {
		return fmt.Errorf("%w: frame has %d samples, want %d", voiceerr.ErrFrameRejected, len(frame), audio.FrameSamples)
	}
	w.encMu.Lock()
	n, err := w.enc.Encode(frame, w.opusBuf)
	var pkt []byte
	if err == nil && n > 0 {
		pkt = make([]byte, n)
		copy(pkt, w.opusBuf[:n])
	}
	w.encMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: opus encode: %v", voiceerr.ErrFrameRejected, err)
	}
	if pkt == nil {
		return nil
	}
	select {
	case w.frames <- pkt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopCh:
		return fmt.Errorf("%w: writer closed", voiceerr.ErrFrameRejected)
	}
}

// Reset drops frames not yet handed to the track.
func (w *PacedWriter) Reset() {
	for {
		select {
		case <-w.frames:
		default:
			return
		}
	}
}

// Close stops the pacer.
func (w *PacedWriter) Close() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *PacedWriter) pacer() {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-w.frames:
				if err := w.write(frame); err != nil {
					w.rejected.Store(&err)
					w.log.Warn("transport rejected frame", zap.Error(err))
				}
			default:
			}
		}
	}
}

// write isolates panics from the native capture path; they are reported as
// rejected frames instead of taking the process down.
func (w *PacedWriter) write(frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("write sample panic: %v", r)
		}
	}()
	return w.track.WriteSample(media.Sample{Data: frame, Duration: frameDuration}, nil)
}
