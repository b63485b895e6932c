// Package rtc joins a LiveKit room as the agent participant, decodes the
// caller's microphone into pipeline PCM and publishes synthesized speech.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"

	"github.com/ansh-stack00/svaraAI/internal/audio"
	"github.com/ansh-stack00/svaraAI/internal/voiceerr"
)

const agentTrackName = "agent-voice"

// JoinOptions describes how to join one call room.
type JoinOptions struct {
	URL       string
	APIKey    string
	APISecret string
	Room      string
	Identity  string
	Timeout   time.Duration
	// OnAudio receives decoded 48 kHz mono PCM from every remote audio track.
	// It is called from the track reader goroutine.
	OnAudio func(pcm []int16)
}

// Room is a joined LiveKit room with a published outbound track.
type Room struct {
	*PacedWriter

	room      *lksdk.Room
	identity  string
	onAudio   func([]int16)
	log       *zap.Logger
	closeOnce sync.Once
}

// Join connects and publishes the agent track. Failure to connect and
// publish within o.Timeout is voiceerr.ErrConnectTimeout.
func Join(ctx context.Context, o JoinOptions, log *zap.Logger) (*Room, error) {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	token, err := MintToken(o.APIKey, o.APISecret, o.Room, o.Identity, DefaultTokenTTL)
	if err != nil {
		return nil, err
	}

	r := &Room{identity: o.Identity, onAudio: o.OnAudio, log: log.With(zap.String("room", o.Room))}
	cb := &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: r.onTrackSubscribed,
		},
		OnDisconnected: func() { r.log.Info("room disconnected") },
	}

	res, err := awaitJoin(ctx, o.Room, o.Timeout, func() joinResult {
		room, err := lksdk.ConnectToRoomWithToken(o.URL, token, cb, lksdk.WithAutoSubscribe(true))
		if err != nil {
			return joinResult{err: fmt.Errorf("livekit connect: %w", err)}
		}
		w, err := publish(room, r.log)
		if err != nil {
			room.Disconnect()
			return joinResult{err: err}
		}
		return joinResult{room: room, writer: w}
	})
	if err != nil {
		return nil, err
	}
	r.room, r.PacedWriter = res.room, res.writer
	r.log.Info("joined room", zap.String("identity", o.Identity))
	return r, nil
}

type joinResult struct {
	room   *lksdk.Room
	writer *PacedWriter
	err    error
}

// release tears down a join that succeeded after the caller gave up.
func (res joinResult) release() {
	if res.err != nil {
		return
	}
	if res.writer != nil {
		res.writer.Close()
	}
	if res.room != nil {
		res.room.Disconnect()
	}
}

// awaitJoin runs join in the background and bounds it, connect and publish
// together, by timeout and ctx.
func awaitJoin(ctx context.Context, room string, timeout time.Duration, join func() joinResult) (joinResult, error) {
	done := make(chan joinResult, 1)
	go func() { done <- join() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return res, res.err
	case <-timer.C:
		go func() { (<-done).release() }()
		return joinResult{}, fmt.Errorf("%w: livekit room %q after %s", voiceerr.ErrConnectTimeout, room, timeout)
	case <-ctx.Done():
		go func() { (<-done).release() }()
		return joinResult{}, ctx.Err()
	}
}

func publish(room *lksdk.Room, log *zap.Logger) (*PacedWriter, error) {
	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: audio.SampleRate,
		Channels:  audio.Channels,
	})
	if err != nil {
		return nil, fmt.Errorf("create local track: %w", err)
	}
	if _, err := room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   agentTrackName,
		Source: livekit.TrackSource_MICROPHONE,
	}); err != nil {
		return nil, fmt.Errorf("publish track: %w", err)
	}
	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	return newPacedWriter(enc, track, 5, log), nil
}

func (r *Room) onTrackSubscribed(track *webrtc.TrackRemote, _ *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if track.Kind() != webrtc.RTPCodecTypeAudio || rp.Identity() == r.identity {
		return
	}
	dec, err := opus.NewDecoder(audio.SampleRate, audio.Channels)
	if err != nil {
		r.log.Error("opus decoder", zap.Error(err))
		return
	}
	r.log.Info("subscribed to caller audio", zap.String("participant", rp.Identity()), zap.String("track", track.ID()))
	go r.readTrack(track, dec)
}

// readTrack decodes RTP Opus payloads until the track ends.
func (r *Room) readTrack(track *webrtc.TrackRemote, dec *opus.Decoder) {
	// 120 ms is the largest Opus frame
	pcm := make([]int16, audio.SampleRate*120/1000)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.log.Debug("track read ended", zap.Error(err))
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			r.log.Debug("opus decode", zap.Error(err))
			continue
		}
		if r.onAudio != nil && n > 0 {
			out := make([]int16, n)
			copy(out, pcm[:n])
			r.onAudio(out)
		}
	}
}

// Close stops the writer and leaves the room. It is safe to call repeatedly.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		if r.PacedWriter != nil {
			r.PacedWriter.Close()
		}
		if r.room != nil {
			r.room.Disconnect()
		}
		r.log.Info("left room")
	})
}
