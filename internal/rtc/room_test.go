package rtc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ansh-stack00/svaraAI/internal/voiceerr"
)

func stopped(w *PacedWriter) bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

func TestAwaitJoin_Success(t *testing.T) {
	w := newPacedWriter(fakeEncoder{}, &fakeTrack{}, 0, zap.NewNop())
	defer w.Close()

	res, err := awaitJoin(context.Background(), "r1", time.Second, func() joinResult {
		return joinResult{writer: w}
	})
	require.NoError(t, err)
	assert.Same(t, w, res.writer)
	assert.False(t, stopped(w))
}

func TestAwaitJoin_SlowPublishTimesOut(t *testing.T) {
	w := newPacedWriter(fakeEncoder{}, &fakeTrack{}, 0, zap.NewNop())
	release := make(chan struct{})

	start := time.Now()
	_, err := awaitJoin(context.Background(), "r1", 30*time.Millisecond, func() joinResult {
		// connected quickly, publish hangs
		<-release
		return joinResult{writer: w}
	})
	assert.ErrorIs(t, err, voiceerr.ErrConnectTimeout)
	assert.Less(t, time.Since(start), time.Second)

	close(release)
	assert.Eventually(t, func() bool { return stopped(w) }, time.Second, 5*time.Millisecond,
		"a join that finishes late is torn down")
}

func TestAwaitJoin_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := awaitJoin(ctx, "r1", time.Second, func() joinResult {
		time.Sleep(20 * time.Millisecond)
		return joinResult{}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAwaitJoin_PublishError(t *testing.T) {
	boom := errors.New("publish track: denied")
	_, err := awaitJoin(context.Background(), "r1", time.Second, func() joinResult {
		return joinResult{err: boom}
	})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, voiceerr.ErrConnectTimeout)
}
