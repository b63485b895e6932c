// Package voiceerr holds the error taxonomy shared by the voice pipeline.
// Adapters wrap provider failures with these sentinels so callers can branch
// with errors.Is without knowing which provider produced them.
package voiceerr

import "errors"

var (
	// ErrConnectTimeout means a recognizer or transport connection was not
	// established within its bound. Fatal to the session.
	ErrConnectTimeout = errors.New("connect timeout")
	// ErrSynthesisFailed means the synthesizer returned a non-success result.
	// The sentence is dropped; the turn continues.
	ErrSynthesisFailed = errors.New("synthesis failed")
	// ErrDecodeFailed means the encoded stream could not be turned into PCM.
	ErrDecodeFailed = errors.New("decode failed")
	// ErrPersistenceFailed is logged only and never propagated.
	ErrPersistenceFailed = errors.New("persistence failed")
	// ErrFrameRejected means the transport refused an outbound frame.
	// Playback of the current sentence stops; later sentences still attempt.
	ErrFrameRejected = errors.New("transport frame rejected")

	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)

// Fatal reports whether err must tear the session down.
func Fatal(err error) bool {
	return errors.Is(err, ErrConnectTimeout)
}
