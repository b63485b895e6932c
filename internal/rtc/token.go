package rtc

import (
	"errors"
	"time"

	"github.com/livekit/protocol/auth"
)

// DefaultTokenTTL bounds how long a minted join token stays valid.
const DefaultTokenTTL = 10 * time.Minute

// MintToken returns a room-join JWT for identity that may publish, subscribe
// and send data in room.
func MintToken(apiKey, apiSecret, room, identity string, ttl time.Duration) (string, error) {
	if apiKey == "" || apiSecret == "" {
		return "", errors.New("livekit api key and secret are required")
	}
	if room == "" || identity == "" {
		return "", errors.New("room and identity are required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	grant := &auth.VideoGrant{RoomJoin: true, Room: room}
	grant.SetCanPublish(true)
	grant.SetCanSubscribe(true)
	grant.SetCanPublishData(true)

	at := auth.NewAccessToken(apiKey, apiSecret)
	at.SetVideoGrant(grant).
		SetIdentity(identity).
		SetValidFor(ttl)
	return at.ToJWT()
}
