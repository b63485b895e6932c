package agent

// State is the session lifecycle position.
type State int32

const (
	StateConnecting State = iota
	StateReady
	StateListening
	StateGenerating
	StateSpeaking
	StateEnding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateListening:
		return "listening"
	case StateGenerating:
		return "generating"
	case StateSpeaking:
		return "speaking"
	case StateEnding:
		return "ending"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
