// Package store reads agent and call records and appends transcript lines.
package store

import (
	"context"
	"fmt"

	"github.com/ansh-stack00/svaraAI/internal/voiceerr"
)

// Agent is a configured voice agent.
type Agent struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id,omitempty"`
	Name         string `json:"name,omitempty"`
	SystemPrompt string `json:"system_prompt"`
	VoiceID      string `json:"voice_id"`
}

// Call is a call record created before the caller connects.
type Call struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	AgentID string `json:"agent_id"`
}

// Speaker values for transcript lines.
const (
	SpeakerUser  = "user"
	SpeakerAgent = "agent"
)

// Line is one persisted transcript line.
type Line struct {
	CallID         string `json:"call_id"`
	UserID         string `json:"user_id"`
	Speaker        string `json:"speaker"`
	Text           string `json:"text"`
	IsFinal        bool   `json:"is_final"`
	SequenceNumber int64  `json:"sequence_number"`
}

// Store is the external record keeper. Missing rows are voiceerr.ErrNotFound;
// failed writes are voiceerr.ErrPersistenceFailed.
type Store interface {
	Agent(ctx context.Context, id string) (Agent, error)
	Call(ctx context.Context, id string) (Call, error)
	AppendTranscript(ctx context.Context, line Line) error
}

// ValidateOwnership checks that call belongs to agent and that both belong to
// the same user when the agent records an owner.
func ValidateOwnership(agent Agent, call Call) error {
	if call.AgentID != "" && call.AgentID != agent.ID {
		return fmt.Errorf("%w: call %s is for agent %s, not %s", voiceerr.ErrForbidden, call.ID, call.AgentID, agent.ID)
	}
	if agent.UserID != "" && call.UserID != agent.UserID {
		return fmt.Errorf("%w: call %s and agent %s have different owners", voiceerr.ErrForbidden, call.ID, agent.ID)
	}
	return nil
}
