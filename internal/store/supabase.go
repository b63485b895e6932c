package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/supabase-community/supabase-go"

	"github.com/ansh-stack00/svaraAI/internal/voiceerr"
)

const (
	agentsTable      = "agents"
	callsTable       = "calls"
	transcriptsTable = "transcripts"
)

// Supabase implements Store over the PostgREST API.
type Supabase struct {
	client *supabase.Client
}

var _ Store = (*Supabase)(nil)

func NewSupabase(url, serviceRoleKey string) (*Supabase, error) {
	if url == "" || serviceRoleKey == "" {
		return nil, errors.New("supabase url and service role key are required")
	}
	client, err := supabase.NewClient(url, serviceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &Supabase{client: client}, nil
}

// The postgrest client does not take a context; ctx is checked before each
// request only.

func (s *Supabase) Agent(ctx context.Context, id string) (Agent, error) {
	var rows []Agent
	if err := s.selectByID(ctx, agentsTable, id, &rows); err != nil {
		return Agent{}, err
	}
	if len(rows) == 0 {
		return Agent{}, fmt.Errorf("%w: agent %s", voiceerr.ErrNotFound, id)
	}
	return rows[0], nil
}

func (s *Supabase) Call(ctx context.Context, id string) (Call, error) {
	var rows []Call
	if err := s.selectByID(ctx, callsTable, id, &rows); err != nil {
		return Call{}, err
	}
	if len(rows) == 0 {
		return Call{}, fmt.Errorf("%w: call %s", voiceerr.ErrNotFound, id)
	}
	return rows[0], nil
}

func (s *Supabase) selectByID(ctx context.Context, table, id string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: empty %s id", voiceerr.ErrNotFound, table)
	}
	if _, err := s.client.From(table).Select("*", "", false).Eq("id", id).Limit(1, "").ExecuteTo(out); err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}
	return nil
}

func (s *Supabase) AppendTranscript(ctx context.Context, line Line) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := s.client.From(transcriptsTable).Insert(line, false, "", "minimal", "").Execute(); err != nil {
		return fmt.Errorf("%w: insert transcript seq=%d: %v", voiceerr.ErrPersistenceFailed, line.SequenceNumber, err)
	}
	return nil
}
