// Package session tracks the active game session: its backend conversation
// id, round and score counters, and the message transcript.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/room4-2/aiticulate/apperr"
	"github.com/room4-2/aiticulate/messages"
	"github.com/room4-2/aiticulate/storage"
	"github.com/room4-2/aiticulate/stream"
)

// ErrIncomplete is returned when a stream ended without its done frame
var ErrIncomplete = errors.New("stream ended before completion")

// Backend is the part of the backend API a session needs
type Backend interface {
	ChatStream(ctx context.Context, conversationID, prompt string) (*stream.Stream, error)
	Conversation(ctx context.Context, id string) (*messages.Conversation, error)
}

// State is a snapshot of the session counters. Score counts rounds the
// player won on time, AIScore is the backend's count of words the AI got.
type State struct {
	SessionID   string
	Round       int
	TotalRounds int
	Score       int
	AIScore     int
	RoundsLeft  int // as reported by the backend
	CurrentWord string
	Stale       bool
}

// ExchangeResult describes one completed request/response on the stream
type ExchangeResult struct {
	Text      string
	SessionID string
	Created   bool // the exchange opened a new backend conversation
	Dropped   int
}

// Store owns the session state and persists the conversation id
type Store struct {
	mu          sync.Mutex
	backend     Backend
	durable     storage.Store
	totalRounds int
	state       State
}

func NewStore(backend Backend, durable storage.Store, totalRounds int) *Store {
	if totalRounds < 1 {
		totalRounds = 1
	}
	return &Store{
		backend:     backend,
		durable:     durable,
		totalRounds: totalRounds,
		state:       State{Round: 1, TotalRounds: totalRounds},
	}
}

// CreateSession starts a new backend conversation with initialPrompt. The
// new id is persisted before CreateSession returns.
func (s *Store) CreateSession(ctx context.Context, initialPrompt string, onEvent func(messages.StreamEvent)) (ExchangeResult, error) {
	s.mu.Lock()
	s.state = State{Round: 1, TotalRounds: s.totalRounds}
	s.mu.Unlock()

	res, err := s.Exchange(ctx, initialPrompt, onEvent)
	if err != nil {
		return res, err
	}
	if _, err := s.Refresh(ctx); err != nil {
		log.Warn().Err(err).Str("session", res.SessionID).Msg("state refresh after create failed")
	}
	return res, nil
}

// Exchange sends prompt on the current session and consumes the reply,
// calling onEvent for every event in arrival order.
func (s *Store) Exchange(ctx context.Context, prompt string, onEvent func(messages.StreamEvent)) (ExchangeResult, error) {
	s.mu.Lock()
	id := s.state.SessionID
	s.mu.Unlock()

	var res ExchangeResult
	st, err := s.backend.ChatStream(ctx, id, prompt)
	if err != nil {
		return res, err
	}
	defer st.Close()
	stop := context.AfterFunc(ctx, func() { st.Close() })
	defer stop()

	var captured string
	for {
		ev, err := st.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, err
		}
		res.Text += ev.Chunk
		if ev.Done && ev.ConversationID != "" {
			captured = ev.ConversationID.String()
		}
		if onEvent != nil {
			onEvent(ev)
		}
	}
	res.Dropped = st.Dropped()
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if !st.Completed() {
		return res, ErrIncomplete
	}

	if id == "" && captured != "" {
		// the conversation exists either way; a reload just cannot find it
		s.mu.Lock()
		s.state.SessionID = captured
		s.mu.Unlock()
		res.Created = true
		res.SessionID = captured
		if err := s.durable.Set(ctx, storage.KeyConversationID, captured); err != nil {
			s.mu.Lock()
			s.state.Stale = true
			s.mu.Unlock()
			log.Error().Err(err).Str("session", captured).Msg("failed to persist session id")
			return res, fmt.Errorf("failed to persist session id: %w", err)
		}
		return res, nil
	}
	res.SessionID = id
	return res, nil
}

// Refresh reloads score and word from the backend. Scores never decrease.
// On failure the state is marked stale and the error returned.
func (s *Store) Refresh(ctx context.Context) (State, error) {
	_, st, err := s.refresh(ctx)
	return st, err
}

func (s *Store) refresh(ctx context.Context) (*messages.Conversation, State, error) {
	s.mu.Lock()
	id := s.state.SessionID
	s.mu.Unlock()

	if id == "" {
		return nil, s.State(), nil
	}

	conv, err := s.backend.Conversation(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.SessionID != id {
		// cleared while the request was in flight
		return nil, s.state, nil
	}
	if err != nil {
		s.state.Stale = true
		log.Warn().Err(err).Str("session", id).Msg("session refresh failed")
		return nil, s.state, err
	}
	if conv.Score > s.state.AIScore {
		s.state.AIScore = conv.Score
	}
	s.state.CurrentWord = conv.CurrentWord
	s.state.RoundsLeft = conv.NumRounds
	s.state.Stale = false
	return conv, s.state, nil
}

// Resume restores the persisted session, if any, and returns its backend
// transcript. An id the backend no longer knows is dropped.
func (s *Store) Resume(ctx context.Context) ([]messages.Message, error) {
	id, err := s.durable.Get(ctx, storage.KeyConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to read session id: %w", err)
	}
	if id == "" {
		return nil, nil
	}

	s.mu.Lock()
	s.state = State{SessionID: id, Round: 1, TotalRounds: s.totalRounds}
	s.mu.Unlock()

	conv, _, err := s.refresh(ctx)
	if errors.Is(err, apperr.ErrNotFound) {
		log.Info().Str("session", id).Msg("persisted session no longer exists")
		return nil, s.Clear(ctx)
	}
	if err != nil {
		// keep the saved id for a later retry, but do not run on it
		s.mu.Lock()
		if s.state.SessionID == id {
			s.state = State{Round: 1, TotalRounds: s.totalRounds}
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("resume session %s: %w", id, err)
	}
	log.Info().Str("session", id).Int("messages", len(conv.Messages)).Msg("session resumed")
	return conv.Messages, nil
}

// Clear forgets the session locally and in durable storage
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.state = State{Round: 1, TotalRounds: s.totalRounds}
	s.mu.Unlock()

	if err := s.durable.Delete(ctx, storage.KeyConversationID); err != nil {
		return fmt.Errorf("failed to clear session id: %w", err)
	}
	return nil
}

// AwardPoint credits the player with a round won on time
func (s *Store) AwardPoint() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Score++
	return s.state
}

// NextRound moves to the next round. It reports false when the last round
// has already been played.
func (s *Store) NextRound() (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Round >= s.state.TotalRounds {
		return s.state, false
	}
	s.state.Round++
	return s.state, true
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
