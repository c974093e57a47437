package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/crosstalk-ai/crosstalk/pkg/types"
)

// Sessions is the typed repository over Storage for ChatSession records,
// keyed by session id.
type Sessions struct {
	store *Storage
}

// NewSessions creates a session repository backed by the given storage.
func NewSessions(store *Storage) *Sessions {
	return &Sessions{store: store}
}

func sessionKey(id string) []string {
	return []string{"session", id}
}

// Create writes a new session record.
func (r *Sessions) Create(ctx context.Context, session *types.ChatSession) error {
	if session.ID == "" {
		return fmt.Errorf("session id is required")
	}
	return r.store.Put(ctx, sessionKey(session.ID), session)
}

// Update overwrites an existing session record.
func (r *Sessions) Update(ctx context.Context, session *types.ChatSession) error {
	return r.store.Put(ctx, sessionKey(session.ID), session)
}

// Delete removes a session record.
func (r *Sessions) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, sessionKey(id))
}

// GetByID retrieves a session record, or ErrNotFound.
func (r *Sessions) GetByID(ctx context.Context, id string) (*types.ChatSession, error) {
	var session types.ChatSession
	if err := r.store.Get(ctx, sessionKey(id), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// List returns all session records ordered by creation time.
func (r *Sessions) List(ctx context.Context) ([]*types.ChatSession, error) {
	var sessions []*types.ChatSession
	err := r.store.Scan(ctx, []string{"session"}, func(key string, data json.RawMessage) error {
		var session types.ChatSession
		if err := json.Unmarshal(data, &session); err != nil {
			return fmt.Errorf("record %s: %w", key, err)
		}
		sessions = append(sessions, &session)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Time.Created < sessions[j].Time.Created
	})
	return sessions, nil
}
