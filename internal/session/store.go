// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package session holds per-session workflow state. Every state key has
// exactly one phase allowed to write it, and only while that phase is
// active; reads are unrestricted. Values are stored JSON-encoded so readers
// always receive copies.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/kvstore"
	"github.com/pdiddy/deep-research/pkg/types"
)

const storeNamespace = "sessions"

// State keys. Keys ending in "/" are prefixes completed by a sub-topic id or
// section name.
const (
	KeyPlan            = "plan"
	KeySubTopics       = "sub_topics"
	KeyPapers          = "papers/"
	KeySearchTrace     = "search_trace/"
	KeyAnalyses        = "analyses/"
	KeyCritiqueVerdict = "critique_verdict"
	KeyCritiqueHistory = "critique_history"
	KeyRevisionPlan    = "revision_plan"
	KeySections        = "sections/"
	KeyReport          = "report"
	KeyNotes           = "notes/"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotOwner        = errors.New("phase does not own state key")
	ErrUnknownKey      = errors.New("unknown state key")
	ErrCancelled       = errors.New("session cancelled")
)

// owners maps exact keys to the only phase allowed to write them.
var owners = map[string]types.Phase{
	KeyPlan:            types.PhasePlanning,
	KeySubTopics:       types.PhasePlanning,
	KeyCritiqueVerdict: types.PhaseCritiquing,
	KeyCritiqueHistory: types.PhaseCritiquing,
	KeyRevisionPlan:    types.PhaseRevising,
	KeyReport:          types.PhaseFinalizing,
}

// prefixOwners maps key prefixes to their writer.
var prefixOwners = map[string]types.Phase{
	KeyPapers:      types.PhaseSearching,
	KeySearchTrace: types.PhaseSearching,
	KeyAnalyses:    types.PhaseAnalyzing,
	KeySections:    types.PhaseReporting,
}

// Owner returns the phase allowed to write key.
func Owner(key string) (types.Phase, error) {
	if p, ok := owners[key]; ok {
		return p, nil
	}
	if phase, ok := strings.CutPrefix(key, KeyNotes); ok {
		switch p := types.Phase(phase); p {
		case types.PhasePlanning, types.PhaseSearching, types.PhaseAnalyzing,
			types.PhaseCritiquing, types.PhaseRevising, types.PhaseReporting:
			return p, nil
		}
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	if i := strings.Index(key, "/"); i > 0 && i < len(key)-1 {
		if p, ok := prefixOwners[key[:i+1]]; ok {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
}

// NotesKey is the key holding a phase's degradation notes.
func NotesKey(p types.Phase) string { return KeyNotes + string(p) }

type entry struct {
	session   types.Session
	values    map[string]json.RawMessage
	cancelled bool
}

// checkpoint is the persisted form of a session.
type checkpoint struct {
	Session types.Session              `json:"session"`
	Values  map[string]json.RawMessage `json:"values"`
}

// Store is the in-memory session state store, optionally checkpointed into
// a kvstore.Store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	kv       kvstore.Store
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the time source for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store. kv may be nil, in which case Checkpoint and Restore
// only see sessions held in memory.
func New(kv kvstore.Store, opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*entry),
		kv:       kv,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create starts a new session for query in the planning phase.
func (s *Store) Create(query string) types.Session {
	now := s.now().UTC()
	sess := types.Session{
		ID:        uuid.NewString(),
		Query:     query,
		Phase:     types.PhasePlanning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.sessions[sess.ID] = &entry{session: sess, values: make(map[string]json.RawMessage)}
	s.mu.Unlock()
	s.logger.Debug("session created", zap.String("session", sess.ID))
	return sess
}

// Session returns a copy of the session record.
func (s *Store) Session(id string) (types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	if !ok {
		return types.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e.session, nil
}

// UpdateSession applies fn to the session record and returns the result.
// The id and creation time cannot be changed.
func (s *Store) UpdateSession(id string, fn func(*types.Session)) (types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return types.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess := e.session
	fn(&sess)
	sess.ID = e.session.ID
	sess.CreatedAt = e.session.CreatedAt
	sess.UpdatedAt = s.now().UTC()
	e.session = sess
	return sess, nil
}

// Set stores value under key. writer must own key and be the session's
// active phase.
func (s *Store) Set(id string, writer types.Phase, key string, value any) error {
	owner, err := Owner(key)
	if err != nil {
		return err
	}
	if owner != writer {
		return fmt.Errorf("%w: %q is written by %s, not %s", ErrNotOwner, key, owner, writer)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if e.session.Phase != writer {
		return fmt.Errorf("%w: %s is not the active phase (%s)", ErrNotOwner, writer, e.session.Phase)
	}
	e.values[key] = data
	return nil
}

// Get decodes the value under key into out. It reports false when the key
// has not been written.
func (s *Store) Get(id, key string, out any) (bool, error) {
	s.mu.RLock()
	e, found := s.sessions[id]
	var data json.RawMessage
	var ok bool
	if found {
		data, ok = e.values[key]
	}
	s.mu.RUnlock()
	if !found {
		return false, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return true, fmt.Errorf("decoding %q: %w", key, err)
	}
	return true, nil
}

// Keys returns the written keys that start with prefix, sorted.
func (s *Store) Keys(id, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	var keys []string
	for k := range e.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Cancel marks the session cancelled. The orchestrator stops it before the
// next phase starts.
func (s *Store) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	e.cancelled = true
	s.logger.Info("session cancelled", zap.String("session", id))
	return nil
}

// Cancelled reports whether Cancel was called for the session.
func (s *Store) Cancelled(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	return ok && e.cancelled
}

// Checkpoint persists the session record and all of its values.
func (s *Store) Checkpoint(ctx context.Context, id string) error {
	if s.kv == nil {
		return nil
	}
	s.mu.RLock()
	e, ok := s.sessions[id]
	var cp checkpoint
	if ok {
		cp = checkpoint{Session: e.session, Values: make(map[string]json.RawMessage, len(e.values))}
		for k, v := range e.values {
			cp.Values[k] = v
		}
	}
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	if err := s.kv.Put(ctx, storeNamespace, id, data); err != nil {
		return fmt.Errorf("writing checkpoint %s: %w", id, err)
	}
	s.logger.Debug("session checkpointed",
		zap.String("session", id),
		zap.String("phase", string(cp.Session.Phase)),
		zap.Int("keys", len(cp.Values)))
	return nil
}

// Restore loads a checkpointed session into memory, replacing any in-memory
// copy, and returns its record. The cancelled mark is not persisted.
func (s *Store) Restore(ctx context.Context, id string) (types.Session, error) {
	if s.kv == nil {
		return s.Session(id)
	}
	data, ok, err := s.kv.Get(ctx, storeNamespace, id)
	if err != nil {
		return types.Session{}, fmt.Errorf("reading checkpoint %s: %w", id, err)
	}
	if !ok {
		return types.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return types.Session{}, fmt.Errorf("decoding checkpoint %s: %w", id, err)
	}
	if cp.Values == nil {
		cp.Values = make(map[string]json.RawMessage)
	}

	s.mu.Lock()
	s.sessions[id] = &entry{session: cp.Session, values: cp.Values}
	s.mu.Unlock()
	return cp.Session, nil
}

// List returns every checkpointed session, oldest first.
func (s *Store) List(ctx context.Context) ([]types.Session, error) {
	if s.kv == nil {
		return nil, nil
	}
	ids, err := s.kv.List(ctx, storeNamespace, "")
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	sessions := make([]types.Session, 0, len(ids))
	for _, id := range ids {
		data, ok, err := s.kv.Get(ctx, storeNamespace, id)
		if err != nil {
			return nil, fmt.Errorf("reading checkpoint %s: %w", id, err)
		}
		if !ok {
			continue
		}
		var cp struct {
			Session types.Session `json:"session"`
		}
		if err := json.Unmarshal(data, &cp); err != nil {
			s.logger.Warn("skipping unreadable checkpoint", zap.String("session", id), zap.Error(err))
			continue
		}
		sessions = append(sessions, cp.Session)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}
