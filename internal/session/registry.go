// Package session manages the ordered registry of chat sessions and the
// current-session pointer.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/slackerchris/Unicorn-Ai/internal/models"
	"github.com/slackerchris/Unicorn-Ai/internal/storage"
)

var (
	// ErrSessionNotFound reports an operation against an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrLastSession rejects deleting the sole remaining session.
	ErrLastSession = errors.New("cannot delete the last session")
)

// DefaultPersonaID seeds new sessions that have no persona association yet.
const DefaultPersonaID = "luna"

// Registry is the ordered list of session records plus the current-session
// pointer. Order is insertion order and is display order. Every mutation
// persists the full registry; the pointer is persisted under its own key so
// it survives reloads independently.
type Registry struct {
	mu        sync.Mutex
	kv        storage.Store
	log       *zap.Logger
	sessions  []models.Session
	currentID string
}

// NewRegistry loads the persisted registry and guarantees the invariant that
// at least one session exists. A corrupt stored list is treated as absent.
func NewRegistry(kv storage.Store, log *zap.Logger) (*Registry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{kv: kv, log: log}

	if data, err := kv.Get(storage.KeySessions); err == nil {
		if err := json.Unmarshal(data, &r.sessions); err != nil {
			log.Warn("corrupt session registry, starting empty", zap.Error(err))
			r.sessions = nil
		}
	} else if err != storage.ErrNotFound {
		log.Warn("load session registry", zap.Error(err))
	}

	// Chat logs written before multi-session support live under a single
	// legacy session id; seed the registry with it so they keep resolving.
	if len(r.sessions) == 0 {
		if data, err := kv.Get(storage.KeyLegacySessionID); err == nil {
			legacyID := strings.TrimSpace(string(data))
			if legacyID != "" {
				now := time.Now().UTC()
				r.sessions = append(r.sessions, models.Session{
					ID:          legacyID,
					Name:        "Chat 1",
					Created:     now,
					LastUpdated: now,
					PersonaID:   DefaultPersonaID,
				})
				if err := r.persist(); err != nil {
					return nil, err
				}
			}
		}
	}

	if len(r.sessions) == 0 {
		if _, err := r.create(DefaultPersonaID); err != nil {
			return nil, err
		}
		return r, nil
	}

	if data, err := kv.Get(storage.KeyCurrentSession); err == nil {
		id := string(data)
		if _, ok := r.find(id); ok {
			r.currentID = id
			return r, nil
		}
	}
	r.currentID = r.sessions[0].ID
	if err := r.persistPointer(); err != nil {
		return nil, err
	}
	return r, nil
}

// Create appends a new session named "Chat N", persists the registry, and
// marks the new session current. Returns the new record.
func (r *Registry) Create(personaID string) (models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.create(personaID)
}

func (r *Registry) create(personaID string) (models.Session, error) {
	if personaID == "" {
		personaID = DefaultPersonaID
	}
	now := time.Now().UTC()
	s := models.Session{
		ID:          r.newID(),
		Name:        fmt.Sprintf("Chat %d", len(r.sessions)+1),
		Created:     now,
		LastUpdated: now,
		PersonaID:   personaID,
	}
	r.sessions = append(r.sessions, s)
	if err := r.persist(); err != nil {
		r.sessions = r.sessions[:len(r.sessions)-1]
		return models.Session{}, err
	}
	r.currentID = s.ID
	if err := r.persistPointer(); err != nil {
		return models.Session{}, err
	}
	return s, nil
}

// newID derives an id from a millisecond timestamp plus a random suffix,
// re-rolling on the (unlikely) collision with an existing session.
func (r *Registry) newID() string {
	for {
		suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
		id := fmt.Sprintf("web_%d_%s", time.Now().UnixMilli(), suffix)
		if _, ok := r.find(id); !ok {
			return id
		}
	}
}

// SwitchTo updates the current-session pointer. The caller is responsible
// for flushing the outgoing session's state first and loading the incoming
// session's history after; see the conversation controller.
func (r *Registry) SwitchTo(id string) (models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.find(id)
	if !ok {
		return models.Session{}, ErrSessionNotFound
	}
	r.currentID = id
	if err := r.persistPointer(); err != nil {
		return models.Session{}, err
	}
	return *s, nil
}

// Delete removes a session. Deleting the last session is rejected with the
// registry unchanged. If the deleted session was current, the first remaining
// session becomes current; the switched-to record is returned so the caller
// can load it.
func (r *Registry) Delete(id string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.find(id); !ok {
		return nil, ErrSessionNotFound
	}
	if len(r.sessions) <= 1 {
		return nil, ErrLastSession
	}

	kept := r.sessions[:0:0]
	for _, s := range r.sessions {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	r.sessions = kept
	if err := r.persist(); err != nil {
		return nil, err
	}

	var switched *models.Session
	if id == r.currentID {
		r.currentID = r.sessions[0].ID
		if err := r.persistPointer(); err != nil {
			return nil, err
		}
		first := r.sessions[0]
		switched = &first
	}
	return switched, nil
}

// Rename updates a session's display name and lastUpdated timestamp.
func (r *Registry) Rename(id, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name cannot be empty")
	}
	s, ok := r.find(id)
	if !ok {
		return ErrSessionNotFound
	}
	s.Name = name
	s.LastUpdated = time.Now().UTC()
	return r.persist()
}

// SetPersona records a session's persona association.
func (r *Registry) SetPersona(id, personaID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.find(id)
	if !ok {
		return ErrSessionNotFound
	}
	s.PersonaID = personaID
	return r.persist()
}

// Touch updates a session's message count and lastUpdated after a chat-log
// mutation.
func (r *Registry) Touch(id string, messageCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.find(id)
	if !ok {
		return ErrSessionNotFound
	}
	s.MessageCount = messageCount
	s.LastUpdated = time.Now().UTC()
	return r.persist()
}

// List returns session summaries in display order with the active flag set
// for the current session.
func (r *Registry) List() []models.SessionSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.SessionSummary, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, models.SessionSummary{Session: s, Active: s.ID == r.currentID})
	}
	return out
}

// Current returns the current session record.
func (r *Registry) Current() models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.find(r.currentID); ok {
		return *s
	}
	return models.Session{}
}

// CurrentID returns the current session id.
func (r *Registry) CurrentID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentID
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (models.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.find(id); ok {
		return *s, true
	}
	return models.Session{}, false
}

func (r *Registry) find(id string) (*models.Session, bool) {
	for i := range r.sessions {
		if r.sessions[i].ID == id {
			return &r.sessions[i], true
		}
	}
	return nil, false
}

func (r *Registry) persist() error {
	data, err := json.Marshal(r.sessions)
	if err != nil {
		return fmt.Errorf("encode session registry: %w", err)
	}
	if err := r.kv.Put(storage.KeySessions, data); err != nil {
		return fmt.Errorf("save session registry: %w", err)
	}
	return nil
}

func (r *Registry) persistPointer() error {
	if err := r.kv.Put(storage.KeyCurrentSession, []byte(r.currentID)); err != nil {
		return fmt.Errorf("save current session pointer: %w", err)
	}
	return nil
}
