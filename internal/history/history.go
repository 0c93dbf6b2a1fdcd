// Package history owns the per-session chat log. One log is held in memory
// at a time (the active session's); every mutation persists the whole log
// and refreshes the owning session's registry record.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/slackerchris/Unicorn-Ai/internal/models"
	"github.com/slackerchris/Unicorn-Ai/internal/session"
	"github.com/slackerchris/Unicorn-Ai/internal/storage"
)

// MemoryService clears server-side conversational memory for a session.
// Satisfied by the backend client.
type MemoryService interface {
	ClearMemory(ctx context.Context, sessionID string) error
}

// Store is the chat history store for the active session.
type Store struct {
	mu     sync.Mutex
	kv     storage.Store
	keys   *storage.KeyMutex
	reg    *session.Registry
	memory MemoryService
	log    *zap.Logger

	sessionID string
	messages  []models.ChatMessage
}

func NewStore(kv storage.Store, reg *session.Registry, memory MemoryService, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		kv:     kv,
		keys:   storage.NewKeyMutex(),
		reg:    reg,
		memory: memory,
		log:    log,
	}
}

// Load reads the persisted log for sessionID and makes it the active log.
// An absent or corrupt record yields an empty log (the renderer shows a
// welcome placeholder for empty sessions).
func (s *Store) Load(sessionID string) []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionID = sessionID
	s.messages = nil

	data, err := s.kv.Get(storage.ChatKey(sessionID))
	if err != nil {
		if err != storage.ErrNotFound {
			s.log.Warn("load chat history", zap.String("session", sessionID), zap.Error(err))
		}
		return nil
	}
	if err := json.Unmarshal(data, &s.messages); err != nil {
		s.log.Warn("corrupt chat history, starting empty", zap.String("session", sessionID), zap.Error(err))
		s.messages = nil
	}
	return s.snapshot()
}

// SessionID returns the id of the session whose log is loaded.
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Messages returns a copy of the active log.
func (s *Store) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Append adds a message to the active log and persists it.
func (s *Store) Append(msg models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, msg)
	if err := s.persist(); err != nil {
		s.messages = s.messages[:len(s.messages)-1]
		return err
	}
	return nil
}

// AppendEphemeral adds a message to the active log without persisting it.
// Used for the empty assistant placeholder a stream opens with: only the
// finalized message may hit storage, so an aborted stream leaves no partial
// record behind.
func (s *Store) AppendEphemeral(msg models.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// Remove drops the message with the given id from the in-memory log without
// persisting. No-op if the id is not present.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

// AppendDelta appends streamed text to the message with the given id without
// persisting; the finalized message is persisted by Flush on stream end.
func (s *Store) AppendDelta(id, delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == id {
			s.messages[i].Content += delta
			return
		}
	}
}

// Flush persists the active log and refreshes the owning session record.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist()
}

// Clear empties the log for sessionID, removes its persisted entry, zeroes
// the session's message count, and best-effort clears server-side memory.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	if sessionID == s.sessionID {
		s.messages = nil
	}
	s.mu.Unlock()

	if err := s.Purge(sessionID); err != nil {
		return err
	}
	if err := s.reg.Touch(sessionID, 0); err != nil {
		return err
	}
	if s.memory != nil {
		if err := s.memory.ClearMemory(ctx, sessionID); err != nil {
			s.log.Warn("clear server-side memory", zap.String("session", sessionID), zap.Error(err))
		}
	}
	return nil
}

// Purge deletes the persisted chat log entry for sessionID.
func (s *Store) Purge(sessionID string) error {
	unlock := s.keys.Lock(storage.ChatKey(sessionID))
	defer unlock()
	if err := s.kv.Delete(storage.ChatKey(sessionID)); err != nil {
		return fmt.Errorf("purge chat history %s: %w", sessionID, err)
	}
	return nil
}

// RemoveTrailingAssistantRun pops all trailing assistant messages, stopping
// at the first non-assistant entry scanning backward, and persists the
// shortened log. Returns the removed messages in original order.
func (s *Store) RemoveTrailingAssistantRun() ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cut := len(s.messages)
	for cut > 0 && s.messages[cut-1].Role == models.RoleAssistant {
		cut--
	}
	if cut == len(s.messages) {
		return nil, nil
	}
	removed := append([]models.ChatMessage(nil), s.messages[cut:]...)
	s.messages = s.messages[:cut]
	if err := s.persist(); err != nil {
		s.messages = append(s.messages, removed...)
		return nil, err
	}
	return removed, nil
}

// LastUserMessage scans backward for the most recent user message.
func (s *Store) LastUserMessage() (models.ChatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == models.RoleUser {
			return s.messages[i], true
		}
	}
	return models.ChatMessage{}, false
}

// persist writes the whole active log and updates the owning session's
// user-message count. Callers hold s.mu.
func (s *Store) persist() error {
	if s.sessionID == "" {
		return nil
	}
	data, err := json.Marshal(s.messages)
	if err != nil {
		return fmt.Errorf("encode chat history: %w", err)
	}

	key := storage.ChatKey(s.sessionID)
	unlock := s.keys.Lock(key)
	err = s.kv.Put(key, data)
	unlock()
	if err != nil {
		return fmt.Errorf("save chat history: %w", err)
	}

	userCount := 0
	for _, m := range s.messages {
		if m.Role == models.RoleUser {
			userCount++
		}
	}
	if err := s.reg.Touch(s.sessionID, userCount); err != nil {
		return err
	}
	return nil
}

func (s *Store) snapshot() []models.ChatMessage {
	if s.messages == nil {
		return nil
	}
	return append([]models.ChatMessage(nil), s.messages...)
}
