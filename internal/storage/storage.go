// Package storage provides the flat key-value persistence layer the client
// state lives in. Every record (settings blob, session registry, per-session
// chat log) is stored whole under one key; mutation is read-modify-write of
// the entire value.
package storage

import (
	"errors"
	"sync"
)

// Key names match what the web client stores, so state written by either
// side keeps resolving.
const (
	KeySettings        = "unicornAI_settings"
	KeySessions        = "unicornAI_sessions"
	KeyCurrentSession  = "unicornAI_currentSession"
	KeyLegacySessionID = "unicornAI_sessionId"

	chatKeyPrefix = "unicornAI_chat_"
)

// ChatKey returns the storage key for a session's chat log.
func ChatKey(sessionID string) string {
	return chatKeyPrefix + sessionID
}

// ErrNotFound is returned by Get when a key has no stored value.
var ErrNotFound = errors.New("storage: key not found")

// Store is the flat key-value contract all backends implement. Values are
// opaque bytes; callers own serialization.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// KeyMutex serializes read-modify-write cycles on individual keys so two
// overlapping mutations of the same record cannot lose updates.
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyMutex returns an empty keyed mutex set.
func NewKeyMutex() *KeyMutex {
	return &KeyMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns its unlock func.
func (k *KeyMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}
