package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Session is CLI state that survives between invocations: the bulk selection
// and the thread last opened.
type Session struct {
	Selection  []string  `yaml:"selection,omitempty"`
	OpenThread string    `yaml:"open_thread,omitempty"`
	UpdatedAt  time.Time `yaml:"updated_at,omitempty"`
}

// Select adds ids to the selection, keeping insertion order without duplicates.
func (s *Session) Select(ids ...string) {
	for _, id := range ids {
		if id != "" && !slices.Contains(s.Selection, id) {
			s.Selection = append(s.Selection, id)
		}
	}
	s.UpdatedAt = time.Now()
}

// Deselect removes ids from the selection.
func (s *Session) Deselect(ids ...string) {
	s.Selection = slices.DeleteFunc(s.Selection, func(id string) bool {
		return slices.Contains(ids, id)
	})
	s.UpdatedAt = time.Now()
}

// ClearSelection empties the selection.
func (s *Session) ClearSelection() {
	s.Selection = nil
	s.UpdatedAt = time.Now()
}

// SessionStore loads and saves a Session as YAML.
type SessionStore struct {
	path string
	mu   sync.RWMutex
}

// NewSessionStore creates a store backed by path.
func NewSessionStore(path string) *SessionStore {
	return &SessionStore{path: path}
}

// Path returns the session file path.
func (s *SessionStore) Path() string {
	return s.path
}

// Load reads the session; a missing file yields an empty session.
func (s *SessionStore) Load() (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session := &Session{}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return session, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	if err := yaml.Unmarshal(data, session); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	return session, nil
}

// Save writes the session to disk.
func (s *SessionStore) Save(session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := yaml.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}
