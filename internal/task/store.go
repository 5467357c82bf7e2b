package task

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("task not found")
	// ErrTerminal rejects status transitions out of completed or failed.
	ErrTerminal = errors.New("task is in a terminal state")
)

// Store is the in-memory task registry. Updates to a single task id are
// serialized on a per-entry lock; different ids proceed in parallel.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	push    map[string]PushConfig
}

type entry struct {
	mu   sync.Mutex
	task Task
}

func NewStore() *Store {
	return &Store{entries: map[string]*entry{}, push: map[string]PushConfig{}}
}

// Upsert creates the task in submitted state if absent. For an existing id
// it appends the request message to history and leaves status untouched.
func (s *Store) Upsert(params SendParams) Task {
	s.mu.Lock()
	e, ok := s.entries[params.ID]
	if !ok {
		e = &entry{task: Task{
			ID:        params.ID,
			SessionID: params.SessionID,
			Status:    Status{State: StateSubmitted, Timestamp: time.Now()},
			History:   []Message{params.Message},
		}}
		s.entries[params.ID] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if ok {
		e.task.History = append(e.task.History, params.Message)
	}
	return cloneTask(e.task)
}

// Update atomically transitions the task's status, appends artifacts, and
// returns the updated task. The terminal states reject further updates.
func (s *Store) Update(id string, status Status, artifacts []Artifact) (Task, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return Task{}, fmt.Errorf("update task %s: %w", id, ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.task.Status.State.Terminal() {
		return Task{}, fmt.Errorf("update task %s: %w", id, ErrTerminal)
	}
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	e.task.Status = status
	if status.Message != nil {
		e.task.History = append(e.task.History, *status.Message)
	}
	e.task.Artifacts = append(e.task.Artifacts, artifacts...)
	return cloneTask(e.task), nil
}

// Get returns a copy of the stored task.
func (s *Store) Get(id string) (Task, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return Task{}, fmt.Errorf("get task %s: %w", id, ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneTask(e.task), nil
}

// TrimHistory returns a view of t truncated to the most recent limit history
// entries. A non-positive limit keeps the full history. The stored task is
// not mutated.
func TrimHistory(t Task, limit int) Task {
	if limit <= 0 || len(t.History) <= limit {
		return t
	}
	t.History = append([]Message(nil), t.History[len(t.History)-limit:]...)
	return t
}

// SetPushConfig records a verified push notification target for the task.
// Callers must verify URL ownership first; unverified configs are rejected.
func (s *Store) SetPushConfig(id string, cfg PushConfig) error {
	if !cfg.Verified {
		return errors.New("push notification config must be verified before storing")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return fmt.Errorf("set push config for task %s: %w", id, ErrNotFound)
	}
	s.push[id] = cfg
	return nil
}

func (s *Store) HasPushConfig(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.push[id]
	return ok
}

func (s *Store) PushConfig(id string) (PushConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.push[id]
	return cfg, ok
}

func cloneTask(t Task) Task {
	t.History = append([]Message(nil), t.History...)
	t.Artifacts = append([]Artifact(nil), t.Artifacts...)
	return t
}
