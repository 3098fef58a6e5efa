// ABOUTME: Concurrency-safe registry of user sessions and their assistant threads
// ABOUTME: Lazily creates threads, resets them on demand and guards one run per user

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrBusy is returned by Acquire while the user already has a run in flight.
var ErrBusy = errors.New("a message from this user is already being processed")

// State is the dialog state of a user.
type State string

const (
	StateIdle     State = "idle"
	StateChatting State = "chatting"
)

// ThreadCreator opens new assistant threads.
type ThreadCreator interface {
	CreateThread(ctx context.Context) (string, error)
}

type entry struct {
	threadID string
	state    State
	busy     bool
}

// Registry holds all sessions of the process.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	creator  ThreadCreator
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(creator ThreadCreator, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*entry),
		creator:  creator,
		logger:   logger.With("component", "session"),
	}
}

// entryLocked returns the entry for key, creating it. Must be called with mu held.
func (r *Registry) entryLocked(key string) *entry {
	e, ok := r.sessions[key]
	if !ok {
		e = &entry{state: StateIdle}
		r.sessions[key] = e
	}
	return e
}

// Thread returns the stored thread handle, if any.
func (r *Registry) Thread(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[key]
	if !ok || e.threadID == "" {
		return "", false
	}
	return e.threadID, true
}

// GetOrCreate returns the user's thread, creating one on first use.
func (r *Registry) GetOrCreate(ctx context.Context, key string) (string, error) {
	if id, ok := r.Thread(key); ok {
		return id, nil
	}

	// The remote call happens outside the lock.
	id, err := r.creator.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("creating thread: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entryLocked(key)
	if e.threadID != "" {
		r.logger.Debug("thread created concurrently, keeping existing", "user", key, "discarded", id)
		return e.threadID, nil
	}
	e.threadID = id
	r.logger.Info("thread assigned", "user", key, "thread_id", id)
	return id, nil
}

// Reset replaces the user's thread with a new one, dropping prior context.
func (r *Registry) Reset(ctx context.Context, key string) (string, error) {
	id, err := r.creator.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("creating thread: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entryLocked(key)
	previous := e.threadID
	e.threadID = id
	r.logger.Info("thread reset", "user", key, "thread_id", id, "previous", previous)
	return id, nil
}

// State returns the dialog state of a user.
func (r *Registry) State(key string) State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.sessions[key]; ok {
		return e.state
	}
	return StateIdle
}

// SetState records the dialog state of a user.
func (r *Registry) SetState(key string, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entryLocked(key).state = s
}

// Acquire marks the user as having a run in flight. The returned release
// function must be called once the run reaches a terminal or timed-out
// outcome; it is safe to call more than once.
func (r *Registry) Acquire(key string) (release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entryLocked(key)
	if e.busy {
		return nil, ErrBusy
	}
	e.busy = true

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			e.busy = false
		})
	}, nil
}

// Stats summarizes the registry.
type Stats struct {
	Sessions int `json:"sessions"`
	Threads  int `json:"threads"`
	InFlight int `json:"in_flight"`
}

// Stats counts sessions, assigned threads and in-flight runs.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Stats{Sessions: len(r.sessions)}
	for _, e := range r.sessions {
		if e.threadID != "" {
			st.Threads++
		}
		if e.busy {
			st.InFlight++
		}
	}
	return st
}
