// ABOUTME: In-memory fan-out broadcaster for run progress events
// ABOUTME: Publishes RunEvents to all subscribers of a user key or of every key

package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nscnavi/leadbridge/internal/assistant"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// AllUsers subscribes to events of every user.
	AllUsers = "*"
)

// EventType identifies a step of a run.
type EventType string

const (
	EventRunStarted EventType = "run_started"
	EventPolled     EventType = "polled"
	EventToolCall   EventType = "tool_call"
	EventFinished   EventType = "finished"
)

// RunEvent describes one step of a run.
type RunEvent struct {
	ID       string              `json:"id"`
	Type     EventType           `json:"type"`
	UserKey  string              `json:"user_key"`
	ThreadID string              `json:"thread_id,omitempty"`
	RunID    string              `json:"run_id,omitempty"`
	Status   assistant.RunStatus `json:"status,omitempty"`
	Poll     int                 `json:"poll,omitempty"`
	Tool     string              `json:"tool,omitempty"`
	Outcome  OutcomeKind         `json:"outcome,omitempty"`
	Time     time.Time           `json:"time"`
}

// EventBroadcaster provides in-memory pub/sub for RunEvents.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *RunEvent // userKey -> subID -> ch
	logger      *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. Pass nil logger for default.
func NewEventBroadcaster(logger *slog.Logger) *EventBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBroadcaster{
		subscribers: make(map[string]map[string]chan *RunEvent),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for events of userKey (or AllUsers).
// The subscription is removed and its channel closed when ctx is cancelled.
func (b *EventBroadcaster) Subscribe(ctx context.Context, userKey string) (<-chan *RunEvent, string) {
	subID := uuid.New().String()
	ch := make(chan *RunEvent, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[userKey]; !ok {
		b.subscribers[userKey] = make(map[string]chan *RunEvent)
	}
	b.subscribers[userKey][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "user", userKey, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(userKey, subID)
	}()

	return ch, subID
}

// Publish delivers an event to subscribers of its user key and to AllUsers
// subscribers. Events are dropped for subscribers whose channels are full.
func (b *EventBroadcaster) Publish(event *RunEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	// Sends are non-blocking and stay under the read lock so Unsubscribe
	// cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := []string{event.UserKey}
	if event.UserKey != AllUsers {
		keys = append(keys, AllUsers)
	}
	for _, key := range keys {
		for _, ch := range b.subscribers[key] {
			select {
			case ch <- event:
			default:
				b.logger.Debug("dropped event for slow subscriber",
					"user", event.UserKey,
					"event_id", event.ID)
			}
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBroadcaster) Unsubscribe(userKey, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[userKey]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, userKey)
	}

	b.logger.Debug("subscriber removed", "user", userKey, "sub_id", subID)
}

// Close closes all subscriber channels.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}
	b.logger.Debug("broadcaster closed")
}
