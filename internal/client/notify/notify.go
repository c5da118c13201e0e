// Package notify is a small in-process event bus connecting the sync, ML
// and export subsystems without direct dependencies between them. Handlers
// are registered explicitly and invoked synchronously on publish.
package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/avelt/photovault/internal/client/models"
)

// Event identifies one notification kind.
type Event string

const (
	// EventLogout tears down session-scoped work: in-flight ML contexts are
	// cancelled and listeners deregistered.
	EventLogout Event = "logout"

	// EventFileUploaded fires after a local upload finished; the ML layer
	// uses it to index the new file immediately.
	EventFileUploaded Event = "fileUploaded"

	// EventLocalFilesUpdated fires when the local library changed, driving
	// continuous export scheduling.
	EventLocalFilesUpdated Event = "localFilesUpdated"
)

// Notification is the payload delivered to handlers. File is set for
// EventFileUploaded only.
type Notification struct {
	Event Event
	File  *models.MediaFile
}

// Handler receives published notifications.
type Handler func(ctx context.Context, n Notification)

// Bus fans notifications out to subscribed handlers.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event]map[uuid.UUID]Handler
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Event]map[uuid.UUID]Handler)}
}

// Subscribe registers h for e and returns a token for Unsubscribe.
func (b *Bus) Subscribe(e Event, h Handler) uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[e] == nil {
		b.subs[e] = make(map[uuid.UUID]Handler)
	}
	id := uuid.New()
	b.subs[e][id] = h
	return id
}

// Unsubscribe removes a handler; unknown tokens are ignored.
func (b *Bus) Unsubscribe(e Event, id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[e], id)
}

// Publish invokes every handler subscribed to n.Event. Handlers run on the
// caller's goroutine; long work belongs on the subscriber's own queue.
func (b *Bus) Publish(ctx context.Context, n Notification) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[n.Event]))
	for _, h := range b.subs[n.Event] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, n)
	}
}

// Reset drops every subscription, used on logout after the logout handlers
// themselves ran.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[Event]map[uuid.UUID]Handler)
}
