package tokenlife

import (
	"sync"
	"time"
)

// EventKind identifies a lifecycle notification
type EventKind string

const (
	EventLogin          EventKind = "login"
	EventRefreshed      EventKind = "refreshed"
	EventAccessExpiring EventKind = "access_expiring"
	EventSessionWarning EventKind = "session_warning"
	EventSessionExpired EventKind = "session_expired"
	// EventLoggedOut signals the application to move to its unauthenticated state
	EventLoggedOut EventKind = "logged_out"
)

// Logout reasons carried by EventLoggedOut
const (
	ReasonLogout         = "logout"
	ReasonRefreshFailed  = "refresh_failed"
	ReasonSessionExpired = "session_expired"
	ReasonCorruptStorage = "corrupt_storage"
)

// Event is a discrete notification emitted by the Manager or the Monitor
type Event struct {
	Kind       EventKind
	Generation uint64
	At         time.Time

	// TimeLeft is the refresh token time left for warnings and the access
	// token time left for EventAccessExpiring.
	TimeLeft time.Duration

	// DisplayFor is how long a warning should stay visible
	DisplayFor time.Duration

	// Reason is set on EventLoggedOut
	Reason string
}

// EventHandler receives events. Handlers run synchronously on the emitting
// goroutine and must not block.
type EventHandler func(Event)

type emitter struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]EventHandler
}

func (e *emitter) subscribe(h EventHandler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers == nil {
		e.handlers = make(map[int]EventHandler)
	}
	id := e.nextID
	e.nextID++
	e.handlers[id] = h
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers, id)
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.RLock()
	handlers := make([]EventHandler, 0, len(e.handlers))
	for _, h := range e.handlers {
		handlers = append(handlers, h)
	}
	e.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (e *emitter) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = nil
}
