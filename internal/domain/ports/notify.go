package ports

import "torrentsession/internal/domain"

// Notifier receives session events after the registry has been updated.
// Implementations must not block: Emit is called from the manager loop.
type Notifier interface {
	Emit(domain.Event)
}

// SessionValidator reports whether an observer session id is still live, so
// per-session status baselines can be pruned once the observer is gone.
type SessionValidator interface {
	SessionValid(sessionID string) bool
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) Emit(domain.Event) {}
