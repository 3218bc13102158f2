package video

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tutorcall-backend/internal/domain"
)

// CallStore is the transactional store behind every call session.
//
// Mutate and MutateParticipant run fn under a lock scoped to one call row
// (or one participant row) and persist the result only when fn reports a
// change. Both return the post-mutation snapshot; an error from fn aborts
// the write and is returned as is.
type CallStore interface {
	// CreateIfAvailable inserts the session and both participants in one
	// unit with the receiver availability check. Returns
	// domain.ErrReceiverBusy when the receiver opted out or is in a
	// non-terminal call.
	CreateIfAvailable(ctx context.Context, call *domain.CallSession) error
	Get(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error)
	Mutate(ctx context.Context, callID uuid.UUID, fn func(*domain.CallSession) (bool, error)) (*domain.CallSession, error)
	MutateParticipant(ctx context.Context, callID, userID uuid.UUID, fn func(*domain.Participant) (bool, error)) (*domain.CallSession, error)

	HasActiveCall(ctx context.Context, userID uuid.UUID) (bool, error)
	// GetAvailability returns the opt-in flag; true for users never set
	GetAvailability(ctx context.Context, userID uuid.UUID) (bool, error)
	SetAvailability(ctx context.Context, userID uuid.UUID, available bool) error

	ListByUser(ctx context.Context, userID uuid.UUID, filter domain.CallFilter, limit, offset int) ([]*domain.CallSession, int, error)
	Statistics(ctx context.Context, userID uuid.UUID) (*domain.CallStatistics, error)
	// ListStaleInitiated returns ids of initiated calls started before cutoff, oldest first
	ListStaleInitiated(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)
}

// UserDirectory resolves call parties. Returns domain.ErrUserNotFound for unknown ids.
type UserDirectory interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// Notifier delivers a call event to one user. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event *domain.CallEvent) error
}

// CacheInvalidator drops cached per-user data after a transition
type CacheInvalidator interface {
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

// StatsCache memoizes call statistics per user
type StatsCache interface {
	CacheInvalidator
	Get(ctx context.Context, userID uuid.UUID) (*domain.CallStatistics, bool, error)
	Set(ctx context.Context, userID uuid.UUID, stats *domain.CallStatistics) error
}

// ReservationLookup confirms that a reservation exists before it is linked
type ReservationLookup interface {
	Exists(ctx context.Context, reservationID uuid.UUID) (bool, error)
}

// PresenceChecker reports whether a user has a live connection. Informational only.
type PresenceChecker interface {
	IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error)
}
