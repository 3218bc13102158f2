package video

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tutorcall-backend/internal/domain"
	"tutorcall-backend/pkg/logger"
)

// AvailabilityRegistry answers "can this user take a new call".
//
// The opt-in flag is stored; the in-call fact is always derived from the
// call store. The authoritative check for Start happens inside
// CallStore.CreateIfAvailable; this registry serves queries.
type AvailabilityRegistry struct {
	calls    CallStore
	presence PresenceChecker
}

// NewAvailabilityRegistry creates a registry. presence may be nil.
func NewAvailabilityRegistry(calls CallStore, presence PresenceChecker) *AvailabilityRegistry {
	return &AvailabilityRegistry{calls: calls, presence: presence}
}

// IsAvailable is true iff the user has not opted out and is in no non-terminal call
func (r *AvailabilityRegistry) IsAvailable(ctx context.Context, userID uuid.UUID) (bool, error) {
	optedIn, err := r.calls.GetAvailability(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to get availability: %w", err)
	}
	if !optedIn {
		return false, nil
	}

	inCall, err := r.calls.HasActiveCall(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check active calls: %w", err)
	}
	return !inCall, nil
}

// SetAvailability writes the opt-in flag
func (r *AvailabilityRegistry) SetAvailability(ctx context.Context, userID uuid.UUID, available bool) error {
	if err := r.calls.SetAvailability(ctx, userID, available); err != nil {
		return fmt.Errorf("failed to set availability: %w", err)
	}
	return nil
}

// Check returns the full availability picture. Presence is informational
// and a presence failure only logs.
func (r *AvailabilityRegistry) Check(ctx context.Context, userID uuid.UUID) (*domain.Availability, error) {
	optedIn, err := r.calls.GetAvailability(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get availability: %w", err)
	}
	inCall, err := r.calls.HasActiveCall(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active calls: %w", err)
	}

	result := &domain.Availability{
		UserID:    userID,
		Available: optedIn && !inCall,
		OptedOut:  !optedIn,
		InCall:    inCall,
	}

	if r.presence != nil {
		online, err := r.presence.IsUserOnline(ctx, userID)
		if err != nil {
			logger.FromContext(ctx).Warn("Presence lookup failed",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
		result.Online = online
	}
	return result, nil
}
