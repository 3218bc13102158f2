package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tutorcall-backend/internal/domain"
)

// CallRepository is a single-node CallStore. One mutex guards every map,
// so each operation is trivially atomic. Callers only ever see clones.
type CallRepository struct {
	mu           sync.RWMutex
	calls        map[uuid.UUID]*domain.CallSession
	order        []uuid.UUID // insertion order
	availability map[uuid.UUID]bool
}

// NewCallRepository creates an empty in-memory call store
func NewCallRepository() *CallRepository {
	return &CallRepository{
		calls:        make(map[uuid.UUID]*domain.CallSession),
		availability: make(map[uuid.UUID]bool),
	}
}

// CreateIfAvailable inserts call unless its receiver opted out or is busy
func (r *CallRepository) CreateIfAvailable(ctx context.Context, call *domain.CallSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.optedIn(call.ReceiverID) || r.hasActiveCall(call.ReceiverID) {
		return domain.ErrReceiverBusy
	}

	r.calls[call.CallID] = call.Clone()
	r.order = append(r.order, call.CallID)
	return nil
}

// Get returns a snapshot of the call
func (r *CallRepository) Get(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	call, ok := r.calls[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	return call.Clone(), nil
}

// Mutate applies fn to a working copy and stores it when fn reports a change
func (r *CallRepository) Mutate(ctx context.Context, callID uuid.UUID, fn func(*domain.CallSession) (bool, error)) (*domain.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.calls[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}

	working := current.Clone()
	changed, err := fn(working)
	if err != nil {
		return nil, err
	}
	if changed {
		r.calls[callID] = working
		return working.Clone(), nil
	}
	return current.Clone(), nil
}

// MutateParticipant applies fn to userID's participant state
func (r *CallRepository) MutateParticipant(ctx context.Context, callID, userID uuid.UUID, fn func(*domain.Participant) (bool, error)) (*domain.CallSession, error) {
	return r.Mutate(ctx, callID, func(c *domain.CallSession) (bool, error) {
		p := c.Participant(userID)
		if p == nil {
			return false, domain.ErrNotParticipant
		}
		return fn(p)
	})
}

// HasActiveCall reports whether userID is a party to a non-terminal call
func (r *CallRepository) HasActiveCall(ctx context.Context, userID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hasActiveCall(userID), nil
}

func (r *CallRepository) hasActiveCall(userID uuid.UUID) bool {
	for _, c := range r.calls {
		if !c.IsTerminal() && c.IsParty(userID) {
			return true
		}
	}
	return false
}

// GetAvailability returns the opt-in flag, true when never set
func (r *CallRepository) GetAvailability(ctx context.Context, userID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.optedIn(userID), nil
}

func (r *CallRepository) optedIn(userID uuid.UUID) bool {
	available, ok := r.availability[userID]
	return !ok || available
}

// SetAvailability stores the opt-in flag
func (r *CallRepository) SetAvailability(ctx context.Context, userID uuid.UUID, available bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.availability[userID] = available
	return nil
}

// ListByUser returns the user's calls newest first, plus the unpaged total
func (r *CallRepository) ListByUser(ctx context.Context, userID uuid.UUID, filter domain.CallFilter, limit, offset int) ([]*domain.CallSession, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*domain.CallSession
	for i := len(r.order) - 1; i >= 0; i-- {
		c := r.calls[r.order[i]]
		if c.IsParty(userID) && filter.Matches(c) {
			matched = append(matched, c)
		}
	}

	total := len(matched)
	if offset >= total {
		return []*domain.CallSession{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	page := make([]*domain.CallSession, 0, end-offset)
	for _, c := range matched[offset:end] {
		page = append(page, c.Clone())
	}
	return page, total, nil
}

// Statistics aggregates every call the user took part in
func (r *CallRepository) Statistics(ctx context.Context, userID uuid.UUID) (*domain.CallStatistics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &domain.CallStatistics{}
	for _, id := range r.order {
		stats.Add(r.calls[id], userID)
	}
	return stats, nil
}

// ListStaleInitiated returns initiated calls started before cutoff, oldest first
func (r *CallRepository) ListStaleInitiated(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []uuid.UUID
	for _, id := range r.order {
		c := r.calls[id]
		if c.Status != domain.CallStatusInitiated || c.StartedAt == nil || !c.StartedAt.Before(before) {
			continue
		}
		ids = append(ids, id)
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids, nil
}
