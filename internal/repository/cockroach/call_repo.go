package cockroach

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tutorcall-backend/internal/domain"
	"tutorcall-backend/pkg/quality"
)

const callColumns = `call_id, caller_id, receiver_id, call_type, subject, reservation_id, status,
		started_at, answered_at, ended_at, duration_seconds, end_reason, screen_shared, created_at`

const participantColumns = `call_id, user_id, role, status, joined_at, left_at,
		is_muted, video_enabled, screen_sharing, connection_quality`

// CallRepository handles call session persistence in CockroachDB
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new CallRepository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// CreateIfAvailable locks both parties' user rows in id order, checks the
// receiver, and inserts the call with its participants.
func (r *CallRepository) CreateIfAvailable(ctx context.Context, call *domain.CallSession) error {
	return runInTx(ctx, r.pool, func(tx pgx.Tx) error {
		var receiverOptedIn bool
		for _, userID := range lockOrder(call.CallerID, call.ReceiverID) {
			available, err := lockUser(ctx, tx, userID)
			if err != nil {
				return err
			}
			if userID == call.ReceiverID {
				receiverOptedIn = available
			}
		}
		if !receiverOptedIn {
			return domain.ErrReceiverBusy
		}

		busy, err := hasActiveCall(ctx, tx, call.ReceiverID)
		if err != nil {
			return err
		}
		if busy {
			return domain.ErrReceiverBusy
		}

		query := `
			INSERT INTO video_calls (call_id, caller_id, receiver_id, call_type, subject, reservation_id, status,
				started_at, answered_at, ended_at, duration_seconds, end_reason, screen_shared, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`
		_, err = tx.Exec(ctx, query,
			call.CallID,
			call.CallerID,
			call.ReceiverID,
			string(call.Kind),
			call.Subject,
			call.ReservationID,
			string(call.Status),
			call.StartedAt,
			call.AnsweredAt,
			call.EndedAt,
			call.Duration,
			call.EndReason,
			call.ScreenShared,
			call.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create call: %w", err)
		}

		for i := range call.Participants {
			if err := insertParticipant(ctx, tx, &call.Participants[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get retrieves a call with both participants
func (r *CallRepository) Get(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error) {
	return getCall(ctx, r.pool, callID, false)
}

// Mutate locks the call row and its participant rows, applies fn to a copy
// and writes back whatever changed.
func (r *CallRepository) Mutate(ctx context.Context, callID uuid.UUID, fn func(*domain.CallSession) (bool, error)) (*domain.CallSession, error) {
	var result *domain.CallSession
	err := runInTx(ctx, r.pool, func(tx pgx.Tx) error {
		current, err := getCall(ctx, tx, callID, true)
		if err != nil {
			return err
		}

		working := current.Clone()
		changed, err := fn(working)
		if err != nil {
			return err
		}
		if !changed {
			result = current
			return nil
		}

		if err := updateCall(ctx, tx, working); err != nil {
			return err
		}
		for i := range working.Participants {
			if participantChanged(&current.Participants[i], &working.Participants[i]) {
				if err := updateParticipant(ctx, tx, &working.Participants[i]); err != nil {
					return err
				}
			}
		}
		result = working
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MutateParticipant locks a single participant row. The returned snapshot
// is read after commit.
func (r *CallRepository) MutateParticipant(ctx context.Context, callID, userID uuid.UUID, fn func(*domain.Participant) (bool, error)) (*domain.CallSession, error) {
	err := runInTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := `SELECT ` + participantColumns + `
			FROM video_call_participants
			WHERE call_id = $1 AND user_id = $2
			FOR UPDATE
		`
		p, err := scanParticipant(tx.QueryRow(ctx, query, callID, userID))
		if err == pgx.ErrNoRows {
			exists, err := callExists(ctx, tx, callID)
			if err != nil {
				return err
			}
			if !exists {
				return domain.ErrCallNotFound
			}
			return domain.ErrNotParticipant
		}
		if err != nil {
			return fmt.Errorf("failed to get participant: %w", err)
		}

		changed, err := fn(p)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		return updateParticipant(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, callID)
}

// HasActiveCall reports whether the user is a party to an initiated or active call
func (r *CallRepository) HasActiveCall(ctx context.Context, userID uuid.UUID) (bool, error) {
	return hasActiveCall(ctx, r.pool, userID)
}

// GetAvailability returns the user's opt-in flag
func (r *CallRepository) GetAvailability(ctx context.Context, userID uuid.UUID) (bool, error) {
	query := `SELECT available_for_calls FROM users WHERE user_id = $1`

	var available bool
	err := r.pool.QueryRow(ctx, query, userID).Scan(&available)
	if err == pgx.ErrNoRows {
		return false, domain.ErrUserNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to get availability: %w", err)
	}
	return available, nil
}

// SetAvailability updates the user's opt-in flag
func (r *CallRepository) SetAvailability(ctx context.Context, userID uuid.UUID, available bool) error {
	query := `UPDATE users SET available_for_calls = $2, updated_at = now() WHERE user_id = $1`

	tag, err := r.pool.Exec(ctx, query, userID, available)
	if err != nil {
		return fmt.Errorf("failed to set availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// ListByUser returns one page of the user's calls, newest first, and the total count
func (r *CallRepository) ListByUser(ctx context.Context, userID uuid.UUID, filter domain.CallFilter, limit, offset int) ([]*domain.CallSession, int, error) {
	where := `(caller_id = $1 OR receiver_id = $1)
		AND ($2 = '' OR call_type = $2)
		AND ($3 = '' OR status = $3)`
	args := []any{userID, string(filter.Kind), string(filter.Status)}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM video_calls WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count calls: %w", err)
	}

	query := `SELECT ` + callColumns + `
		FROM video_calls
		WHERE ` + where + `
		ORDER BY created_at DESC, call_id DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()

	calls := []*domain.CallSession{}
	byID := make(map[uuid.UUID]*domain.CallSession)
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
		byID[call.CallID] = call
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate calls: %w", err)
	}

	if err := r.attachParticipants(ctx, byID); err != nil {
		return nil, 0, err
	}
	return calls, total, nil
}

// Statistics aggregates the user's calls in one query
func (r *CallRepository) Statistics(ctx context.Context, userID uuid.UUID) (*domain.CallStatistics, error) {
	query := `
		SELECT
			count(*),
			COALESCE(sum(duration_seconds) FILTER (WHERE status IN ('ended', 'rejected', 'missed')), 0)::INT,
			count(*) FILTER (WHERE call_type = 'video'),
			count(*) FILTER (WHERE call_type = 'audio'),
			count(*) FILTER (WHERE status = 'ended'),
			count(*) FILTER (WHERE status = 'missed' AND receiver_id = $1),
			count(*) FILTER (WHERE status = 'rejected' AND receiver_id = $1)
		FROM video_calls
		WHERE caller_id = $1 OR receiver_id = $1
	`

	stats := &domain.CallStatistics{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&stats.TotalCalls,
		&stats.TotalDuration,
		&stats.VideoCalls,
		&stats.AudioCalls,
		&stats.CompletedCalls,
		&stats.MissedCalls,
		&stats.RejectedCalls,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute statistics: %w", err)
	}
	return stats, nil
}

// ListStaleInitiated returns ids of calls still ringing since before the cutoff, oldest first
func (r *CallRepository) ListStaleInitiated(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT call_id
		FROM video_calls
		WHERE status = 'initiated' AND started_at < $1
		ORDER BY started_at ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale calls: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan call id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *CallRepository) attachParticipants(ctx context.Context, byID map[uuid.UUID]*domain.CallSession) error {
	if len(byID) == 0 {
		return nil
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id.String())
	}

	query := `SELECT ` + participantColumns + `
		FROM video_call_participants
		WHERE call_id = ANY($1::UUID[])
	`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return fmt.Errorf("failed to scan participant: %w", err)
		}
		if call, ok := byID[p.CallID]; ok {
			placeParticipant(call, p)
		}
	}
	return rows.Err()
}

func getCall(ctx context.Context, q querier, callID uuid.UUID, forUpdate bool) (*domain.CallSession, error) {
	lock := ""
	if forUpdate {
		lock = " FOR UPDATE"
	}

	query := `SELECT ` + callColumns + ` FROM video_calls WHERE call_id = $1` + lock
	call, err := scanCall(q.QueryRow(ctx, query, callID))
	if err == pgx.ErrNoRows {
		return nil, domain.ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	query = `SELECT ` + participantColumns + ` FROM video_call_participants WHERE call_id = $1` + lock
	rows, err := q.Query(ctx, query, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		placeParticipant(call, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}
	return call, nil
}

func scanCall(row pgx.Row) (*domain.CallSession, error) {
	call := &domain.CallSession{}
	var kind, status string
	err := row.Scan(
		&call.CallID,
		&call.CallerID,
		&call.ReceiverID,
		&kind,
		&call.Subject,
		&call.ReservationID,
		&status,
		&call.StartedAt,
		&call.AnsweredAt,
		&call.EndedAt,
		&call.Duration,
		&call.EndReason,
		&call.ScreenShared,
		&call.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	call.Kind = domain.CallKind(kind)
	call.Status = domain.CallStatus(status)
	return call, nil
}

func scanParticipant(row pgx.Row) (*domain.Participant, error) {
	p := &domain.Participant{}
	var role, status string
	var rawQuality []byte
	err := row.Scan(
		&p.CallID,
		&p.UserID,
		&role,
		&status,
		&p.JoinedAt,
		&p.LeftAt,
		&p.IsMuted,
		&p.VideoEnabled,
		&p.ScreenSharing,
		&rawQuality,
	)
	if err != nil {
		return nil, err
	}
	p.Role = domain.ParticipantRole(role)
	p.Status = domain.ParticipantStatus(status)

	if len(rawQuality) > 0 {
		var sample quality.Sample
		if err := json.Unmarshal(rawQuality, &sample); err != nil {
			return nil, fmt.Errorf("failed to decode connection quality: %w", err)
		}
		p.Quality = &sample
	}
	return p, nil
}

func placeParticipant(call *domain.CallSession, p *domain.Participant) {
	switch p.Role {
	case domain.RoleCaller:
		call.Participants[0] = *p
	case domain.RoleReceiver:
		call.Participants[1] = *p
	}
}

func insertParticipant(ctx context.Context, q querier, p *domain.Participant) error {
	raw, err := encodeQuality(p.Quality)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO video_call_participants (call_id, user_id, role, status, joined_at, left_at,
			is_muted, video_enabled, screen_sharing, connection_quality)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = q.Exec(ctx, query,
		p.CallID,
		p.UserID,
		string(p.Role),
		string(p.Status),
		p.JoinedAt,
		p.LeftAt,
		p.IsMuted,
		p.VideoEnabled,
		p.ScreenSharing,
		raw,
	)
	if err != nil {
		return fmt.Errorf("failed to create participant: %w", err)
	}
	return nil
}

func updateCall(ctx context.Context, q querier, c *domain.CallSession) error {
	query := `
		UPDATE video_calls
		SET status = $2, answered_at = $3, ended_at = $4, duration_seconds = $5,
			end_reason = $6, screen_shared = $7, updated_at = now()
		WHERE call_id = $1
	`
	_, err := q.Exec(ctx, query,
		c.CallID,
		string(c.Status),
		c.AnsweredAt,
		c.EndedAt,
		c.Duration,
		c.EndReason,
		c.ScreenShared,
	)
	if err != nil {
		return fmt.Errorf("failed to update call: %w", err)
	}
	return nil
}

func updateParticipant(ctx context.Context, q querier, p *domain.Participant) error {
	raw, err := encodeQuality(p.Quality)
	if err != nil {
		return err
	}

	query := `
		UPDATE video_call_participants
		SET status = $3, joined_at = $4, left_at = $5, is_muted = $6, video_enabled = $7,
			screen_sharing = $8, connection_quality = $9, updated_at = now()
		WHERE call_id = $1 AND user_id = $2
	`
	_, err = q.Exec(ctx, query,
		p.CallID,
		p.UserID,
		string(p.Status),
		p.JoinedAt,
		p.LeftAt,
		p.IsMuted,
		p.VideoEnabled,
		p.ScreenSharing,
		raw,
	)
	if err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}
	return nil
}

func encodeQuality(s *quality.Sample) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode connection quality: %w", err)
	}
	return raw, nil
}

func participantChanged(before, after *domain.Participant) bool {
	a, _ := json.Marshal(before)
	b, _ := json.Marshal(after)
	return !bytes.Equal(a, b)
}

func lockUser(ctx context.Context, q querier, userID uuid.UUID) (bool, error) {
	query := `SELECT available_for_calls FROM users WHERE user_id = $1 FOR UPDATE`

	var available bool
	err := q.QueryRow(ctx, query, userID).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, domain.ErrUserNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock user: %w", err)
	}
	return available, nil
}

func hasActiveCall(ctx context.Context, q querier, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM video_calls
			WHERE (caller_id = $1 OR receiver_id = $1)
				AND status IN ('initiated', 'active')
		)
	`

	var exists bool
	if err := q.QueryRow(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check active calls: %w", err)
	}
	return exists, nil
}

func callExists(ctx context.Context, q querier, callID uuid.UUID) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM video_calls WHERE call_id = $1)`, callID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check call: %w", err)
	}
	return exists, nil
}

// lockOrder returns the two ids sorted so concurrent A→B and B→A starts
// acquire row locks in the same order.
func lockOrder(a, b uuid.UUID) []uuid.UUID {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return []uuid.UUID{a, b}
	}
	return []uuid.UUID{b, a}
}
