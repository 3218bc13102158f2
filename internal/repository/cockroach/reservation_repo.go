package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReservationRepository confirms reservation ids before a call links one
type ReservationRepository struct {
	pool *pgxpool.Pool
}

func NewReservationRepository(pool *pgxpool.Pool) *ReservationRepository {
	return &ReservationRepository{pool: pool}
}

// Exists reports whether the reservation is known
func (r *ReservationRepository) Exists(ctx context.Context, reservationID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM reservations WHERE reservation_id = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, reservationID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check reservation: %w", err)
	}
	return exists, nil
}
