package fiscal

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Enqueue inserts the request unless one of the same kind already exists for the booking.
// It reports whether a row was written.
func (r *Repository) Enqueue(ctx context.Context, req *DocumentRequest) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "booking_id"}, {Name: "kind"}},
			DoNothing: true,
		}).
		Create(req)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]DocumentRequest, error) {
	var out []DocumentRequest
	err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("kind ASC").
		Find(&out).Error
	return out, err
}
