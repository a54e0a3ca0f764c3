package space

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrNotFound     = errors.New("space not found")
	ErrHostNotFound = errors.New("host profile not found")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Space, error) {
	var s Space
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *Repository) Create(ctx context.Context, s *Space) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repository) GetHost(ctx context.Context, userID uuid.UUID) (*HostProfile, error) {
	var h HostProfile
	if err := r.db.WithContext(ctx).First(&h, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrHostNotFound
		}
		return nil, err
	}
	return &h, nil
}

func (r *Repository) SaveHost(ctx context.Context, h *HostProfile) error {
	return r.db.WithContext(ctx).Save(h).Error
}
