package notification

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"coworkspace/internal/clock"
)

// Pusher delivers a stored notification to connected clients.
type Pusher interface {
	SendToUser(userID uuid.UUID, event string, payload any)
}

type Service struct {
	repo   *Repository
	pusher Pusher
	clock  clock.Clock
}

func NewService(repo *Repository, pusher Pusher, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Service{repo: repo, pusher: pusher, clock: clk}
}

// Notify persists a notification and pushes it to the user's open sockets.
// Failures are logged and swallowed: notifications never fail the caller's transition.
func (s *Service) Notify(ctx context.Context, userID uuid.UUID, t Type, title, content string, meta map[string]any) {
	n := &Notification{
		UserID:    userID,
		Type:      t,
		Title:     title,
		Content:   content,
		CreatedAt: s.clock.Now(),
	}
	if meta != nil {
		raw, err := json.Marshal(meta)
		if err != nil {
			log.Printf("level=warn msg=notification metadata encode failed type=%s err=%v", t, err)
		} else {
			n.Metadata = datatypes.JSON(raw)
		}
	}

	if err := s.repo.Create(ctx, n); err != nil {
		log.Printf("level=error msg=notification store failed user_id=%s type=%s err=%v", userID, t, err)
		return
	}
	if s.pusher != nil {
		s.pusher.SendToUser(userID, "notification", n)
	}
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Notification, int64, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	list, total, err := s.repo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, 0, err
	}
	unread, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		unread = 0
	}
	return list, unread, total, nil
}

func (s *Service) MarkAsRead(ctx context.Context, id, userID uuid.UUID) error {
	return s.repo.MarkAsRead(ctx, id, userID, s.clock.Now())
}

func (s *Service) MarkAllAsRead(ctx context.Context, userID uuid.UUID) error {
	return s.repo.MarkAllAsRead(ctx, userID, s.clock.Now())
}

// Prune deletes read notifications older than retention.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.DeleteReadBefore(ctx, s.clock.Now().Add(-retention))
}
