// Package capacity answers how many seats of a space are still bookable in a window.
package capacity

import (
	"context"
	"time"

	"github.com/google/uuid"

	"coworkspace/internal/domain/booking"
	"coworkspace/internal/domain/space"
)

type SpaceReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*space.Space, error)
}

type OccupancyCounter interface {
	SumGuests(ctx context.Context, spaceID uuid.UUID, start, end time.Time, statuses []booking.Status) (int, error)
}

type Availability struct {
	AvailableSpots int `json:"available_spots"`
	MaxCapacity    int `json:"max_capacity"`
	TotalBooked    int `json:"total_booked"`
}

type Resolver struct {
	spaces   SpaceReader
	bookings OccupancyCounter
	loggerf  func(format string, args ...interface{})
}

func NewResolver(spaces SpaceReader, bookings OccupancyCounter, loggerf func(format string, args ...interface{})) *Resolver {
	if loggerf == nil {
		loggerf = func(string, ...interface{}) {}
	}
	return &Resolver{spaces: spaces, bookings: bookings, loggerf: loggerf}
}

// GetAvailableCapacity never returns an error. A missing space or an unparseable window
// yields a zeroed result; a failed occupancy query reports the whole space as available.
func (r *Resolver) GetAvailableCapacity(ctx context.Context, spaceID uuid.UUID, date, start, end string) Availability {
	sp, err := r.spaces.GetByID(ctx, spaceID)
	if err != nil {
		r.loggerf("level=error msg=capacity space lookup failed space_id=%s err=%v", spaceID, err)
		return Availability{}
	}

	from, to, err := ParseWindow(date, start, end, sp.Location())
	if err != nil {
		r.loggerf("level=warn msg=capacity window rejected space_id=%s err=%v", spaceID, err)
		return Availability{}
	}
	return r.ForWindow(ctx, sp, from, to)
}

// ForWindow is GetAvailableCapacity for an already resolved space and window.
func (r *Resolver) ForWindow(ctx context.Context, sp *space.Space, from, to time.Time) Availability {
	booked, err := r.bookings.SumGuests(ctx, sp.ID, from, to, booking.DisplayOccupyingStatuses)
	if err != nil {
		r.loggerf("level=error msg=capacity occupancy query failed, reporting full capacity space_id=%s err=%v", sp.ID, err)
		return Availability{AvailableSpots: sp.MaxCapacity, MaxCapacity: sp.MaxCapacity}
	}

	available := sp.MaxCapacity - booked
	if available < 0 {
		available = 0
	}
	return Availability{
		AvailableSpots: available,
		MaxCapacity:    sp.MaxCapacity,
		TotalBooked:    booked,
	}
}
