package space

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coworkspace/internal/testutil"
)

func TestPriceFor(t *testing.T) {
	hourly := &Space{PricePerHour: decimal.NewFromInt(12)}
	assert.Equal(t, "18", hourly.PriceFor(90*time.Minute).String())

	capped := &Space{PricePerHour: decimal.NewFromInt(12), PricePerDay: decimal.NewFromInt(60)}
	assert.Equal(t, "60", capped.PriceFor(8*time.Hour).String())
	assert.Equal(t, "24", capped.PriceFor(2*time.Hour).String())

	daily := &Space{PricePerDay: decimal.NewFromInt(45)}
	assert.Equal(t, "45", daily.PriceFor(3*time.Hour).String())
}

func TestLocationFallsBack(t *testing.T) {
	s := &Space{Timezone: "Not/AZone"}
	loc := s.Location()
	assert.NotNil(t, loc)

	s.Timezone = "UTC"
	assert.Equal(t, "UTC", s.Location().String())
}

func TestRepository(t *testing.T) {
	db := testutil.OpenDB(t, &Space{}, &HostProfile{})
	repo := NewRepository(db)
	ctx := context.Background()

	s := &Space{HostID: uuid.New(), Title: "Loft", MaxCapacity: 10, ConfirmationType: ConfirmationHostApproval}
	require.NoError(t, repo.Create(ctx, s))
	require.NotEqual(t, uuid.Nil, s.ID)

	got, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.MaxCapacity)
	assert.True(t, got.RequiresApproval())

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.SaveHost(ctx, &HostProfile{UserID: s.HostID, FiscalRegime: "forfettario"}))
	h, err := repo.GetHost(ctx, s.HostID)
	require.NoError(t, err)
	assert.Equal(t, "forfettario", h.FiscalRegime)

	_, err = repo.GetHost(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrHostNotFound)
}
