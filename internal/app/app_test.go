package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"coworkspace/internal/clock"
	"coworkspace/internal/config"
	"coworkspace/internal/domain/space"
	paymentmod "coworkspace/internal/modules/payment"
	"coworkspace/internal/pkg/jwt"
	"coworkspace/internal/testutil"
)

const (
	webhookSecret = "whsec_e2e"
	internalToken = "internal_e2e"
)

// stubProvider hands out sequential checkout sessions and records refunds.
type stubProvider struct {
	mu       sync.Mutex
	sessions map[string]*paymentmod.Session
	refunds  []string
}

func (p *stubProvider) CreateSession(_ context.Context, sp paymentmod.SessionParams) (*paymentmod.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := "cs_" + sp.BookingID.String()[:8]
	s := &paymentmod.Session{ID: id, URL: "https://pay.example/" + id, Status: paymentmod.SessionOpen}
	p.sessions[id] = s
	return s, nil
}

func (p *stubProvider) GetSession(_ context.Context, id string) (*paymentmod.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[id], nil
}

func (p *stubProvider) Refund(_ context.Context, intentID string, amount decimal.Decimal, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refunds = append(p.refunds, intentID+":"+amount.StringFixed(2))
	return "re_" + intentID, nil
}

func (p *stubProvider) Transfer(context.Context, string, decimal.Decimal, string, string) (string, error) {
	return "tr_stub", nil
}

type suite struct {
	app      *App
	db       *gorm.DB
	clock    *clock.Manual
	provider *stubProvider
	host     uuid.UUID
	coworker uuid.UUID
	admin    uuid.UUID
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func testConfig() *config.Config {
	cfg := &config.Config{
		AppEnv:             "test",
		JWTSecret:          "test_secret_key_32_characters_min",
		JWTTTL:             time.Hour,
		InternalToken:      internalToken,
		AppBaseURL:         "https://app.example",
		RateLimitPerMinute: 60,
	}
	cfg.Booking = config.BookingConfig{
		ApprovalTimeout:  24 * time.Hour,
		PaymentTimeout:   15 * time.Minute,
		SlotHoldTTL:      15 * time.Minute,
		SettlementGrace:  5 * time.Minute,
		ReminderWindow:   2 * time.Hour,
		OrphanSessionAge: 30 * time.Minute,
		BuyerFeePercent:  5,
		HostFeePercent:   5,
		DefaultCurrency:  "EUR",
	}
	cfg.Payment = config.PaymentConfig{WebhookSecret: webhookSecret, VerifyMaxAttempts: 1, VerifyBaseDelay: time.Millisecond}
	return cfg
}

func setupSuite(t *testing.T) *suite {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.OpenDB(t, Models()...)

	s := &suite{
		db:       db,
		clock:    clock.NewManual(time.Date(2025, 2, 27, 9, 0, 0, 0, time.UTC)),
		provider: &stubProvider{sessions: map[string]*paymentmod.Session{}},
		host:     uuid.New(),
		coworker: uuid.New(),
		admin:    uuid.New(),
	}
	s.app = New(Deps{Config: testConfig(), DB: db, Provider: s.provider, Clock: s.clock, Logf: t.Logf})
	t.Cleanup(s.app.Hub.Close)

	ctx := context.Background()
	spaces := space.NewRepository(db)
	require.NoError(t, spaces.SaveHost(ctx, &space.HostProfile{UserID: s.host, FiscalRegime: "forfettario", PayoutAccountID: "acct_host"}))
	return s
}

func (s *suite) space(t *testing.T, confirmation space.ConfirmationType) *space.Space {
	t.Helper()
	sp := &space.Space{
		HostID:           s.host,
		Title:            "Corner office",
		MaxCapacity:      10,
		PricePerHour:     decimal.NewFromInt(15),
		Currency:         "EUR",
		ConfirmationType: confirmation,
		Timezone:         "Europe/Rome",
	}
	require.NoError(t, space.NewRepository(s.db).Create(context.Background(), sp))
	return sp
}

func (s *suite) token(t *testing.T, userID uuid.UUID, role string) string {
	t.Helper()
	tok, err := s.app.JWT.GenerateToken(userID, role)
	require.NoError(t, err)
	return tok
}

func (s *suite) do(t *testing.T, method, path string, body any, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.app.Router.ServeHTTP(w, req)

	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

type bookingBody struct {
	Booking struct {
		ID     uuid.UUID `json:"id"`
		Status string    `json:"status"`
	} `json:"booking"`
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func (s *suite) webhook(t *testing.T, eventType string, object any) *httptest.ResponseRecorder {
	t.Helper()
	obj, err := json.Marshal(object)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{
		"id":   "evt_" + uuid.NewString()[:8],
		"type": eventType,
		"data": map[string]json.RawMessage{"object": obj},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", paymentmod.SignPayload(webhookSecret, payload, s.clock.Now()))
	w := httptest.NewRecorder()
	s.app.Router.ServeHTTP(w, req)
	return w
}

func TestFlow_ApprovalPaymentSettlement(t *testing.T) {
	s := setupSuite(t)
	sp := s.space(t, space.ConfirmationHostApproval)
	coworker := s.token(t, s.coworker, jwt.RoleCoworker)
	host := s.token(t, s.host, jwt.RoleHost)

	w, env := s.do(t, http.MethodPost, "/api/v1/bookings", map[string]any{
		"space_id": sp.ID, "booking_date": "2025-03-01", "start_time": "09:00", "end_time": "11:00", "guests_count": 3,
	}, coworker)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[bookingBody](t, env)
	assert.Equal(t, "pending_approval", created.Booking.Status)
	id := created.Booking.ID.String()

	w, _ = s.do(t, http.MethodPost, "/api/v1/bookings/"+id+"/approve", nil, coworker)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env = s.do(t, http.MethodPost, "/api/v1/bookings/"+id+"/approve", nil, host)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "pending_payment", decode[bookingBody](t, env).Booking.Status)

	w, env = s.do(t, http.MethodPost, "/api/v1/bookings/"+id+"/approve", nil, host)
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_TRANSITION", env.Error.Code)

	w, env = s.do(t, http.MethodPost, "/api/v1/bookings/"+id+"/checkout", nil, coworker)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	checkout := decode[paymentmod.CheckoutResponse](t, env)
	assert.True(t, checkout.Amount.Equal(decimal.RequireFromString("31.50")))

	// the provider reports the session paid; the webhook confirms the booking
	s.provider.sessions[checkout.SessionID].Status = paymentmod.SessionComplete
	s.provider.sessions[checkout.SessionID].PaymentStatus = paymentmod.PaymentPaid
	s.provider.sessions[checkout.SessionID].PaymentIntent = "pi_e2e"
	w = s.webhook(t, paymentmod.EventSessionCompleted, s.provider.sessions[checkout.SessionID])
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env = s.do(t, http.MethodPost, "/api/v1/payments/verify", map[string]string{"session_id": checkout.SessionID}, coworker)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	verified := decode[paymentmod.VerifyResult](t, env)
	assert.True(t, verified.Success)
	assert.Equal(t, space.ConfirmationHostApproval, verified.ConfirmationType)

	// Rome is UTC+1 in March: 11:00 local ends at 10:00 UTC
	s.clock.Set(time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC))
	w, env = s.do(t, http.MethodPost, "/internal/sweep", nil, internalToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(env.Data), `"served":1`)

	w, env = s.do(t, http.MethodGet, "/api/v1/bookings/"+id, nil, host)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "served", decode[bookingBody](t, env).Booking.Status)

	w, env = s.do(t, http.MethodGet, "/api/v1/notifications", nil, host)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(env.Data), "booking_requested")
}

func TestFlow_CoworkerCancellationRefund(t *testing.T) {
	s := setupSuite(t)
	sp := s.space(t, space.ConfirmationInstant)
	coworker := s.token(t, s.coworker, jwt.RoleCoworker)

	w, env := s.do(t, http.MethodPost, "/api/v1/bookings", map[string]any{
		"space_id": sp.ID, "booking_date": "2025-03-01", "start_time": "09:00", "end_time": "11:00", "guests_count": 1,
	}, coworker)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode[bookingBody](t, env).Booking.ID.String()

	w, env = s.do(t, http.MethodPost, "/api/v1/bookings/"+id+"/checkout", nil, coworker)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	checkout := decode[paymentmod.CheckoutResponse](t, env)

	sess := s.provider.sessions[checkout.SessionID]
	sess.Status, sess.PaymentStatus, sess.PaymentIntent = paymentmod.SessionComplete, paymentmod.PaymentPaid, "pi_cancel"
	require.Equal(t, http.StatusOK, s.webhook(t, paymentmod.EventSessionCompleted, sess).Code)

	w, env = s.do(t, http.MethodGet, "/api/v1/bookings/"+id+"/refund-preview", nil, coworker)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(env.Data), `"refund"`)

	w, _ = s.do(t, http.MethodPost, "/api/v1/bookings/"+id+"/cancel", map[string]string{"reason": "plans changed"}, coworker)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, s.provider.refunds, 1)
}

func TestRouter_AuthAndPublicRoutes(t *testing.T) {
	s := setupSuite(t)
	sp := s.space(t, space.ConfirmationInstant)

	w, _ := s.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/bookings/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env := s.do(t, http.MethodGet, "/api/v1/spaces/"+sp.ID.String()+"/availability?date=2025-03-01&start=09:00&end=11:00", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(env.Data), `"available_spots":10`)

	w, _ = s.do(t, http.MethodPost, "/api/v1/admin/bookings/"+uuid.NewString()+"/resolve",
		map[string]string{"outcome": "served"}, s.token(t, s.host, jwt.RoleHost))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(t, http.MethodPost, "/internal/sweep", nil, "wrong")
	assert.Equal(t, http.StatusForbidden, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader([]byte(`{"type":"x"}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	s.app.Router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
