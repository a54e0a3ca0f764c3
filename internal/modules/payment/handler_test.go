package payment

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func verifyRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(f.svc, nil)
	router := gin.New()
	router.POST("/payments/verify", func(c *gin.Context) {
		c.Set("user_id", f.coworker)
	}, h.VerifyPayment)
	return router
}

func TestVerifyPaymentHandler_TimeoutIsNotSuccess(t *testing.T) {
	f := setup(t)
	_, p := f.pendingBooking(t)
	f.provider.On("GetSession", mock.Anything, p.SessionID).
		Return(&Session{ID: p.SessionID, Status: SessionOpen, PaymentStatus: PaymentUnpaid}, nil)

	req := httptest.NewRequest(http.MethodPost, "/payments/verify", strings.NewReader(`{"session_id":"`+p.SessionID+`"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	verifyRouter(f).ServeHTTP(w, req)

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "VERIFICATION_TIMEOUT", body.Error.Code)
	assert.Contains(t, body.Error.Message, "contact support")
}

func TestVerifyPaymentHandler_Confirmed(t *testing.T) {
	f := setup(t)
	_, p := f.pendingBooking(t)
	f.provider.On("GetSession", mock.Anything, p.SessionID).Return(paidSession(p.SessionID, "pi_h"), nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/payments/verify", strings.NewReader(`{"session_id":"`+p.SessionID+`"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	verifyRouter(f).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)
}
