package payment

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"coworkspace/internal/cache"
	"coworkspace/internal/domain/booking"
	"coworkspace/internal/middleware"
	bookingmod "coworkspace/internal/modules/booking"
	"coworkspace/internal/pkg/response"
	"coworkspace/internal/pkg/validator"
)

const maxWebhookBody = 1 << 16

type Handler struct {
	service *Service
	limiter *cache.RateLimiter
}

func NewHandler(service *Service, limiter *cache.RateLimiter) *Handler {
	return &Handler{service: service, limiter: limiter}
}

// RegisterProtectedRoutes expects rg to be behind JWTAuth.
func (h *Handler) RegisterProtectedRoutes(rg *gin.RouterGroup) {
	rg.POST("/bookings/:id/checkout", h.CreateCheckout)
	rg.POST("/payments/verify", middleware.RateLimit(h.limiter, "payments_verify"), h.VerifyPayment)
}

func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	rg.POST("/webhooks/payments", h.Webhook)
}

func (h *Handler) CreateCheckout(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid booking id")
		return
	}
	resp, err := h.service.CreateCheckout(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		writeError(c, err, "Failed to start checkout")
		return
	}
	response.Success(c, http.StatusOK, resp)
}

func (h *Handler) VerifyPayment(c *gin.Context) {
	var req VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	if errs := validator.Validate(req); len(errs) > 0 {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", errs)
		return
	}
	res, err := h.service.VerifyPayment(c.Request.Context(), req.SessionID, middleware.UserID(c))
	if err != nil {
		writeError(c, err, "Failed to verify payment")
		return
	}
	response.Success(c, http.StatusOK, res)
}

func (h *Handler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_BODY", "Unreadable body")
		return
	}
	err = h.service.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, ErrInvalidSignature):
		response.Error(c, http.StatusBadRequest, "INVALID_SIGNATURE", "Invalid signature")
	case errors.Is(err, ErrMalformedEvent):
		response.Error(c, http.StatusBadRequest, "MALFORMED_EVENT", "Malformed event")
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process event")
	}
}

func writeError(c *gin.Context, err error, fallback string) {
	var ite *booking.InvalidTransitionError
	switch {
	case errors.As(err, &ite):
		response.ErrorWithDetails(c, http.StatusConflict, "INVALID_TRANSITION", ite.Error(),
			gin.H{"current_status": ite.Current, "requested": ite.Requested})
	case errors.Is(err, ErrVerificationTimeout):
		response.Error(c, http.StatusGatewayTimeout, "VERIFICATION_TIMEOUT",
			"Payment could not be confirmed yet. If you were charged, contact support with your session id")
	case errors.Is(err, ErrUnknownSession), errors.Is(err, booking.ErrNotFound):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ErrPaymentFailed):
		response.Error(c, http.StatusPaymentRequired, "PAYMENT_FAILED", err.Error())
	case errors.Is(err, bookingmod.ErrForbidden):
		response.Error(c, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, bookingmod.ErrReservationExpired):
		response.Error(c, http.StatusGone, "RESERVATION_EXPIRED", "The reservation expired, please book again")
	case errors.Is(err, ErrProvider):
		_ = c.Error(err)
		response.Error(c, http.StatusBadGateway, "PROVIDER_ERROR", "Payment provider unavailable")
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", fallback)
	}
}
