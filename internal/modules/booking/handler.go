package booking

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"coworkspace/internal/cache"
	"coworkspace/internal/middleware"
	"coworkspace/internal/pkg/jwt"
	"coworkspace/internal/pkg/response"
	"coworkspace/internal/pkg/validator"
)

type Handler struct {
	service *Service
	limiter *cache.RateLimiter
}

func NewHandler(service *Service, limiter *cache.RateLimiter) *Handler {
	return &Handler{service: service, limiter: limiter}
}

// RegisterRoutes expects rg to be behind JWTAuth.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/bookings", middleware.RateLimit(h.limiter, "bookings_create"), h.CreateBooking)
	rg.GET("/bookings/me", h.ListMine)
	rg.GET("/bookings/host", middleware.RequireRole(jwt.RoleHost, jwt.RoleAdmin), h.ListHost)
	rg.GET("/bookings/:id", h.GetBooking)
	rg.GET("/bookings/:id/refund-preview", h.RefundPreview)
	rg.POST("/bookings/:id/approve", h.Approve)
	rg.POST("/bookings/:id/reject", h.Reject)
	rg.POST("/bookings/:id/cancel", h.Cancel)
	rg.POST("/bookings/:id/checkin", h.CheckIn)
	rg.POST("/bookings/:id/report-issue", h.ReportIssue)
}

// RegisterAdminRoutes expects rg to be behind JWTAuth and AdminOnly.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("/bookings/:id/resolve", h.Resolve)
}

func (h *Handler) CreateBooking(c *gin.Context) {
	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	if errs := validator.Validate(req); len(errs) > 0 {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", errs)
		return
	}

	b, err := h.service.Create(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		writeError(c, err, "Failed to create booking")
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"booking": b})
}

func (h *Handler) ListMine(c *gin.Context) {
	limit, offset := pagination(c)
	resp, err := h.service.ListForCoworker(c.Request.Context(), middleware.UserID(c), limit, offset)
	if err != nil {
		writeError(c, err, "Failed to list bookings")
		return
	}
	response.Success(c, http.StatusOK, resp)
}

func (h *Handler) ListHost(c *gin.Context) {
	limit, offset := pagination(c)
	resp, err := h.service.ListForHost(c.Request.Context(), middleware.UserID(c), limit, offset)
	if err != nil {
		writeError(c, err, "Failed to list bookings")
		return
	}
	response.Success(c, http.StatusOK, resp)
}

func (h *Handler) GetBooking(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}
	b, err := h.service.Get(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		writeError(c, err, "Failed to get booking")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"booking": b})
}

func (h *Handler) RefundPreview(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}
	res, err := h.service.RefundPreview(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		writeError(c, err, "Failed to compute refund")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"refund": res})
}

func (h *Handler) Approve(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}
	b, err := h.service.Approve(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		writeError(c, err, "Failed to approve booking")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"booking": b})
}

func (h *Handler) Reject(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}
	var req ReasonRequest
	if !bindOptional(c, &req) {
		return
	}
	b, err := h.service.Reject(c.Request.Context(), id, middleware.UserID(c), req.Reason)
	if err != nil {
		writeError(c, err, "Failed to reject booking")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"booking": b})
}

func (h *Handler) Cancel(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}
	var req ReasonRequest
	if !bindOptional(c, &req) {
		return
	}
	resp, err := h.service.Cancel(c.Request.Context(), id, actorFrom(c), req.Reason)
	if err != nil {
		writeError(c, err, "Failed to cancel booking")
		return
	}
	response.Success(c, http.StatusOK, resp)
}

func (h *Handler) CheckIn(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}
	b, err := h.service.CheckIn(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		writeError(c, err, "Failed to check in")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"booking": b})
}

func (h *Handler) ReportIssue(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}
	b, err := h.service.ReportIssue(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		writeError(c, err, "Failed to report issue")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"booking": b})
}

func (h *Handler) Resolve(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	if errs := validator.Validate(req); len(errs) > 0 {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", errs)
		return
	}
	b, err := h.service.ResolveFrozen(c.Request.Context(), id, req.Outcome)
	if err != nil {
		writeError(c, err, "Failed to resolve booking")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"booking": b})
}

func bookingID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid booking id")
		return uuid.Nil, false
	}
	return id, true
}

func actorFrom(c *gin.Context) Actor {
	return Actor{UserID: middleware.UserID(c), Role: c.GetString("role")}
}

// bindOptional accepts an empty body.
func bindOptional(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return false
	}
	if errs := validator.Validate(dst); len(errs) > 0 {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", errs)
		return false
	}
	return true
}

func pagination(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	return limit, offset
}

// writeError maps service errors onto the response envelope.
func writeError(c *gin.Context, err error, fallback string) {
	var ite *InvalidTransition
	switch {
	case errors.As(err, &ite):
		response.ErrorWithDetails(c, http.StatusConflict, "INVALID_TRANSITION", ite.Error(),
			gin.H{"current_status": ite.Current, "requested": ite.Requested})
	case errors.Is(err, ErrValidation):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, ErrInvalidOutcome):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, ErrNotFound):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", "Booking not found")
	case errors.Is(err, ErrSpaceNotFound):
		response.Error(c, http.StatusNotFound, "SPACE_NOT_FOUND", "Space not found")
	case errors.Is(err, ErrForbidden):
		response.Error(c, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, ErrCapacityExceeded):
		response.Error(c, http.StatusConflict, "CAPACITY_EXCEEDED", "Not enough seats left for the selected time")
	case errors.Is(err, ErrReservationExpired):
		response.Error(c, http.StatusGone, "RESERVATION_EXPIRED", "The reservation expired, please book again")
	case errors.Is(err, ErrCheckInWindow):
		response.Error(c, http.StatusUnprocessableEntity, "CHECKIN_WINDOW", err.Error())
	case errors.Is(err, ErrNotSettleable):
		response.Error(c, http.StatusConflict, "NOT_SETTLEABLE", err.Error())
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", fallback)
	}
}
