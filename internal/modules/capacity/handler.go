package capacity

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"coworkspace/internal/pkg/response"
	"coworkspace/internal/pkg/validator"
)

type Handler struct {
	resolver *Resolver
}

func NewHandler(resolver *Resolver) *Handler {
	return &Handler{resolver: resolver}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/spaces/:id/availability", h.GetAvailability)
}

type availabilityQuery struct {
	Date  string `form:"date" json:"date" validate:"required,date"`
	Start string `form:"start" json:"start" validate:"required,clock"`
	End   string `form:"end" json:"end" validate:"required,clock"`
}

func (h *Handler) GetAvailability(c *gin.Context) {
	spaceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid space id")
		return
	}

	var q availabilityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid query parameters")
		return
	}
	if errs := validator.Validate(q); len(errs) > 0 {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid query parameters", errs)
		return
	}

	response.Success(c, http.StatusOK, h.resolver.GetAvailableCapacity(c.Request.Context(), spaceID, q.Date, q.Start, q.End))
}
