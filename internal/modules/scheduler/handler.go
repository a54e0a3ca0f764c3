package scheduler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"coworkspace/internal/pkg/response"
)

type Handler struct {
	sweeper *Sweeper
}

func NewHandler(sweeper *Sweeper) *Handler {
	return &Handler{sweeper: sweeper}
}

// RegisterRoutes expects rg to be behind InternalTokenAuth.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/sweep", h.Sweep)
}

func (h *Handler) Sweep(c *gin.Context) {
	rep, err := h.sweeper.Run(c.Request.Context())
	if err != nil {
		if errors.Is(err, ErrSweepRunning) {
			response.Error(c, http.StatusConflict, "SWEEP_RUNNING", err.Error())
			return
		}
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Sweep failed")
		return
	}
	response.Success(c, http.StatusOK, rep)
}
