package arbitration

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openwork-labs/escrowd/internal/escrow"
	"github.com/openwork-labs/escrowd/internal/platform"
)

// Handler provides HTTP endpoints for dispute inspection and rulings.
type Handler struct {
	arbitrator *PlatformArbitrator
}

// NewHandler creates a new arbitration handler.
func NewHandler(arbitrator *PlatformArbitrator) *Handler {
	return &Handler{arbitrator: arbitrator}
}

// RegisterRoutes sets up arbitration routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/disputes", h.List)
	r.GET("/disputes/:id", h.Get)
	r.POST("/disputes/:id/ruling", h.GiveRuling)
}

// Get handles GET /v1/disputes/:id
func (h *Handler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "id must be numeric"})
		return
	}

	d, err := h.arbitrator.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// List handles GET /v1/disputes?platformId=N
func (h *Handler) List(c *gin.Context) {
	var platformID int64
	if v := c.Query("platformId"); v != "" {
		var err error
		platformID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "platformId must be numeric"})
			return
		}
	}

	disputes, err := h.arbitrator.List(c.Request.Context(), platformID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"disputes": disputes, "count": len(disputes)})
}

// RulingRequest contains the parameters for ruling a dispute.
type RulingRequest struct {
	CallerID int64 `json:"callerId" binding:"required"`
	Ruling   *int  `json:"ruling" binding:"required"`
}

// GiveRuling handles POST /v1/disputes/:id/ruling
func (h *Handler) GiveRuling(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "id must be numeric"})
		return
	}

	var req RulingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "callerId and ruling are required"})
		return
	}

	d, err := h.arbitrator.GiveRuling(c.Request.Context(), req.CallerID, id, *req.Ruling)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrDisputeNotFound), errors.Is(err, platform.ErrPlatformNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrNotPlatformOwner):
		status = http.StatusForbidden
		code = "access_denied"
	case errors.Is(err, ErrInvalidRuling):
		status = http.StatusBadRequest
		code = "invalid_request"
	case errors.Is(err, ErrAlreadyRuled), errors.Is(err, ErrInsufficientFee),
		errors.Is(err, escrow.ErrAlreadyResolved), errors.Is(err, escrow.ErrNotDisputed):
		status = http.StatusConflict
		code = "conflict"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
