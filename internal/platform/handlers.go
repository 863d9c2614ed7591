package platform

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openwork-labs/escrowd/internal/token"
)

// Handler provides HTTP endpoints for platform management.
type Handler struct {
	service *Service
}

// NewHandler creates a new platform handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up platform routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/platforms", h.Create)
	r.GET("/platforms", h.List)
	r.GET("/platforms/:id", h.Get)
	r.PUT("/platforms/:id/fees", h.UpdateFees)
	r.PUT("/platforms/:id/arbitration", h.UpdateArbitration)
}

// CreateRequest contains the parameters for registering a platform.
type CreateRequest struct {
	Name                         string `json:"name" binding:"required"`
	OwnerID                      int64  `json:"ownerId" binding:"required"`
	OriginServiceFeeRate         int64  `json:"originServiceFeeRate"`
	OriginProposalFeeRate        int64  `json:"originProposalFeeRate"`
	ArbitrationPrice             string `json:"arbitrationPrice"`
	ArbitrationFeeTimeoutSeconds int64  `json:"arbitrationFeeTimeoutSeconds"`
}

// Create handles POST /v1/platforms
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "name and ownerId are required",
		})
		return
	}

	p, err := h.service.Create(c.Request.Context(), CreateParams{
		Name:                  req.Name,
		OwnerID:               req.OwnerID,
		OriginServiceFeeRate:  req.OriginServiceFeeRate,
		OriginProposalFeeRate: req.OriginProposalFeeRate,
		ArbitrationPrice:      req.ArbitrationPrice,
		ArbitrationFeeTimeout: time.Duration(req.ArbitrationFeeTimeoutSeconds) * time.Second,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"platform": p})
}

// Get handles GET /v1/platforms/:id
func (h *Handler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "id must be numeric"})
		return
	}

	p, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"platform": p})
}

// List handles GET /v1/platforms
func (h *Handler) List(c *gin.Context) {
	platforms, err := h.service.List(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"platforms": platforms, "count": len(platforms)})
}

// UpdateFeesRequest contains the parameters for changing origin fee rates.
type UpdateFeesRequest struct {
	CallerID              int64 `json:"callerId" binding:"required"`
	OriginServiceFeeRate  int64 `json:"originServiceFeeRate"`
	OriginProposalFeeRate int64 `json:"originProposalFeeRate"`
}

// UpdateFees handles PUT /v1/platforms/:id/fees
func (h *Handler) UpdateFees(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "id must be numeric"})
		return
	}

	var req UpdateFeesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "callerId is required"})
		return
	}

	p, err := h.service.UpdateFeeRates(c.Request.Context(), req.CallerID, id,
		req.OriginServiceFeeRate, req.OriginProposalFeeRate)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"platform": p})
}

// UpdateArbitrationRequest contains the parameters for changing arbitration terms.
type UpdateArbitrationRequest struct {
	CallerID                     int64  `json:"callerId" binding:"required"`
	ArbitrationPrice             string `json:"arbitrationPrice" binding:"required"`
	ArbitrationFeeTimeoutSeconds int64  `json:"arbitrationFeeTimeoutSeconds" binding:"required"`
}

// UpdateArbitration handles PUT /v1/platforms/:id/arbitration
func (h *Handler) UpdateArbitration(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "id must be numeric"})
		return
	}

	var req UpdateArbitrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "callerId, arbitrationPrice and arbitrationFeeTimeoutSeconds are required",
		})
		return
	}

	p, err := h.service.UpdateArbitrationTerms(c.Request.Context(), req.CallerID, id,
		req.ArbitrationPrice, time.Duration(req.ArbitrationFeeTimeoutSeconds)*time.Second)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"platform": p})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrPlatformNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrNotOwner):
		status = http.StatusForbidden
		code = "unauthorized"
	case errors.Is(err, ErrInvalidName), errors.Is(err, ErrInvalidRate),
		errors.Is(err, ErrInvalidTimeout), errors.Is(err, token.ErrInvalidAmount):
		status = http.StatusBadRequest
		code = "invalid_request"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
