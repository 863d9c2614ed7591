package marketplace

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openwork-labs/escrowd/internal/token"
	"github.com/openwork-labs/escrowd/internal/validation"
)

// Handler provides HTTP endpoints for services and proposals.
type Handler struct {
	registry *Registry
}

// NewHandler creates a new marketplace handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes sets up marketplace routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/services", h.CreateService)
	r.GET("/services", h.ListServices)
	r.GET("/services/:id", h.GetService)
	r.GET("/services/:id/proposals", h.ListProposals)
	r.POST("/services/:id/proposals", h.CreateProposal)
	r.POST("/services/:id/accept", h.AcceptProposal)
}

// CreateServiceRequest contains the parameters for posting a listing.
type CreateServiceRequest struct {
	BuyerID     int64  `json:"buyerId" binding:"required"`
	PlatformID  int64  `json:"platformId" binding:"required"`
	Description string `json:"description" binding:"required"`
}

// CreateService handles POST /v1/services
func (h *Handler) CreateService(c *gin.Context) {
	var req CreateServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "buyerId, platformId and description are required",
		})
		return
	}

	desc := validation.SanitizeString(req.Description, 2000)
	svc, err := h.registry.CreateService(c.Request.Context(), req.BuyerID, req.PlatformID, desc)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"service": svc})
}

// GetService handles GET /v1/services/:id
func (h *Handler) GetService(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	svc, err := h.registry.GetService(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"service": svc})
}

// ListServices handles GET /v1/services?platformId=N
func (h *Handler) ListServices(c *gin.Context) {
	var platformID int64
	if v := c.Query("platformId"); v != "" {
		var err error
		platformID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "platformId must be numeric"})
			return
		}
	}

	services, err := h.registry.ListServices(c.Request.Context(), platformID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"services": services, "count": len(services)})
}

// CreateProposalRequest contains the parameters for a seller's offer.
type CreateProposalRequest struct {
	SellerID         int64  `json:"sellerId" binding:"required"`
	PlatformID       int64  `json:"platformId" binding:"required"`
	Token            string `json:"token"`
	Amount           string `json:"amount" binding:"required"`
	Data             string `json:"data" binding:"required"`
	ExpiresInSeconds int64  `json:"expiresInSeconds" binding:"required"`
}

// CreateProposal handles POST /v1/services/:id/proposals
func (h *Handler) CreateProposal(c *gin.Context) {
	serviceID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var req CreateProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "sellerId, platformId, amount, data and expiresInSeconds are required",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidCurrency("token", req.Token),
		validation.PositiveAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	p, err := h.registry.CreateProposal(c.Request.Context(), CreateProposalParams{
		ServiceID:  serviceID,
		SellerID:   req.SellerID,
		PlatformID: req.PlatformID,
		Token:      req.Token,
		Amount:     req.Amount,
		Data:       req.Data,
		ExpiresAt:  time.Now().Add(time.Duration(req.ExpiresInSeconds) * time.Second),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"proposal": p})
}

// ListProposals handles GET /v1/services/:id/proposals
func (h *Handler) ListProposals(c *gin.Context) {
	serviceID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	proposals, err := h.registry.ListProposals(c.Request.Context(), serviceID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"proposals": proposals, "count": len(proposals)})
}

// AcceptProposalRequest contains the parameters for accepting an offer.
type AcceptProposalRequest struct {
	CallerID   int64 `json:"callerId" binding:"required"`
	ProposalID int64 `json:"proposalId" binding:"required"`
}

// AcceptProposal handles POST /v1/services/:id/accept
func (h *Handler) AcceptProposal(c *gin.Context) {
	serviceID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var req AcceptProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "callerId and proposalId are required"})
		return
	}

	svc, err := h.registry.AcceptProposal(c.Request.Context(), req.CallerID, serviceID, req.ProposalID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"service": svc})
}

func (h *Handler) pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": name + " must be numeric"})
		return 0, false
	}
	return id, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrServiceNotFound), errors.Is(err, ErrProposalNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrNotOwner):
		status = http.StatusForbidden
		code = "unauthorized"
	case errors.Is(err, ErrServiceNotOpen), errors.Is(err, ErrAlreadyAccepted),
		errors.Is(err, ErrProposalExpired), errors.Is(err, ErrProposalMismatch):
		status = http.StatusConflict
		code = "conflict"
	case errors.Is(err, ErrInvalidDescription), errors.Is(err, token.ErrInvalidAmount),
		errors.Is(err, token.ErrInvalidCurrency):
		status = http.StatusBadRequest
		code = "invalid_request"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
