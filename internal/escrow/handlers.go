package escrow

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openwork-labs/escrowd/internal/ledger"
	"github.com/openwork-labs/escrowd/internal/marketplace"
	"github.com/openwork-labs/escrowd/internal/platform"
	"github.com/openwork-labs/escrowd/internal/token"
	"github.com/openwork-labs/escrowd/internal/validation"
)

// Handler provides HTTP endpoints for escrow transactions.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/transactions", h.Create)
	r.GET("/transactions", h.List)
	r.GET("/transactions/:id", h.Get)
	r.GET("/transactions/:id/events", h.Events)
	r.POST("/transactions/:id/release", h.Release)
	r.POST("/transactions/:id/reimburse", h.Reimburse)
	r.GET("/fees/:beneficiaryId", h.FeeBalance)
	r.POST("/fees/:beneficiaryId/claim", h.Claim)
	r.POST("/admin/pause", h.Pause)
	r.POST("/admin/unpause", h.Unpause)
}

// CreateRequest contains the parameters for opening an escrow transaction.
type CreateRequest struct {
	CallerID           int64  `json:"callerId" binding:"required"`
	ServiceID          int64  `json:"serviceId" binding:"required"`
	MetaEvidenceURI    string `json:"metaEvidenceUri"`
	ProposalDataDigest string `json:"proposalDataDigest" binding:"required"`
	Payment            string `json:"payment" binding:"required"`
}

// Create handles POST /v1/transactions
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "callerId, serviceId, proposalDataDigest and payment are required",
		})
		return
	}

	if errs := validation.Validate(
		validation.PositiveAmount("payment", req.Payment),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}
	if len(req.MetaEvidenceURI) > validation.MaxURILength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "metaEvidenceUri too long"})
		return
	}

	tx, err := h.service.Create(c.Request.Context(), req.CallerID, req.ServiceID,
		req.MetaEvidenceURI, req.ProposalDataDigest, req.Payment)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"transaction": tx})
}

// Get handles GET /v1/transactions/:id
func (h *Handler) Get(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	tx, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// List handles GET /v1/transactions?profileId=N&limit=N
func (h *Handler) List(c *gin.Context) {
	var profileID int64
	if v := c.Query("profileId"); v != "" {
		var err error
		profileID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "profileId must be numeric"})
			return
		}
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	txs, err := h.service.List(c.Request.Context(), profileID, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txs, "count": len(txs)})
}

// Events handles GET /v1/transactions/:id/events
func (h *Handler) Events(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	events, err := h.service.Events(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// PaymentRequest contains the parameters for a release or reimbursement.
type PaymentRequest struct {
	CallerID int64  `json:"callerId" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
}

// Release handles POST /v1/transactions/:id/release
func (h *Handler) Release(c *gin.Context) {
	h.payment(c, h.service.Release)
}

// Reimburse handles POST /v1/transactions/:id/reimburse
func (h *Handler) Reimburse(c *gin.Context) {
	h.payment(c, h.service.Reimburse)
}

func (h *Handler) payment(c *gin.Context, op func(ctx context.Context, callerID, txID int64, amount string) (*Transaction, error)) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var req PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "callerId and amount are required"})
		return
	}

	tx, err := op(c.Request.Context(), req.CallerID, id, req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// ClaimRequest contains the parameters for withdrawing a fee balance.
type ClaimRequest struct {
	CallerID int64  `json:"callerId" binding:"required"`
	Token    string `json:"token"`
}

// Claim handles POST /v1/fees/:beneficiaryId/claim
func (h *Handler) Claim(c *gin.Context) {
	beneficiaryID, ok := h.pathID(c, "beneficiaryId")
	if !ok {
		return
	}

	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "callerId is required"})
		return
	}

	amount, err := h.service.Claim(c.Request.Context(), req.CallerID, beneficiaryID, req.Token)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"claimed": amount})
}

// FeeBalance handles GET /v1/fees/:beneficiaryId?token=0x…
func (h *Handler) FeeBalance(c *gin.Context) {
	beneficiaryID, ok := h.pathID(c, "beneficiaryId")
	if !ok {
		return
	}

	fb, err := h.service.FeeBalance(c.Request.Context(), beneficiaryID, c.Query("token"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"feeBalance": fb})
}

// AdminRequest identifies the caller for pause/unpause.
type AdminRequest struct {
	CallerID int64 `json:"callerId" binding:"required"`
}

// Pause handles POST /v1/admin/pause
func (h *Handler) Pause(c *gin.Context) {
	var req AdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "callerId is required"})
		return
	}
	if err := h.service.Pause(req.CallerID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

// Unpause handles POST /v1/admin/unpause
func (h *Handler) Unpause(c *gin.Context) {
	var req AdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "callerId is required"})
		return
	}
	if err := h.service.Unpause(req.CallerID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": false})
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
	case errors.Is(err, ErrTransactionNotFound),
		errors.Is(err, marketplace.ErrServiceNotFound),
		errors.Is(err, platform.ErrPlatformNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrAccessDenied):
		status = http.StatusForbidden
		code = "access_denied"
	case errors.Is(err, ErrPaused):
		status = http.StatusServiceUnavailable
		code = "paused"
	case errors.Is(err, ErrNonMatchingFunds), errors.Is(err, ErrAmountTooLow),
		errors.Is(err, token.ErrInvalidAmount), errors.Is(err, token.ErrInvalidCurrency):
		status = http.StatusBadRequest
		code = "invalid_request"
	case errors.Is(err, ErrProposalExpired), errors.Is(err, ErrProposalDataChanged),
		errors.Is(err, ErrServiceNotOpen), errors.Is(err, marketplace.ErrNoAcceptedProposal),
		errors.Is(err, ErrDisputed), errors.Is(err, ErrAlreadyResolved),
		errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrNoFeeBalance),
		errors.Is(err, ledger.ErrInsufficientAvailable):
		status = http.StatusConflict
		code = "conflict"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
