package dispute

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openwork-labs/escrowd/internal/arbitration"
	"github.com/openwork-labs/escrowd/internal/escrow"
	"github.com/openwork-labs/escrowd/internal/ledger"
	"github.com/openwork-labs/escrowd/internal/validation"
)

// Handler provides HTTP endpoints for the dispute state machine.
type Handler struct {
	coordinator *Coordinator
}

// NewHandler creates a new dispute handler.
func NewHandler(coordinator *Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

// RegisterRoutes sets up dispute routes under the transactions resource.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/transactions/:id/arbitration/sender-fee", h.PaySenderFee)
	r.POST("/transactions/:id/arbitration/receiver-fee", h.PayReceiverFee)
	r.POST("/transactions/:id/arbitration/sender-timeout", h.TimeoutSender)
	r.POST("/transactions/:id/arbitration/receiver-timeout", h.TimeoutReceiver)
	r.POST("/transactions/:id/evidence", h.SubmitEvidence)
}

// FeeRequest contains the parameters for an arbitration fee deposit.
type FeeRequest struct {
	CallerID int64  `json:"callerId" binding:"required"`
	Fee      string `json:"fee" binding:"required"`
}

// PaySenderFee handles POST /v1/transactions/:id/arbitration/sender-fee
func (h *Handler) PaySenderFee(c *gin.Context) {
	h.payFee(c, h.coordinator.PayArbitrationFeeBySender)
}

// PayReceiverFee handles POST /v1/transactions/:id/arbitration/receiver-fee
func (h *Handler) PayReceiverFee(c *gin.Context) {
	h.payFee(c, h.coordinator.PayArbitrationFeeByReceiver)
}

func (h *Handler) payFee(c *gin.Context, op func(ctx context.Context, callerID, txID int64, fee string) (*escrow.Transaction, error)) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req FeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "callerId and fee are required"})
		return
	}

	tx, err := op(c.Request.Context(), req.CallerID, id, req.Fee)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// TimeoutRequest identifies the caller claiming a timeout.
type TimeoutRequest struct {
	CallerID int64 `json:"callerId" binding:"required"`
}

// TimeoutSender handles POST /v1/transactions/:id/arbitration/sender-timeout
func (h *Handler) TimeoutSender(c *gin.Context) {
	h.timeout(c, h.coordinator.TimeoutBySender)
}

// TimeoutReceiver handles POST /v1/transactions/:id/arbitration/receiver-timeout
func (h *Handler) TimeoutReceiver(c *gin.Context) {
	h.timeout(c, h.coordinator.TimeoutByReceiver)
}

func (h *Handler) timeout(c *gin.Context, op func(ctx context.Context, callerID, txID int64) (*escrow.Transaction, error)) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req TimeoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "callerId is required"})
		return
	}

	tx, err := op(c.Request.Context(), req.CallerID, id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// EvidenceRequest contains the parameters for an evidence submission.
type EvidenceRequest struct {
	CallerID    int64  `json:"callerId" binding:"required"`
	EvidenceURI string `json:"evidenceUri" binding:"required"`
}

// SubmitEvidence handles POST /v1/transactions/:id/evidence
func (h *Handler) SubmitEvidence(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req EvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "callerId and evidenceUri are required"})
		return
	}
	if len(req.EvidenceURI) > validation.MaxURILength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "evidenceUri too long"})
		return
	}

	if err := h.coordinator.SubmitEvidence(c.Request.Context(), req.CallerID, id, req.EvidenceURI); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "evidence recorded"})
}

func (h *Handler) pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "id must be numeric"})
		return 0, false
	}
	return id, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, escrow.ErrTransactionNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, escrow.ErrAccessDenied):
		status = http.StatusForbidden
		code = "access_denied"
	case errors.Is(err, ErrWrongFee):
		status = http.StatusBadRequest
		code = "invalid_request"
	case errors.Is(err, ErrFeeAlreadyPaid), errors.Is(err, ErrNotWaiting),
		errors.Is(err, ErrEvidenceClosed), errors.Is(err, escrow.ErrDisputed),
		errors.Is(err, escrow.ErrAlreadyResolved), errors.Is(err, escrow.ErrNotDisputed),
		errors.Is(err, escrow.ErrTimeoutNotReached), errors.Is(err, arbitration.ErrInsufficientFee),
		errors.Is(err, ledger.ErrInsufficientAvailable):
		status = http.StatusConflict
		code = "conflict"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
