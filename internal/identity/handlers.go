package identity

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openwork-labs/escrowd/internal/validation"
)

// Handler provides HTTP endpoints for profile operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new identity handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up identity routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/profiles", h.Register)
	r.GET("/profiles/:id", h.Get)
	r.POST("/profiles/:id/delegates", h.AddDelegate)
	r.DELETE("/profiles/:id/delegates/:delegateId", h.RemoveDelegate)
}

// RegisterRequest contains the parameters for minting a profile.
type RegisterRequest struct {
	Handle  string `json:"handle" binding:"required"`
	Address string `json:"address" binding:"required"`
}

// DelegateRequest contains the parameters for delegate management.
type DelegateRequest struct {
	CallerID   int64 `json:"callerId"`
	DelegateID int64 `json:"delegateId"`
}

// Register handles POST /v1/profiles
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "handle and address are required",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("handle", req.Handle),
		validation.Required("address", req.Address),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	profile, err := h.service.Register(c.Request.Context(), req.Handle, req.Address)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrInvalidHandle), errors.Is(err, ErrInvalidAddress):
			status = http.StatusBadRequest
			code = "invalid_request"
		case errors.Is(err, ErrHandleTaken), errors.Is(err, ErrAddressTaken):
			status = http.StatusConflict
			code = "conflict"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"profile": profile})
}

// Get handles GET /v1/profiles/:id
func (h *Handler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "id must be numeric"})
		return
	}

	profile, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Profile not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"profile": profile})
}

// AddDelegate handles POST /v1/profiles/:id/delegates
func (h *Handler) AddDelegate(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "id must be numeric"})
		return
	}

	var req DelegateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "callerId and delegateId are required"})
		return
	}

	if err := h.service.AddDelegate(c.Request.Context(), req.CallerID, id, req.DelegateID); err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrNotOwner):
			status = http.StatusForbidden
			code = "unauthorized"
		case errors.Is(err, ErrProfileNotFound):
			status = http.StatusNotFound
			code = "not_found"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "delegate added"})
}

// RemoveDelegate handles DELETE /v1/profiles/:id/delegates/:delegateId
func (h *Handler) RemoveDelegate(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "id must be numeric"})
		return
	}
	delegateID, err := strconv.ParseInt(c.Param("delegateId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "delegateId must be numeric"})
		return
	}

	var req DelegateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "callerId is required"})
		return
	}

	if err := h.service.RemoveDelegate(c.Request.Context(), req.CallerID, id, delegateID); err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		if errors.Is(err, ErrNotOwner) {
			status = http.StatusForbidden
			code = "unauthorized"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "delegate removed"})
}
