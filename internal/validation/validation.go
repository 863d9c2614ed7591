// Package validation provides input validation for the escrow API.
package validation

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openwork-labs/escrowd/internal/token"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxURILength bounds evidence and meta-evidence URIs
const MaxURILength = 2048

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// SanitizeString trims, bounds, and strips null bytes from a string field
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// ValidationError represents a single field error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators and collects errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks that a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidCurrency checks that a field is a currency address or the native sentinel
func ValidCurrency(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if _, err := token.Normalize(value); err != nil {
			return &ValidationError{Field: field, Message: "must be a 20-byte hex address (0x0 for native)"}
		}
		return nil
	}
}

// ValidAmount checks that a field parses as a non-negative smallest-unit amount
func ValidAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if _, err := token.ParseAmount(value); err != nil {
			return &ValidationError{Field: field, Message: "must be a non-negative integer amount"}
		}
		return nil
	}
}

// PositiveAmount checks that a field parses as a strictly positive amount
func PositiveAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		v, err := token.ParseAmount(value)
		if err != nil || v.Sign() <= 0 {
			return &ValidationError{Field: field, Message: "must be a positive integer amount"}
		}
		return nil
	}
}

// ValidRate checks a basis-point rate against the 10000 denominator
func ValidRate(field string, rateBps int64) func() *ValidationError {
	return func() *ValidationError {
		if !token.ValidRate(rateBps) {
			return &ValidationError{Field: field, Message: "must be <= 10000 basis points"}
		}
		return nil
	}
}
