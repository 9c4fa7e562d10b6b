package response

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	domainerrors "dotpay.backend/internal/domain/errors"
)

// Envelope is the uniform response shape.
type Envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Success sends a success envelope
func Success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Envelope{Success: true, Data: data, Timestamp: now()})
}

// SuccessWithMessage sends a success envelope with a human-readable message
func SuccessWithMessage(c *gin.Context, status int, data interface{}, message string) {
	c.JSON(status, Envelope{Success: true, Data: data, Message: message, Timestamp: now()})
}

// Error maps an application error to its HTTP status and sends the envelope.
func Error(c *gin.Context, err error) {
	var appErr *domainerrors.AppError
	if !errors.As(err, &appErr) {
		appErr = domainerrors.Internal(err)
	}
	c.JSON(appErr.Status, Envelope{Success: false, Error: appErr.Message, Timestamp: now()})
}

// ErrorWithStatus sends an error envelope with an explicit status.
func ErrorWithStatus(c *gin.Context, status int, message string) {
	c.JSON(status, Envelope{Success: false, Error: message, Timestamp: now()})
}
