package httpgin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kirinyoku/joynous/internal/pricing"
	"github.com/kirinyoku/joynous/internal/regform"
	"github.com/kirinyoku/joynous/internal/service/admin"
	"github.com/kirinyoku/joynous/internal/service/payment"
	"github.com/kirinyoku/joynous/internal/service/query"
	"github.com/kirinyoku/joynous/internal/service/registration"
)

// errorStatuses maps service sentinels to HTTP statuses. The first match
// wins and its text is the response message.
var errorStatuses = []struct {
	err    error
	status int
}{
	// query service
	{query.ErrEventNotFound, http.StatusNotFound},
	{query.ErrRegistrationNotFound, http.StatusNotFound},
	// admin service
	{admin.ErrEventConflict, http.StatusConflict},
	{admin.ErrEventNotFound, http.StatusNotFound},
	{admin.ErrInvalidEvent, http.StatusBadRequest},
	// registration service
	{registration.ErrDraftNotFound, http.StatusNotFound},
	{registration.ErrEventNotFound, http.StatusNotFound},
	{registration.ErrUnknownCouponSlot, http.StatusBadRequest},
	{registration.ErrDraftBusy, http.StatusConflict},
	{regform.ErrFlowLocked, http.StatusConflict},
	{regform.ErrInvalidTransition, http.StatusConflict},
	{regform.ErrTicketIndex, http.StatusBadRequest},
	{pricing.ErrInvalidCoupon, http.StatusUnprocessableEntity},
	{pricing.ErrCouponExpired, http.StatusUnprocessableEntity},
	{pricing.ErrDuplicateExtraCoupon, http.StatusConflict},
	{pricing.ErrNoCoupon, http.StatusNotFound},
	// payment service
	{payment.ErrNoSeatsAvailable, http.StatusConflict},
	{payment.ErrCaptureFailed, http.StatusPaymentRequired},
	{payment.ErrPaymentStatusUnknown, http.StatusAccepted},
	{payment.ErrRegistrationClosed, http.StatusConflict},
	{payment.ErrRegistrationNotFound, http.StatusNotFound},
	{payment.ErrAmountMismatch, http.StatusBadRequest},
	{payment.ErrCaptureInProgress, http.StatusConflict},
	{payment.ErrCheckoutInProgress, http.StatusConflict},
	{payment.ErrRateLimited, http.StatusTooManyRequests},
	{payment.ErrInvalidRequest, http.StatusBadRequest},
}

func statusOf(err error) (int, string) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return e.status, e.err.Error()
		}
	}
	return http.StatusInternalServerError, "internal error"
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	if ve, ok := regform.AsValidationError(err); ok {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "validation failed", Fields: ve.Fields})
		return
	}

	status, msg := statusOf(err)
	switch status {
	case http.StatusInternalServerError:
		_ = c.Error(err)
	case http.StatusTooManyRequests:
		c.Header("Retry-After", "60")
	case http.StatusConflict:
		if errors.Is(err, payment.ErrCaptureInProgress) || errors.Is(err, payment.ErrCheckoutInProgress) {
			c.Header("Retry-After", "1")
		}
	}

	c.JSON(status, ErrorResponse{Error: msg})
}

// respondCaptureErr writes the capture envelope for a failed capture.
func respondCaptureErr(c *gin.Context, err error) {
	status, msg := statusOf(err)

	resp := CaptureResponse{Success: false, Error: msg}
	switch {
	case status == http.StatusInternalServerError:
		_ = c.Error(err)
	case errors.Is(err, payment.ErrNoSeatsAvailable):
		resp.Detail = payment.NoSeatsReason
	case errors.Is(err, payment.ErrCaptureInProgress):
		c.Header("Retry-After", "1")
	}

	c.JSON(status, resp)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	v, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return v, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
