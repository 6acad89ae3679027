package httpgin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kirinyoku/joynous/internal/service"
	"github.com/kirinyoku/joynous/internal/service/payment"
)

// @Summary  Open checkout for a reviewed draft
// @Description Creates the pending registration. Free orders are completed
// @Description immediately and come back with status captured.
// @Param    id  path  string  true  "Draft ID (uuid)"
// @Success  201  {object}  CheckoutResponse
// @Failure  409  {object}  ErrorResponse
// @Failure  422  {object}  ErrorResponse "form no longer valid"
// @Failure  429  {object}  ErrorResponse "rate limited"
// @Router   /drafts/{id}/checkout [post]
func handleCheckout(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		rlKey := strings.TrimSpace(c.GetHeader(headerClientID))
		if rlKey == "" {
			rlKey = "ip:" + c.ClientIP()
		}

		co, err := svcs.Payment.Begin(c.Request.Context(), id, rlKey)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, toCheckoutResponse(co))
	}
}

// @Summary  Capture a payment (idempotent)
// @Param    Idempotency-Key  header  string          false  "idempotency token when absent from the body"
// @Param    req              body    CaptureRequest  true   "payload"
// @Success  200  {object}  CaptureResponse
// @Failure  202  {object}  CaptureResponse "status unknown, registration stays pending"
// @Failure  402  {object}  CaptureResponse "declined"
// @Failure  409  {object}  CaptureResponse "no seats / closed / in progress"
// @Router   /payments/capture [post]
func handleCapture(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CaptureRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, CaptureResponse{Success: false, Error: err.Error()})
			return
		}

		token := strings.TrimSpace(req.IdempotencyToken)
		if token == "" {
			token = strings.TrimSpace(c.GetHeader(headerIdempotency))
		}

		idemToken, err := uuid.Parse(token)
		if err != nil {
			c.JSON(http.StatusBadRequest, CaptureResponse{Success: false, Error: "invalid idempotency token"})
			return
		}

		regID, err := uuid.Parse(req.RegistrationID)
		if err != nil {
			c.JSON(http.StatusBadRequest, CaptureResponse{Success: false, Error: "invalid registrationId"})
			return
		}

		res, err := svcs.Payment.Capture(c.Request.Context(), payment.CaptureRequest{
			PaymentReference: req.PaymentReference,
			RegistrationID:   regID,
			Amount:           req.Amount,
			EventID:          req.EventID,
			IdempotencyToken: idemToken,
		})
		if err != nil {
			respondCaptureErr(c, err)
			return
		}

		c.Header(headerIdempotency, idemToken.String())
		if res.Replayed {
			c.Header("Idempotent-Replayed", "true")
		}

		c.JSON(http.StatusOK, CaptureResponse{
			Success:          true,
			PaymentReference: res.PaymentReference,
			CapturedAmount:   res.CapturedAmount,
		})
	}
}

// @Summary  Cancel a pending registration
// @Description Called when the attendee dismisses the checkout.
// @Param    id  path  string  true  "Registration ID (uuid)"
// @Success  204
// @Failure  409  {object}  ErrorResponse "no longer pending"
// @Router   /registrations/{id}/cancel [post]
func handleCancelRegistration(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		if err := svcs.Payment.Cancel(c.Request.Context(), id); err != nil {
			respondErr(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// @Summary  Report a checkout failure
// @Param    id   path  string       true  "Registration ID (uuid)"
// @Param    req  body  FailRequest  false "processor message"
// @Success  204
// @Failure  409  {object}  ErrorResponse "no longer pending"
// @Router   /registrations/{id}/fail [post]
func handleFailRegistration(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		var req FailRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err.Error())
				return
			}
		}

		if err := svcs.Payment.Fail(c.Request.Context(), id, req.Reason); err != nil {
			respondErr(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}
