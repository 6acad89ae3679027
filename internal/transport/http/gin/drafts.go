package httpgin

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kirinyoku/joynous/internal/regform"
	"github.com/kirinyoku/joynous/internal/service"
	"github.com/kirinyoku/joynous/internal/service/registration"
)

// @Summary  Start a registration draft
// @Param    id           path    int     true   "Event ID"
// @Param    X-Client-ID  header  string  false  "browser identifier used for prefill"
// @Success  201  {object}  registration.Draft
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id}/drafts [post]
func handleStartDraft(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		clientID := strings.TrimSpace(c.GetHeader(headerClientID))

		d, err := svcs.Registration.Start(c.Request.Context(), clientID, eventID)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, d)
	}
}

// @Summary  Get a registration draft
// @Param    id  path  string  true  "Draft ID (uuid)"
// @Success  200  {object}  registration.Draft
// @Failure  404  {object}  ErrorResponse
// @Router   /drafts/{id} [get]
func handleGetDraft(svcs *service.Services) gin.HandlerFunc {
	return handleStep(svcs.Registration.Get)
}

// handleStep serves draft operations that take no body: get, increment,
// decrement, review, back and retry.
func handleStep(step func(ctx context.Context, id uuid.UUID) (*registration.Draft, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		d, err := step(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, d)
	}
}

// @Summary  Update attendee details
// @Param    id   path  string           true  "Draft ID (uuid)"
// @Param    req  body  regform.Details  true  "attendee details"
// @Success  200  {object}  registration.Draft
// @Failure  409  {object}  ErrorResponse "draft locked"
// @Router   /drafts/{id}/details [put]
func handleUpdateDetails(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		var req regform.Details
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		d, err := svcs.Registration.UpdateDetails(c.Request.Context(), id, req)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, d)
	}
}

// @Summary  Set ticket quantity
// @Description The quantity is clamped to 1 and the seats left.
// @Param    id   path  string           true  "Draft ID (uuid)"
// @Param    req  body  QuantityRequest  true  "quantity"
// @Success  200  {object}  registration.Draft
// @Router   /drafts/{id}/quantity [put]
func handleSetQuantity(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		var req QuantityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		d, err := svcs.Registration.SetQuantity(c.Request.Context(), id, *req.Quantity)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, d)
	}
}

// @Summary  Set a ticket holder name
// @Param    id     path  string             true  "Draft ID (uuid)"
// @Param    index  path  int                true  "zero-based ticket index"
// @Param    req    body  TicketNameRequest  true  "holder name"
// @Success  200  {object}  registration.Draft
// @Failure  400  {object}  ErrorResponse
// @Router   /drafts/{id}/tickets/{index} [put]
func handleSetTicketName(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		index, err := strconv.Atoi(c.Param("index"))
		if err != nil {
			badRequest(c, "invalid index")
			return
		}

		var req TicketNameRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		d, err := svcs.Registration.SetTicketName(c.Request.Context(), id, index, req.Name)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, d)
	}
}

// @Summary  Apply a coupon
// @Param    id   path  string              true  "Draft ID (uuid)"
// @Param    req  body  ApplyCouponRequest  true  "coupon code"
// @Success  200  {object}  registration.Draft
// @Failure  409  {object}  ErrorResponse "extra coupon already applied"
// @Failure  422  {object}  ErrorResponse "invalid or expired coupon"
// @Router   /drafts/{id}/coupons [post]
func handleApplyCoupon(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		var req ApplyCouponRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		d, err := svcs.Registration.ApplyCoupon(c.Request.Context(), id, req.Code)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, d)
	}
}

// @Summary  Remove a coupon
// @Param    id    path  string  true  "Draft ID (uuid)"
// @Param    slot  path  string  true  "primary or extra"
// @Success  200  {object}  registration.Draft
// @Router   /drafts/{id}/coupons/{slot} [delete]
func handleRemoveCoupon(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		d, err := svcs.Registration.RemoveCoupon(c.Request.Context(), id, c.Param("slot"))
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, d)
	}
}
