package httpgin

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/kirinyoku/joynous/internal/domain"
	"github.com/kirinyoku/joynous/internal/service"
)

type RouterConfig struct {
	AdminToken string
}

func NewRouter(
	svcs *service.Services,
	cfg RouterConfig,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), RequestIDMiddleware(), LoggingMiddleware(logger), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// events and trips
	r.GET("/events", handleListEvents(svcs))
	r.GET("/events/:id", handleGetEvent(svcs))
	r.GET("/events/:id/availability", handleGetAvailability(svcs))
	r.POST("/events/:id/drafts", handleStartDraft(svcs))

	// registration drafts
	drafts := r.Group("/drafts/:id")
	{
		drafts.GET("", handleGetDraft(svcs))
		drafts.PUT("/details", handleUpdateDetails(svcs))
		drafts.PUT("/quantity", handleSetQuantity(svcs))
		drafts.POST("/quantity/increment", handleStep(svcs.Registration.Increment))
		drafts.POST("/quantity/decrement", handleStep(svcs.Registration.Decrement))
		drafts.PUT("/tickets/:index", handleSetTicketName(svcs))
		drafts.POST("/coupons", handleApplyCoupon(svcs))
		drafts.DELETE("/coupons/:slot", handleRemoveCoupon(svcs))
		drafts.POST("/review", handleStep(svcs.Registration.Review))
		drafts.POST("/back", handleStep(svcs.Registration.Back))
		drafts.POST("/retry", handleStep(svcs.Registration.Retry))
		drafts.POST("/checkout", handleCheckout(svcs))
	}

	// payments
	r.POST("/payments/capture", handleCapture(svcs))
	r.GET("/registrations/:id", handleGetRegistration(svcs))
	r.POST("/registrations/:id/cancel", handleCancelRegistration(svcs))
	r.POST("/registrations/:id/fail", handleFailRegistration(svcs))

	admin := r.Group("/admin", AdminAuth(cfg.AdminToken))
	{
		admin.POST("/events", handleCreateEvent(svcs))
		admin.GET("/events/:id/registrations", handleListRegistrations(svcs))
	}

	return r
}

// @Summary  List events and trips
// @Param    kind    query  string  false  "event or trip"
// @Param    limit   query  int     false  "page size"
// @Param    offset  query  int     false  "offset"
// @Success  200  {array}   domain.Event
// @Failure  400  {object}  ErrorResponse
// @Router   /events [get]
func handleListEvents(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind := domain.EventKind(c.Query("kind"))
		if kind != "" && !kind.Valid() {
			badRequest(c, "invalid kind")
			return
		}

		events, err := svcs.Query.ListEvents(
			c.Request.Context(),
			kind,
			parseIntDefault(c.Query("limit"), 0),
			parseIntDefault(c.Query("offset"), 0),
		)
		if err != nil {
			respondErr(c, err)
			return
		}

		writeJSONWithCache(c, http.StatusOK, events, cacheEventList)
	}
}

// @Summary  Get event
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  domain.Event
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id} [get]
func handleGetEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		e, err := svcs.Query.GetEvent(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}

		writeJSONWithCache(c, http.StatusOK, e, cacheEvent)
	}
}

// @Summary  Get seat availability
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  domain.Availability
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id}/availability [get]
func handleGetAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		a, err := svcs.Query.Availability(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}

		writeJSONWithCache(c, http.StatusOK, a, cacheAvailability)
	}
}

// @Summary  Get registration
// @Param    id  path  string  true  "Registration ID (uuid)"
// @Success  200  {object}  domain.Registration
// @Failure  404  {object}  ErrorResponse
// @Router   /registrations/{id} [get]
func handleGetRegistration(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		reg, err := svcs.Query.GetRegistration(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, reg)
	}
}
