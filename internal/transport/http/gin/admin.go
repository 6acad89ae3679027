package httpgin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kirinyoku/joynous/internal/domain"
	"github.com/kirinyoku/joynous/internal/service"
	"github.com/kirinyoku/joynous/internal/service/admin"
)

// @Summary  Create event or trip
// @Param    X-Admin-Token  header  string              true  "admin token"
// @Param    req            body    CreateEventRequest  true  "payload"
// @Success  201  {object}  CreateEventResponse
// @Failure  400  {object}  ErrorResponse
// @Failure  401  {object}  ErrorResponse
// @Failure  409  {object}  ErrorResponse "slug taken"
// @Router   /admin/events [post]
func handleCreateEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		starts, err := parseRFC3339(req.StartsAt)
		if err != nil {
			badRequest(c, "invalid starts_at (RFC3339)")
			return
		}

		in := admin.NewEvent{
			Kind:       domain.EventKind(req.Kind),
			Slug:       req.Slug,
			Name:       req.Name,
			StartsAt:   starts,
			Venue:      req.Venue,
			TotalSeats: req.TotalSeats,
			Price:      req.Price,
		}

		if req.EarlyBirdEndsAt != nil && *req.EarlyBirdEndsAt != "" {
			ends, err := parseRFC3339(*req.EarlyBirdEndsAt)
			if err != nil {
				badRequest(c, "invalid early_bird_ends_at (RFC3339)")
				return
			}
			in.EarlyBirdEndsAt = &ends
		}

		id, err := svcs.Admin.CreateEvent(c.Request.Context(), in)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, CreateEventResponse{EventID: id})
	}
}

// @Summary  List registrations of an event
// @Param    X-Admin-Token  header  string  true   "admin token"
// @Param    id             path    int     true   "Event ID"
// @Param    limit          query   int     false  "page size"
// @Param    offset         query   int     false  "offset"
// @Success  200  {object}  admin.RegistrationSummary
// @Failure  401  {object}  ErrorResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /admin/events/{id}/registrations [get]
func handleListRegistrations(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		sum, err := svcs.Admin.ListRegistrations(
			c.Request.Context(),
			eventID,
			parseIntDefault(c.Query("limit"), 100),
			parseIntDefault(c.Query("offset"), 0),
		)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, sum)
	}
}
