package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/market-sms/internal/model"
	"github.com/jmehdipour/market-sms/internal/repository"
	echo "github.com/labstack/echo/v4"
)

// listEventsHandler serves the ClickHouse mirror of sms_events. chRepo is nil
// when ClickHouse is disabled.
func listEventsHandler(chRepo repository.CHEventsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		if chRepo == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "reports disabled"})
		}

		limit, offset := pagination(c, 1000)
		eventType := strings.TrimSpace(c.QueryParam("type"))

		var queueID int64
		if v := c.QueryParam("queue_id"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n <= 0 {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid queue_id"})
			}
			queueID = n
		}

		events, err := chRepo.List(c.Request().Context(), eventType, queueID, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		views := make([]model.QueueEventView, 0, len(events))
		for _, ev := range events {
			views = append(views, ev.View())
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(views),
			"results": views,
		})
	}
}
