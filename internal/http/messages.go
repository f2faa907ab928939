package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/market-sms/internal/model"
	"github.com/jmehdipour/market-sms/internal/repository"
	"github.com/jmehdipour/market-sms/internal/service/queue"
	echo "github.com/labstack/echo/v4"
)

func pathID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

// pagination reads limit/offset with the same bounds the repositories enforce.
func pagination(c echo.Context, max int) (limit, offset int) {
	limit = 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= max {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func getMessageHandler(queueSvc *queue.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := pathID(c)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
		}

		e, err := queueSvc.Get(c.Request().Context(), id)
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		}
		if err != nil {
			c.Logger().Errorf("get message %d: %v", id, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, e.View())
	}
}

func listMessagesHandler(queueSvc *queue.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, offset := pagination(c, 500)

		st := model.EntryStatus(strings.TrimSpace(c.QueryParam("status")))
		if st != "" && !st.Valid() {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid status"})
		}

		rows, err := queueSvc.List(c.Request().Context(), st, limit, offset)
		if err != nil {
			c.Logger().Errorf("list messages: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		views := make([]model.QueueEntryView, 0, len(rows))
		for _, r := range rows {
			views = append(views, r.View())
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(views),
			"results": views,
		})
	}
}

func requeueMessageHandler(queueSvc *queue.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := pathID(c)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
		}

		err := queueSvc.Requeue(c.Request().Context(), id)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		case errors.Is(err, repository.ErrNotRequeueable):
			return c.JSON(http.StatusConflict, map[string]string{"error": "entry is not dead"})
		case err != nil:
			c.Logger().Errorf("requeue %d: %v", id, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{"requeued": true, "id": id})
	}
}
