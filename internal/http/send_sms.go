package http

import (
	"net/http"

	"github.com/jmehdipour/market-sms/internal/model"
	"github.com/jmehdipour/market-sms/internal/service/queue"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type sendReq struct {
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

func sendSMSHandler(queueSvc *queue.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req sendReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		id, err := queueSvc.Enqueue(c.Request().Context(), model.Envelope{
			Recipient: req.Recipient,
			Body:      req.Body,
		})
		if err != nil {
			if queue.IsInvalid(err) {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}

			log.Errorf("enqueue failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusAccepted, map[string]any{
			"enqueued": true,
			"id":       id,
		})
	}
}
