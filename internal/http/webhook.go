package http

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/jmehdipour/market-sms/internal/dispatcher"
	"github.com/jmehdipour/market-sms/internal/logger"
	"github.com/jmehdipour/market-sms/internal/metrics"
	"github.com/jmehdipour/market-sms/internal/model"
	"github.com/jmehdipour/market-sms/internal/util"
	"github.com/jmoiron/sqlx"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

const (
	eventUnknown     = "unknown"
	eventSMSReceived = "sms:received"
)

var inboundEvents = map[string]bool{
	eventSMSReceived: true,
	"incoming":       true,
	"sms:incoming":   true,
}

// Field aliases seen across gateway app versions, first match wins.
var (
	providerIDFields = []string{"messageId", "message_id", "id"}
	senderFields     = []string{"phoneNumber", "from", "sender", "phone"}
	textFields       = []string{"message", "text", "body"}
	simFields        = []string{"simNumber", "sim_number", "sim"}
	receivedAtFields = []string{"receivedAt", "received_at"}
)

type inboundStore interface {
	Insert(ctx context.Context, m model.InboundMessage) (int64, error)
}

type eventStore interface {
	Append(ctx context.Context, tx *sqlx.Tx, queueID *int64, eventType string, payload []byte) (int64, error)
}

type externalIDLookup interface {
	FindByExternalID(ctx context.Context, externalID string) (int64, bool, error)
}

type webhookHandler struct {
	inbound inboundStore
	events  eventStore
	lookup  externalIDLookup // optional
	sinks   []dispatcher.EventSink
	now     func() time.Time
}

// webhook records gateway callbacks. Once the body parses, the response is
// always {"ok":true}; persistence failures are logged so the gateway does not
// retry forever.
func (h *webhookHandler) webhook(c echo.Context) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid json"})
	}

	// the raw body is stored as a JSON column, so trailing data is rejected too
	if !json.Valid(raw) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid json"})
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid json"})
	}

	ctx := c.Request().Context()
	name := eventName(doc)

	if inboundEvents[name] {
		h.storeInbound(ctx, doc, raw)
	} else {
		h.storeEvent(ctx, name, doc, raw)
	}

	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (h *webhookHandler) storeInbound(ctx context.Context, doc any, raw []byte) {
	m := model.InboundMessage{
		ProviderMessageID: field(doc, providerIDFields),
		Sender:            field(doc, senderFields),
		Body:              field(doc, textFields),
		SimNumber:         field(doc, simFields),
		ReceivedAt:        h.now().UTC(),
		RawPayload:        raw,
	}
	if at := field(doc, receivedAtFields); at.Valid {
		if t, err := time.Parse(time.RFC3339Nano, at.String); err == nil {
			m.ReceivedAt = t.UTC()
		}
	}

	if _, err := h.inbound.Insert(ctx, m); err != nil {
		metrics.WebhookEvents.WithLabelValues("inbound", "error").Inc()
		logger.Log.Error("store inbound sms", zap.Error(err), zap.String("sender", m.Sender.String))
		return
	}
	metrics.WebhookEvents.WithLabelValues("inbound", "stored").Inc()
}

func (h *webhookHandler) storeEvent(ctx context.Context, name string, doc any, raw []byte) {
	var queueID *int64
	if ext := field(doc, providerIDFields); ext.Valid && h.lookup != nil {
		id, found, err := h.lookup.FindByExternalID(ctx, ext.String)
		switch {
		case err != nil:
			logger.Log.Warn("correlate webhook event", zap.String("external_id", ext.String), zap.Error(err))
		case found:
			queueID = &id
		}
	}

	id, err := h.events.Append(ctx, nil, queueID, name, raw)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("event", "error").Inc()
		logger.Log.Error("store webhook event", zap.String("event", name), zap.Error(err))
		return
	}
	metrics.WebhookEvents.WithLabelValues("event", "stored").Inc()

	ev := model.QueueEvent{ID: id, EventType: name, Payload: raw, CreatedAt: h.now().UTC()}
	if queueID != nil {
		ev.QueueID = sql.NullInt64{Int64: *queueID, Valid: true}
	}
	for _, s := range h.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			logger.Log.Warn("publish webhook event", zap.String("event", name), zap.Error(err))
		}
	}
}

func eventName(doc any) string {
	if name, ok := util.LookupString(doc, "event"); ok {
		return name
	}
	for _, key := range []string{"type", "messageType"} {
		if v, ok := util.LookupString(doc, key); ok && v == "incoming" {
			return eventSMSReceived
		}
	}
	return eventUnknown
}

// field looks the aliases up in "payload" first, then at the top level.
func field(doc any, aliases []string) sql.NullString {
	scopes := []any{doc}
	if obj, ok := doc.(map[string]any); ok {
		if p, ok := obj["payload"].(map[string]any); ok {
			scopes = []any{p, doc}
		}
	}

	for _, scope := range scopes {
		for _, key := range aliases {
			if v, ok := util.LookupString(scope, key); ok {
				return sql.NullString{String: v, Valid: true}
			}
		}
	}
	return sql.NullString{}
}
