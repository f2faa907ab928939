package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jmehdipour/market-sms/internal/dispatcher"
	"github.com/stretchr/testify/require"
)

type webhookRig struct {
	srv     *httptest.Server
	inbound *fakeInbound
	events  *fakeEvents
	queue   *memQueue
}

func newWebhookRig(t *testing.T) *webhookRig {
	t.Helper()

	r := &webhookRig{inbound: &fakeInbound{}, events: &fakeEvents{}, queue: newMemQueue()}
	e := newEcho(testConfig(), deps{inbound: r.inbound, events: r.events, lookup: r.queue})
	r.srv = httptest.NewServer(e)
	t.Cleanup(r.srv.Close)
	return r
}

func (r *webhookRig) post(t *testing.T, token, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, r.srv.URL+"/webhook", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Gateway-Token", token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var sb strings.Builder
	_, _ = io.Copy(&sb, resp.Body)
	return resp.StatusCode, sb.String()
}

func TestWebhook_WrongSecret(t *testing.T) {
	r := newWebhookRig(t)

	code, body := r.post(t, "nope", `{"event":"sms:received","payload":{"phoneNumber":"+639171234567","text":"hi"}}`)
	require.Equal(t, http.StatusForbidden, code)
	require.JSONEq(t, `{"error":"invalid token"}`, body)
	require.Empty(t, r.inbound.rows)
	require.Empty(t, r.events.rows)
}

func TestWebhook_InvalidJSON(t *testing.T) {
	r := newWebhookRig(t)

	code, body := r.post(t, "s3cret", `{"event":`)
	require.Equal(t, http.StatusBadRequest, code)
	require.JSONEq(t, `{"error":"invalid json"}`, body)
	require.Empty(t, r.inbound.rows)
}

func TestWebhook_TrailingGarbage(t *testing.T) {
	r := newWebhookRig(t)

	for _, raw := range []string{
		`{"event":"sms:delivered","payload":{"messageId":"abc123"}} trailing`,
		`{"event":"sms:received","payload":{"phoneNumber":"+639171234567","text":"hi"}}{}`,
	} {
		code, body := r.post(t, "s3cret", raw)
		require.Equal(t, http.StatusBadRequest, code, raw)
		require.JSONEq(t, `{"error":"invalid json"}`, body)
	}
	require.Empty(t, r.inbound.rows)
	require.Empty(t, r.events.rows)
}

func TestWebhook_InboundSMS(t *testing.T) {
	r := newWebhookRig(t)

	raw := `{"event":"sms:received","payload":{"phoneNumber":"+639171234567","text":"hi"}}`
	code, body := r.post(t, "s3cret", raw)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"ok":true}`, body)

	require.Len(t, r.inbound.rows, 1)
	got := r.inbound.rows[0]
	require.Equal(t, "+639171234567", got.Sender.String)
	require.Equal(t, "hi", got.Body.String)
	require.False(t, got.ProviderMessageID.Valid)
	require.False(t, got.SimNumber.Valid)
	require.Equal(t, raw, string(got.RawPayload))
	require.WithinDuration(t, time.Now(), got.ReceivedAt, time.Minute)
	require.Empty(t, r.events.rows)
}

func TestWebhook_InboundFieldAliases(t *testing.T) {
	r := newWebhookRig(t)

	raw := `{"type":"incoming","message_id":"m-1","from":"+639181234567","body":"stall 12 paid","sim":2,"received_at":"2026-04-01T09:30:00+08:00"}`
	code, _ := r.post(t, "s3cret", raw)
	require.Equal(t, http.StatusOK, code)

	require.Len(t, r.inbound.rows, 1)
	got := r.inbound.rows[0]
	require.Equal(t, "m-1", got.ProviderMessageID.String)
	require.Equal(t, "+639181234567", got.Sender.String)
	require.Equal(t, "stall 12 paid", got.Body.String)
	require.Equal(t, "2", got.SimNumber.String)
	require.Equal(t, time.Date(2026, 4, 1, 1, 30, 0, 0, time.UTC), got.ReceivedAt)
}

func TestWebhook_PayloadWinsOverTopLevel(t *testing.T) {
	r := newWebhookRig(t)

	raw := `{"event":"sms:incoming","id":"envelope-1","payload":{"messageId":"m-2","message":"hello","phoneNumber":"+639171234567","simNumber":1}}`
	code, _ := r.post(t, "s3cret", raw)
	require.Equal(t, http.StatusOK, code)

	got := r.inbound.rows[0]
	require.Equal(t, "m-2", got.ProviderMessageID.String)
	require.Equal(t, "hello", got.Body.String)
	require.Equal(t, "1", got.SimNumber.String)
}

func TestWebhook_SamePayloadTwiceInsertsTwice(t *testing.T) {
	r := newWebhookRig(t)

	raw := `{"event":"sms:received","payload":{"messageId":"m-3","phoneNumber":"+639171234567","message":"hi"}}`
	for i := 0; i < 2; i++ {
		code, _ := r.post(t, "s3cret", raw)
		require.Equal(t, http.StatusOK, code)
	}
	require.Len(t, r.inbound.rows, 2)
}

func TestWebhook_OtherEventStoredUncorrelated(t *testing.T) {
	r := newWebhookRig(t)

	raw := `{"event":"sms:delivered","payload":{"messageId":"unknown-id"}}`
	code, body := r.post(t, "s3cret", raw)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"ok":true}`, body)

	require.Len(t, r.events.rows, 1)
	ev := r.events.rows[0]
	require.Equal(t, "sms:delivered", ev.EventType)
	require.Nil(t, ev.QueueID)
	require.Equal(t, raw, string(ev.Payload))
	require.Empty(t, r.inbound.rows)
}

func TestWebhook_EventCorrelatedByExternalID(t *testing.T) {
	r := newWebhookRig(t)
	r.queue.external["abc123"] = 42

	code, _ := r.post(t, "s3cret", `{"event":"sms:failed","payload":{"messageId":"abc123","reason":"no signal"}}`)
	require.Equal(t, http.StatusOK, code)

	require.Len(t, r.events.rows, 1)
	require.NotNil(t, r.events.rows[0].QueueID)
	require.Equal(t, int64(42), *r.events.rows[0].QueueID)
}

func TestWebhook_UnknownShapes(t *testing.T) {
	r := newWebhookRig(t)

	for _, raw := range []string{`{}`, `[]`, `"x"`, `{"event":7}`, `{"payload":"not an object"}`} {
		code, body := r.post(t, "s3cret", raw)
		require.Equal(t, http.StatusOK, code, raw)
		require.JSONEq(t, `{"ok":true}`, body)
	}

	require.Len(t, r.events.rows, 5)
	require.Equal(t, "unknown", r.events.rows[0].EventType)
	require.Equal(t, "7", r.events.rows[3].EventType)
}

func TestWebhook_PersistenceFailureStillOK(t *testing.T) {
	r := newWebhookRig(t)
	r.inbound.err = errDB
	r.events.err = errDB
	r.queue.err = errDB

	code, body := r.post(t, "s3cret", `{"event":"sms:received","payload":{"phoneNumber":"+639171234567","text":"hi"}}`)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"ok":true}`, body)

	code, body = r.post(t, "s3cret", `{"event":"sms:sent","payload":{"messageId":"abc123"}}`)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"ok":true}`, body)
}

func TestWebhook_EventsFannedOutToSinks(t *testing.T) {
	inbound, events, q := &fakeInbound{}, &fakeEvents{}, newMemQueue()
	q.external["abc123"] = 42
	ok, broken := &recordingSink{}, &recordingSink{err: errDB}

	e := newEcho(testConfig(), deps{inbound: inbound, events: events, lookup: q, sinks: []dispatcher.EventSink{broken, ok}})
	r := &webhookRig{srv: httptest.NewServer(e), inbound: inbound, events: events, queue: q}
	t.Cleanup(r.srv.Close)

	raw := `{"event":"sms:delivered","payload":{"messageId":"abc123"}}`
	code, _ := r.post(t, "s3cret", raw)
	require.Equal(t, http.StatusOK, code)

	code, _ = r.post(t, "s3cret", `{"event":"sms:received","payload":{"phoneNumber":"+639171234567","text":"hi"}}`)
	require.Equal(t, http.StatusOK, code)

	// inbound messages are not events; a failing sink does not stop the next one
	require.Len(t, ok.evs, 1)
	require.Len(t, broken.evs, 1)
	ev := ok.evs[0]
	require.Equal(t, int64(1), ev.ID)
	require.Equal(t, "sms:delivered", ev.EventType)
	require.True(t, ev.QueueID.Valid)
	require.Equal(t, int64(42), ev.QueueID.Int64)
	require.JSONEq(t, raw, string(ev.Payload))

	events.err = errDB
	code, _ = r.post(t, "s3cret", raw)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, ok.evs, 1)
}
