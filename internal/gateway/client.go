package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/market-sms/internal/config"
	"github.com/jmehdipour/market-sms/internal/metrics"
	"github.com/jmehdipour/market-sms/internal/model"
	"github.com/jmehdipour/market-sms/internal/util"
)

const maxResponseBytes = 1 << 20

// SendResult is the normalized outcome of one gateway call. Send never
// returns an error; every failure mode is folded into a result with OK=false.
type SendResult struct {
	OK          bool    `json:"ok"`
	HTTPStatus  int     `json:"http_status"`
	MessageID   *string `json:"message_id"`
	RawResponse *string `json:"raw_response"`
	Error       *string `json:"error"`
}

// ErrorText returns the failure description or "" for successful results.
func (r SendResult) ErrorText() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// Sender is what the dispatcher needs from a gateway.
type Sender interface {
	Ready() bool
	Send(ctx context.Context, to, body string) SendResult
}

// messageIDPaths lists where known gateway revisions put the message id, first match wins.
var messageIDPaths = [][]string{
	{"id"},
	{"messageId"},
	{"message_id"},
	{"message", "id"},
	{"data", "id"},
}

type Client struct {
	url         string
	authMode    string
	username    string
	password    string
	token       string
	schemaStyle string
	schemaKey   string
	client      *http.Client
	br          *Breaker
}

var _ Sender = (*Client)(nil)

func NewClient(cfg config.GatewayConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	path := cfg.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	key := cfg.SchemaKey
	if key == "" {
		key = "message"
	}

	return &Client{
		url:         strings.TrimRight(cfg.BaseURL, "/") + path,
		authMode:    cfg.AuthMode,
		username:    cfg.Username,
		password:    cfg.Password,
		token:       cfg.Token,
		schemaStyle: cfg.SchemaStyle,
		schemaKey:   key,
		client:      &http.Client{Timeout: timeout},
		br: NewBreaker(
			cfg.Breaker.FailThreshold,
			time.Duration(cfg.Breaker.OpenForMs)*time.Millisecond,
		),
	}, nil
}

func (c *Client) Ready() bool          { return c.br.Ready() }
func (c *Client) BreakerState() string { return c.br.State() }

// Send posts one text message to the gateway.
func (c *Client) Send(ctx context.Context, to, body string) (res SendResult) {
	defer func() {
		if r := recover(); r != nil {
			c.br.OnFailure()
			res = failure(0, nil, fmt.Sprintf("exception: %v", r))
		}
	}()

	if !c.br.TryAcquire() {
		return failure(0, nil, "gateway circuit open")
	}

	payload, err := c.encode(to, body)
	if err != nil {
		return failure(0, nil, fmt.Sprintf("exception: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return failure(0, nil, fmt.Sprintf("exception: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.GatewayRequestSeconds.WithLabelValues("error").Observe(time.Since(start).Seconds())
		c.br.OnFailure()
		return failure(0, nil, err.Error())
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	metrics.GatewayRequestSeconds.WithLabelValues(statusClass(resp.StatusCode)).Observe(time.Since(start).Seconds())
	rawText := string(raw)

	if readErr != nil {
		c.br.OnFailure()
		return failure(resp.StatusCode, &rawText, fmt.Sprintf("read response: %v", readErr))
	}

	if resp.StatusCode/100 != 2 {
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			c.br.OnFailure()
		} else {
			c.br.OnSuccess()
		}
		return failure(resp.StatusCode, &rawText, fmt.Sprintf("http %d", resp.StatusCode))
	}

	c.br.OnSuccess()

	id, ok := extractMessageID(raw)
	if !ok {
		return failure(resp.StatusCode, &rawText, "missing message id in gateway response")
	}

	return SendResult{
		OK:          true,
		HTTPStatus:  resp.StatusCode,
		MessageID:   &id,
		RawResponse: &rawText,
	}
}

func (c *Client) encode(to, body string) ([]byte, error) {
	sms := model.NewOutboundSMS(to, body)
	if c.schemaStyle == config.SchemaFlat {
		return json.Marshal(sms)
	}
	return json.Marshal(map[string]model.OutboundSMS{c.schemaKey: sms})
}

func (c *Client) authorize(req *http.Request) {
	switch c.authMode {
	case config.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+c.token)
	default:
		req.SetBasicAuth(c.username, c.password)
	}
}

func failure(status int, raw *string, msg string) SendResult {
	return SendResult{OK: false, HTTPStatus: status, RawResponse: raw, Error: &msg}
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

func extractMessageID(raw []byte) (string, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return "", false
	}

	for _, path := range messageIDPaths {
		if v, ok := util.LookupString(doc, path...); ok {
			return v, true
		}
	}
	return "", false
}
