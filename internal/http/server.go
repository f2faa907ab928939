package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/market-sms/internal/config"
	"github.com/jmehdipour/market-sms/internal/dispatcher"
	"github.com/jmehdipour/market-sms/internal/http/middleware"
	"github.com/jmehdipour/market-sms/internal/kafka"
	"github.com/jmehdipour/market-sms/internal/logger"
	"github.com/jmehdipour/market-sms/internal/metrics"
	"github.com/jmehdipour/market-sms/internal/repository"
	"github.com/jmehdipour/market-sms/internal/service/queue"
	"github.com/jmehdipour/market-sms/internal/util"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	e       *echo.Echo
	closers []func() error
}

// deps is everything the routes need; tests build it from fakes.
type deps struct {
	queue    *queue.Service
	inbound  inboundStore
	events   eventStore
	lookup   externalIDLookup
	chEvents repository.CHEventsRepository // nil when ClickHouse is disabled
	redis    *redis.Client                 // nil disables rate limiting
	sinks    []dispatcher.EventSink        // webhook event copies
}

// NewServer wires repositories over the given connections. clickhouseDB and
// rds may be nil.
func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client) (*Server, error) {
	// repos (MySQL)
	queueRepo := repository.NewQueueRepository(mysqlDB)
	eventsRepo := repository.NewEventsRepository(mysqlDB)
	inboundRepo := repository.NewInboundRepository(mysqlDB)

	// repos (ClickHouse)
	var (
		chEventsRepo repository.CHEventsRepository
		sinks        []dispatcher.EventSink
		closers      []func() error
	)
	if clickhouseDB != nil {
		chEventsRepo = repository.NewCHEventsRepository(clickhouseDB)
		sinks = append(sinks, dispatcher.SinkFunc(chEventsRepo.Insert))
	}
	if cfg.Kafka.PublishEvents && len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(kafka.ProducerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.EventsTopic,
		})
		sinks = append(sinks, producer)
		closers = append(closers, producer.Close)
	}

	norm, err := util.NewPhoneNormalizer(cfg.Phone.Region, cfg.Phone.MinDigits, cfg.Phone.RestrictCountry)
	if err != nil {
		return nil, err
	}

	e := newEcho(cfg, deps{
		queue:    queue.New(queueRepo, norm, cfg.API.MaxBodyRunes),
		inbound:  inboundRepo,
		events:   eventsRepo,
		lookup:   queueRepo,
		chEvents: chEventsRepo,
		redis:    rds,
		sinks:    sinks,
	})

	metrics.MustRegister(prometheus.DefaultRegisterer)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return &Server{e: e, closers: closers}, nil
}

func newEcho(cfg config.Config, d deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(echoLogLevel(cfg.Log.Level))
	e.Use(echoMid.Recover(), echoMid.Logger())

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// gateway callbacks
	wh := &webhookHandler{inbound: d.inbound, events: d.events, lookup: d.lookup, sinks: d.sinks, now: time.Now}
	e.POST("/webhook", wh.webhook, middleware.GatewayTokenMiddleware(cfg.Webhook.Secret, cfg.Webhook.Headers))

	// middlewares
	authMW := middleware.APIKeyMiddleware(cfg.API.Keys)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.redis,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "rl:client:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/messages", sendSMSHandler(d.queue))
	v1.GET("/messages", listMessagesHandler(d.queue))
	v1.GET("/messages/:id", getMessageHandler(d.queue))
	v1.POST("/messages/:id/requeue", requeueMessageHandler(d.queue))
	v1.GET("/reports/events", listEventsHandler(d.chEvents))

	return e
}

func echoLogLevel(level string) log.Lvl {
	switch level {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}

func (s *Server) Start(addr string) error {
	logger.Log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

// Shutdown stops the listener, then closes the event producers.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.e.Shutdown(ctx)
	for _, c := range s.closers {
		if cerr := c(); cerr != nil {
			logger.Log.Warn("close event sink", zap.Error(cerr))
		}
	}
	return err
}
