package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/market-sms/internal/config"
	"github.com/jmehdipour/market-sms/internal/db"
	"github.com/jmehdipour/market-sms/internal/dispatcher"
	"github.com/jmehdipour/market-sms/internal/gateway"
	"github.com/jmehdipour/market-sms/internal/kafka"
	"github.com/jmehdipour/market-sms/internal/logger"
	"github.com/jmehdipour/market-sms/internal/repository"
	"github.com/jmehdipour/market-sms/internal/util"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run one dispatcher pass over due queue entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		d, closeAll, err := buildDispatcher(cfg)
		if err != nil {
			return err
		}
		defer closeAll()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sum, err := d.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("dispatch: %w", err)
		}

		out, _ := json.Marshal(sum)
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var scheduleEvery time.Duration

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run dispatcher passes periodically until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		d, closeAll, err := buildDispatcher(cfg)
		if err != nil {
			return err
		}
		defer closeAll()

		sched, err := dispatcher.NewScheduler(scheduleEvery, func(ctx context.Context) {
			sum, err := d.RunOnce(ctx)
			if err != nil {
				logger.Log.Error("dispatch pass failed", zap.Error(err))
				return
			}
			logger.Log.Info("dispatch pass complete",
				zap.Int("claimed", sum.Claimed),
				zap.Int("sent", sum.Sent),
				zap.Int("failed", sum.Failed),
				zap.Int("dead", sum.Dead),
				zap.Bool("skipped", sum.Skipped),
			)
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sched.Run(ctx)
		return nil
	},
}

func init() {
	scheduleCmd.Flags().DurationVar(&scheduleEvery, "every", 30*time.Second, "interval between passes")
}

// buildDispatcher opens every connection a pass needs. The returned func
// closes them in reverse order.
func buildDispatcher(cfg config.Config) (*dispatcher.Dispatcher, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*dispatcher.Dispatcher, func(), error) {
		closeAll()
		return nil, nil, err
	}

	gw, err := gateway.NewClient(cfg.Gateway)
	if err != nil {
		return fail(fmt.Errorf("gateway: %w", err))
	}
	norm, err := util.NewPhoneNormalizer(cfg.Phone.Region, cfg.Phone.MinDigits, cfg.Phone.RestrictCountry)
	if err != nil {
		return fail(err)
	}

	dbx, err := db.NewMySQLConnection(cfg.MySQL)
	if err != nil {
		return fail(fmt.Errorf("mysql connect: %w", err))
	}
	closers = append(closers, func() { _ = dbx.Close() })

	var opts []dispatcher.Option

	if cfg.Dispatcher.Lock.Enabled {
		rdb, err := db.NewRedisClient(cfg.Redis)
		if err != nil {
			return fail(fmt.Errorf("redis connect: %w", err))
		}
		closers = append(closers, func() { _ = rdb.Close() })
		opts = append(opts, dispatcher.WithLock(
			dispatcher.NewRedisLock(rdb, cfg.Dispatcher.Lock.Key, cfg.Dispatcher.Lock.TTL),
		))
	}

	if cfg.Kafka.PublishEvents && len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(kafka.ProducerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.EventsTopic,
		})
		closers = append(closers, func() { _ = producer.Close() })
		opts = append(opts, dispatcher.WithSinks(producer))
	}

	chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
	if err != nil {
		return fail(fmt.Errorf("clickhouse connect: %w", err))
	}
	if chDB != nil {
		closers = append(closers, func() { _ = chDB.Close() })
		chEvents := repository.NewCHEventsRepository(chDB)
		opts = append(opts, dispatcher.WithSinks(dispatcher.SinkFunc(chEvents.Insert)))
	}

	d := dispatcher.NewDispatcher(
		repository.NewQueueRepository(dbx),
		repository.NewEventsRepository(dbx),
		gw,
		norm,
		dispatcher.Config{
			MaxAttempts: cfg.Dispatcher.MaxAttempts,
			BatchSize:   cfg.Dispatcher.BatchSize,
			SendDelay:   cfg.Dispatcher.SendDelay,
			StaleAfter:  cfg.Dispatcher.StaleAfter,
		},
		opts...,
	)
	return d, closeAll, nil
}
