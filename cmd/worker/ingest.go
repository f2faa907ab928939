package worker

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/market-sms/internal/db"
	"github.com/jmehdipour/market-sms/internal/kafka"
	"github.com/jmehdipour/market-sms/internal/logger"
	"github.com/jmehdipour/market-sms/internal/repository"
	"github.com/jmehdipour/market-sms/internal/service/queue"
	"github.com/jmehdipour/market-sms/internal/util"
	"github.com/jmehdipour/market-sms/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Consume enqueue envelopes from Kafka into the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is empty")
		}

		norm, err := util.NewPhoneNormalizer(cfg.Phone.Region, cfg.Phone.MinDigits, cfg.Phone.RestrictCountry)
		if err != nil {
			return err
		}

		dbx, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer dbx.Close()

		svc := queue.New(repository.NewQueueRepository(dbx), norm, cfg.API.MaxBodyRunes)

		consumer := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          cfg.Kafka.IngestTopic,
			GroupID:        cfg.Kafka.GroupID,
			MinBytes:       cfg.Kafka.MinBytes,
			MaxBytes:       cfg.Kafka.MaxBytes,
			CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
		})
		defer consumer.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Log.Info("ingest started",
			zap.String("topic", cfg.Kafka.IngestTopic),
			zap.String("group", cfg.Kafka.GroupID),
		)

		err = worker.NewIngest(consumer, svc).Run(ctx)

		logger.Log.Info("ingest stopped", zap.Int64("lag", consumer.Lag()))
		return err
	},
}
