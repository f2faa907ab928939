package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/jmehdipour/market-sms/internal/config"
	"github.com/jmehdipour/market-sms/internal/db"
	"github.com/jmehdipour/market-sms/internal/model"
	"github.com/jmehdipour/market-sms/internal/repository"
	"github.com/jmehdipour/market-sms/internal/service/queue"
	"github.com/jmehdipour/market-sms/internal/util"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var (
	enqueueTo   string
	enqueueBody string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Add one message to the outbound queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		svc, err := newQueueService(cfg, sqlDB)
		if err != nil {
			return err
		}

		id, err := svc.Enqueue(cmd.Context(), model.Envelope{Recipient: enqueueTo, Body: enqueueBody})
		if err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), ">> Enqueued id=%d\n", id)
		return nil
	},
}

var requeueCmd = &cobra.Command{
	Use:   "requeue <id>",
	Short: "Reset a dead entry to queued with zero attempts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid id %q", args[0])
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		svc, err := newQueueService(cfg, sqlDB)
		if err != nil {
			return err
		}

		switch err := svc.Requeue(cmd.Context(), id); {
		case errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("entry %d not found", id)
		case errors.Is(err, repository.ErrNotRequeueable):
			return fmt.Errorf("entry %d is not dead", id)
		case err != nil:
			return fmt.Errorf("requeue: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), ">> Requeued id=%d\n", id)
		return nil
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueTo, "to", "", "recipient phone number")
	enqueueCmd.Flags().StringVar(&enqueueBody, "body", "", "message text")
	_ = enqueueCmd.MarkFlagRequired("to")
	_ = enqueueCmd.MarkFlagRequired("body")
}

func newQueueService(cfg config.Config, sqlDB *sqlx.DB) (*queue.Service, error) {
	norm, err := util.NewPhoneNormalizer(cfg.Phone.Region, cfg.Phone.MinDigits, cfg.Phone.RestrictCountry)
	if err != nil {
		return nil, err
	}
	return queue.New(repository.NewQueueRepository(sqlDB), norm, cfg.API.MaxBodyRunes), nil
}
