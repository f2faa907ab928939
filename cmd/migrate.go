package cmd

import (
	"fmt"

	"github.com/jmehdipour/market-sms/internal/db"
	"github.com/jmehdipour/market-sms/internal/logger"
	"github.com/jmehdipour/market-sms/migrations"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations (dev: DROP & CREATE tables)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()

		if _, err := sqlDB.Exec("SET FOREIGN_KEY_CHECKS = 0"); err != nil {
			return fmt.Errorf("disable fk checks: %w", err)
		}
		if err := applyFile(sqlDB, migrations.MySQLInit); err != nil {
			_, _ = sqlDB.Exec("SET FOREIGN_KEY_CHECKS = 1")
			return err
		}
		if _, err := sqlDB.Exec("SET FOREIGN_KEY_CHECKS = 1"); err != nil {
			return fmt.Errorf("enable fk checks: %w", err)
		}

		chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		if chDB != nil {
			defer chDB.Close()
			if err := applyFile(chDB, migrations.ClickHouseInit); err != nil {
				return err
			}
		}

		logger.Log.Info("migration complete", zap.Bool("clickhouse", chDB != nil))
		fmt.Fprintln(cmd.OutOrStdout(), ">> Migration complete")
		return nil
	},
}

// applyFile runs each statement separately; neither driver accepts multi-statement Exec by default.
func applyFile(conn *sqlx.DB, name string) error {
	raw, err := migrations.FS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}
	for i, stmt := range migrations.Statements(string(raw)) {
		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("exec %s statement %d: %w", name, i+1, err)
		}
	}
	return nil
}
