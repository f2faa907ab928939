package db

import (
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmehdipour/market-sms/internal/config"
	"github.com/jmoiron/sqlx"
)

// NewClickHouseConnection returns (nil, nil) when the mirror is disabled.
// DSN e.g. clickhouse://default:@localhost:9000/market_sms?dial_timeout=5s&compress=true
func NewClickHouseConnection(c config.ClickHouseConfig) (*sqlx.DB, error) {
	if !c.Enabled {
		return nil, nil
	}
	if c.DSN == "" {
		return nil, fmt.Errorf("empty ClickHouse DSN")
	}

	db, err := sqlx.Open("clickhouse", c.DSN)
	if err != nil {
		return nil, err
	}
	applyPool(db, c.DatabaseConfig)

	timeout := c.PingTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if err := ping(db, timeout); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return db, nil
}
