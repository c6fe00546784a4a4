package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	"umamicore/api/config"
)

type ClickHouseClient struct {
	Conn clickhouse.Conn
	log  *zap.Logger
}

const clickHouseEventTable = `
	CREATE TABLE IF NOT EXISTS website_event (
		event_id UUID,
		website_id UUID,
		session_id UUID,
		visit_id UUID,
		created_at DateTime64(6, 'UTC'),
		url_path String,
		url_query Nullable(String),
		referrer_domain Nullable(String),
		page_title Nullable(String),
		hostname Nullable(String),
		event_type UInt32,
		event_name Nullable(String),
		tag Nullable(String)
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(created_at)
	ORDER BY (website_id, created_at, session_id)
`

func NewClickHouseDB(cfg config.ClickHouseConfig, log *zap.Logger) (*ClickHouseClient, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("clickhouse host is not configured")
	}

	options := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.NativePort)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "umamicore", Version: "1.0.0"}},
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: cfg.DialTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse via Native TCP: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	if err := conn.Exec(ctx, clickHouseEventTable); err != nil {
		return nil, fmt.Errorf("failed to create ClickHouse event table: %w", err)
	}

	log.Info("connected to ClickHouse", zap.String("addr", options.Addr[0]))
	return &ClickHouseClient{Conn: conn, log: log}, nil
}

func (c *ClickHouseClient) Close() {
	if c.Conn != nil {
		c.Conn.Close()
		c.log.Info("ClickHouse connection closed")
	}
}
