package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/studypilot/backend/internal/storage/models"
	"github.com/studypilot/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dbPath != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single writer avoids SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS match_stats (
		stage TEXT NOT NULL,
		topic TEXT NOT NULL,
		match_count INTEGER NOT NULL DEFAULT 0,
		confidence_sum REAL NOT NULL DEFAULT 0,
		local_count INTEGER NOT NULL DEFAULT 0,
		last_seen INTEGER NOT NULL,
		PRIMARY KEY (stage, topic)
	);
	CREATE INDEX IF NOT EXISTS idx_match_stats_count ON match_stats(match_count);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) RecordOutcome(ctx context.Context, outcome *models.MatchOutcome) error {
	query := `
		INSERT INTO match_stats (stage, topic, match_count, confidence_sum, local_count, last_seen)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(stage, topic) DO UPDATE SET
			match_count = match_count + 1,
			confidence_sum = confidence_sum + excluded.confidence_sum,
			local_count = local_count + excluded.local_count,
			last_seen = excluded.last_seen
	`

	local := 0
	if outcome.IsLocal {
		local = 1
	}

	_, err := c.db.ExecContext(
		ctx,
		query,
		outcome.Stage,
		outcome.Topic,
		outcome.Confidence,
		local,
		outcome.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to record match outcome: %w", err)
	}

	logger.Debug("Match outcome recorded",
		zap.String("response_id", outcome.ResponseID),
		zap.String("stage", outcome.Stage),
		zap.String("topic", outcome.Topic),
	)

	return nil
}

func (c *Client) TopicCounts(ctx context.Context) ([]models.TopicCount, error) {
	query := `
		SELECT stage, topic, match_count, confidence_sum, last_seen
		FROM match_stats
		ORDER BY match_count DESC, stage, topic
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query match stats: %w", err)
	}
	defer rows.Close()

	var counts []models.TopicCount
	for rows.Next() {
		var (
			tc            models.TopicCount
			confidenceSum float64
			lastSeen      int64
		)

		if err := rows.Scan(&tc.Stage, &tc.Topic, &tc.Count, &confidenceSum, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan match stats: %w", err)
		}

		if tc.Count > 0 {
			tc.AvgConfidence = confidenceSum / float64(tc.Count)
		}
		tc.LastSeen = time.Unix(lastSeen, 0)
		counts = append(counts, tc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate match stats: %w", err)
	}

	return counts, nil
}
