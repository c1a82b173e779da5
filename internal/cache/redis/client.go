package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/studypilot/backend/internal/storage/models"
	"github.com/studypilot/backend/pkg/logger"
	"github.com/studypilot/backend/pkg/retry"
)

const (
	countsKey     = "stats:counts"
	confidenceKey = "stats:confidence"
	lastSeenKey   = "stats:last_seen"
	fieldSep      = "|"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := retry.Do(ctx, retry.Config{
		Name:         "redis-connect",
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Logger:       logger.GetLogger(),
	}, func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", addr))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// RecordOutcome bumps the per stage/topic counters in one transaction.
func (c *Client) RecordOutcome(ctx context.Context, outcome *models.MatchOutcome) error {
	field := outcome.Stage + fieldSep + outcome.Topic

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, countsKey, field, 1)
		pipe.HIncrByFloat(ctx, confidenceKey, field, outcome.Confidence)
		pipe.HSet(ctx, lastSeenKey, field, outcome.CreatedAt.Unix())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record match outcome: %w", err)
	}

	logger.Debug("Match outcome recorded", zap.String("field", field))
	return nil
}

func (c *Client) TopicCounts(ctx context.Context) ([]models.TopicCount, error) {
	counts, err := c.client.HGetAll(ctx, countsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get match counts: %w", err)
	}
	if len(counts) == 0 {
		return nil, nil
	}

	sums, err := c.client.HGetAll(ctx, confidenceKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get confidence sums: %w", err)
	}

	seen, err := c.client.HGetAll(ctx, lastSeenKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get last seen: %w", err)
	}

	result := make([]models.TopicCount, 0, len(counts))
	for field, raw := range counts {
		stage, topic, ok := strings.Cut(field, fieldSep)
		if !ok {
			logger.Warn("Skipping malformed stats field", zap.String("field", field))
			continue
		}

		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse count for %s: %w", field, err)
		}

		tc := models.TopicCount{Stage: stage, Topic: topic, Count: n}
		if sum, err := strconv.ParseFloat(sums[field], 64); err == nil && n > 0 {
			tc.AvgConfidence = sum / float64(n)
		}
		if ts, err := strconv.ParseInt(seen[field], 10, 64); err == nil {
			tc.LastSeen = time.Unix(ts, 0)
		}
		result = append(result, tc)
	}

	sortTopicCounts(result)
	return result, nil
}

func sortTopicCounts(counts []models.TopicCount) {
	sort.Slice(counts, func(i, j int) bool {
		a, b := counts[i], counts[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.Stage != b.Stage {
			return a.Stage < b.Stage
		}
		return a.Topic < b.Topic
	})
}
