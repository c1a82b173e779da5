// Package stats aggregates match outcomes per stage and topic in SQLite or
// Redis. Writes go through a circuit breaker so a failing backend is skipped
// instead of retried on every answer.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/studypilot/backend/internal/cache/redis"
	"github.com/studypilot/backend/internal/metrics"
	"github.com/studypilot/backend/internal/storage/models"
	"github.com/studypilot/backend/internal/storage/sqlite"
	"github.com/studypilot/backend/pkg/circuitbreaker"
	"github.com/studypilot/backend/pkg/config"
	"github.com/studypilot/backend/pkg/logger"
)

const writeTimeout = 2 * time.Second

type Backend interface {
	RecordOutcome(ctx context.Context, outcome *models.MatchOutcome) error
	TopicCounts(ctx context.Context) ([]models.TopicCount, error)
	Ping(ctx context.Context) error
	Close() error
}

type Recorder struct {
	name    string
	backend Backend
	cb      *circuitbreaker.CircuitBreaker
}

// NewRecorder wraps backend. A nil backend records nothing.
func NewRecorder(name string, backend Backend) *Recorder {
	return &Recorder{
		name:    name,
		backend: backend,
		cb: circuitbreaker.NewCircuitBreaker("stats-"+name, circuitbreaker.Config{
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 1,
			OnStateChange:    metrics.ObserveBreaker,
			Logger:           logger.GetLogger(),
		}),
	}
}

// Open builds the recorder selected by cfg.Stats.Backend.
func Open(cfg *config.Config) (*Recorder, error) {
	switch cfg.Stats.Backend {
	case "sqlite":
		client, err := sqlite.NewClient(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite stats: %w", err)
		}
		if err := client.InitSchema(); err != nil {
			client.Close()
			return nil, err
		}
		return NewRecorder("sqlite", client), nil
	case "redis":
		client, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis stats: %w", err)
		}
		return NewRecorder("redis", client), nil
	case "none", "":
		return NewRecorder("none", nil), nil
	default:
		return nil, fmt.Errorf("unknown stats backend %q", cfg.Stats.Backend)
	}
}

func (r *Recorder) Name() string { return r.name }

func (r *Recorder) Enabled() bool { return r.backend != nil }

// Record stores one outcome. Failures are counted and returned, but callers
// are expected to log and move on.
func (r *Recorder) Record(ctx context.Context, outcome models.MatchOutcome) error {
	if r.backend == nil {
		return nil
	}
	if outcome.CreatedAt.IsZero() {
		outcome.CreatedAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	err := r.cb.Execute(ctx, func() error {
		return r.backend.RecordOutcome(ctx, &outcome)
	})
	if err != nil {
		metrics.StatsWriteFailures.WithLabelValues(r.name).Inc()
		if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			logger.Warn("Failed to record match outcome",
				zap.String("backend", r.name),
				zap.Error(err),
			)
		}
		return err
	}
	return nil
}

func (r *Recorder) Summary(ctx context.Context) ([]models.TopicCount, error) {
	if r.backend == nil {
		return nil, nil
	}
	return r.backend.TopicCounts(ctx)
}

func (r *Recorder) Ping(ctx context.Context) error {
	if r.backend == nil {
		return nil
	}
	return r.backend.Ping(ctx)
}

func (r *Recorder) Close() error {
	if r.backend == nil {
		return nil
	}
	return r.backend.Close()
}
