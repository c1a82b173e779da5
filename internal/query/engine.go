package query

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/studypilot/backend/internal/conversation"
	"github.com/studypilot/backend/internal/knowledge"
	"github.com/studypilot/backend/pkg/logger"
)

type Stage string

const (
	StagePrimary   Stage = "primary"
	StageSecondary Stage = "secondary"
	StageOverride  Stage = "override"
	StageFallback  Stage = "fallback"
	StageCloud     Stage = "cloud"
)

type Attachment struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
}

type Query struct {
	Text  string
	Files []Attachment
}

// Response is a composed answer. Body is the matched answer before the
// conversational prefix and suffix were added.
type Response struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Body       string  `json:"-"`
	Confidence float64 `json:"confidence"`
	Topic      string  `json:"topic"`
	IsLocal    bool    `json:"is_local"`
	Stage      Stage   `json:"stage"`
	Intent     string  `json:"intent,omitempty"`
}

type Config struct {
	DelayMin      time.Duration
	DelayMax      time.Duration
	HistoryWindow int

	// Rand drives composition and fallback suggestions; DelayRand drives
	// the thinking delay. Nil sources are seeded from the clock.
	Rand      Source
	DelayRand Source

	Overrides   []Override
	Prefixes    []string
	Suffixes    []string
	Suggestions []string
}

func DefaultConfig() Config {
	return Config{
		DelayMin:      DefaultDelayMin,
		DelayMax:      DefaultDelayMax,
		HistoryWindow: conversation.DefaultWindow,
	}
}

// Engine answers study questions from a fixed knowledge store. It holds no
// per-conversation state and is safe for concurrent use.
type Engine struct {
	primary       []knowledge.Entry
	extended      []knowledge.Entry
	overrides     []Override
	composer      Composer
	fallback      Fallback
	latency       Latency
	historyWindow int
}

// NewEngine copies the store's tables once. A nil store is valid and makes
// every query resolve to the fallback.
func NewEngine(store *knowledge.Store, cfg Config) *Engine {
	if cfg.Rand == nil {
		cfg.Rand = newTimeSource()
	}
	if cfg.DelayRand == nil {
		cfg.DelayRand = newTimeSource()
	}
	if cfg.Overrides == nil {
		cfg.Overrides = DefaultOverrides()
	}
	if cfg.Prefixes == nil {
		cfg.Prefixes = defaultPrefixes
	}
	if cfg.Suffixes == nil {
		cfg.Suffixes = defaultSuffixes
	}
	if cfg.Suggestions == nil {
		cfg.Suggestions = defaultSuggestions
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = conversation.DefaultWindow
	}

	e := &Engine{
		primary:       store.Primary(),
		extended:      store.Extended(),
		overrides:     cfg.Overrides,
		composer:      Composer{Prefixes: cfg.Prefixes, Suffixes: cfg.Suffixes, rand: cfg.Rand},
		fallback:      Fallback{Suggestions: cfg.Suggestions, rand: cfg.Rand},
		latency:       Latency{Min: cfg.DelayMin, Max: cfg.DelayMax, rand: cfg.DelayRand},
		historyWindow: cfg.HistoryWindow,
	}

	primary, extended := store.Sizes()
	logger.Info("Query engine initialized",
		zap.Int("primary_entries", primary),
		zap.Int("extended_entries", extended),
		zap.Int("overrides", len(e.overrides)),
		zap.Duration("delay_min", e.latency.Min),
		zap.Duration("delay_max", e.latency.Max),
	)

	return e
}

// Match answers q and returns immediately; the response becomes available
// once the thinking delay elapses. Cancelling ctx cancels the pending
// response.
func (e *Engine) Match(ctx context.Context, q Query, history []conversation.Message) *Pending {
	resp := e.Answer(q, history)
	delay := e.latency.Next()

	logger.Debug("Response scheduled",
		zap.String("response_id", resp.ID),
		zap.Duration("delay", delay),
	)

	return newPending(ctx, resp, delay)
}

// Answer runs the matching pipeline without the thinking delay. It never
// fails: anything unmatched resolves to the fallback.
func (e *Engine) Answer(q Query, history []conversation.Message) Response {
	// The window is copied so the caller's buffer is never shared; it does
	// not influence scoring.
	window := conversation.Window(history, e.historyWindow)

	c := e.resolve(q.Text)

	resp := Response{
		ID:         uuid.New().String(),
		Text:       e.composer.Compose(c.body),
		Body:       c.body,
		Confidence: clamp(c.confidence),
		Topic:      c.topic,
		IsLocal:    true,
		Stage:      c.stage,
		Intent:     c.intent,
	}
	if resp.Topic == "" {
		resp.Topic = GeneralTopic
	}

	logger.Debug("Query matched",
		zap.String("response_id", resp.ID),
		zap.String("stage", string(resp.Stage)),
		zap.String("topic", resp.Topic),
		zap.Float64("confidence", resp.Confidence),
		zap.Int("score", c.score),
		zap.Int("history", len(window)),
		zap.Int("attachments", len(q.Files)),
	)

	return resp
}

type candidate struct {
	body       string
	confidence float64
	topic      string
	stage      Stage
	intent     string
	score      int
}

func (e *Engine) resolve(raw string) candidate {
	normalized := Normalize(raw)

	var (
		c       candidate
		matched bool
	)

	if m, ok := matchPrimary(e.primary, normalized); ok {
		c = fromEntry(m.Entry, StagePrimary)
		c.score = m.Score
		matched = true
	} else if entry, ok := matchSecondary(e.extended, normalized); ok {
		c = fromEntry(entry, StageSecondary)
		matched = true
	}

	if o, ok := applyOverrides(e.overrides, raw); ok {
		c = candidate{
			body:       o.Answer,
			confidence: OverrideConfidence,
			topic:      GeneralTopic,
			stage:      StageOverride,
			intent:     o.Name,
		}
		matched = true
	}

	if !matched {
		c = candidate{
			body:       e.fallback.Generate(),
			confidence: FallbackConfidence,
			topic:      GeneralTopic,
			stage:      StageFallback,
		}
	}

	return c
}

func fromEntry(entry knowledge.Entry, stage Stage) candidate {
	return candidate{
		body:       entry.Answer,
		confidence: entry.Confidence,
		topic:      entry.Topic,
		stage:      stage,
	}
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
