package models

import "time"

// MatchOutcome is what gets recorded for each answered query. Query text
// and answer bodies are never stored.
type MatchOutcome struct {
	ResponseID string
	Stage      string
	Topic      string
	Confidence float64
	IsLocal    bool
	CreatedAt  time.Time
}

type TopicCount struct {
	Stage         string    `json:"stage"`
	Topic         string    `json:"topic"`
	Count         int64     `json:"count"`
	AvgConfidence float64   `json:"avg_confidence"`
	LastSeen      time.Time `json:"last_seen"`
}
