package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/studypilot/backend/internal/conversation"
	"github.com/studypilot/backend/internal/query"
	"github.com/studypilot/backend/pkg/logger"
)

const confidenceTolerance = 1e-9

type Answerer interface {
	Answer(q query.Query, history []conversation.Message) query.Response
}

type Evaluator struct {
	engine Answerer
}

type EvaluationDataset struct {
	Items []DatasetItem `json:"items"`
}

// DatasetItem is one expected outcome. Empty expectations are not checked.
type DatasetItem struct {
	Query              string   `json:"query"`
	ExpectedTopic      string   `json:"expected_topic,omitempty"`
	ExpectedConfidence *float64 `json:"expected_confidence,omitempty"`
	ExpectedStage      string   `json:"expected_stage,omitempty"`
	Category           string   `json:"category,omitempty"`
}

type ItemResult struct {
	Item       DatasetItem
	Topic      string
	Confidence float64
	Stage      string
	Passed     bool
	Reasons    []string
}

type EvaluationReport struct {
	TotalQueries   int
	PassedCount    int
	FailedCount    int
	PassPercentage float64
	AvgConfidence  float64
	StageCounts    map[string]int
	Failures       []ItemResult
}

func NewEvaluator(engine Answerer) *Evaluator {
	return &Evaluator{engine: engine}
}

func (e *Evaluator) EvaluateItem(item DatasetItem) ItemResult {
	resp := e.engine.Answer(query.Query{Text: item.Query}, nil)

	result := ItemResult{
		Item:       item,
		Topic:      resp.Topic,
		Confidence: resp.Confidence,
		Stage:      string(resp.Stage),
		Passed:     true,
	}

	if item.ExpectedTopic != "" && item.ExpectedTopic != resp.Topic {
		result.Reasons = append(result.Reasons, fmt.Sprintf("topic %q, want %q", resp.Topic, item.ExpectedTopic))
	}
	if item.ExpectedConfidence != nil && math.Abs(*item.ExpectedConfidence-resp.Confidence) > confidenceTolerance {
		result.Reasons = append(result.Reasons, fmt.Sprintf("confidence %.2f, want %.2f", resp.Confidence, *item.ExpectedConfidence))
	}
	if item.ExpectedStage != "" && item.ExpectedStage != string(resp.Stage) {
		result.Reasons = append(result.Reasons, fmt.Sprintf("stage %q, want %q", resp.Stage, item.ExpectedStage))
	}
	result.Passed = len(result.Reasons) == 0

	return result
}

func (e *Evaluator) RunDatasetEvaluation(ctx context.Context, dataset *EvaluationDataset) (*EvaluationReport, error) {
	logger.Info("Running dataset evaluation", zap.Int("items", len(dataset.Items)))

	report := &EvaluationReport{
		TotalQueries: len(dataset.Items),
		StageCounts:  make(map[string]int),
	}

	var totalConfidence float64

	for i, item := range dataset.Items {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("evaluation interrupted after %d items: %w", i, err)
		}

		result := e.EvaluateItem(item)
		report.StageCounts[result.Stage]++
		totalConfidence += result.Confidence

		if result.Passed {
			report.PassedCount++
			continue
		}

		report.FailedCount++
		report.Failures = append(report.Failures, result)
		logger.Debug("Evaluation item failed",
			zap.Int("index", i),
			zap.String("query", item.Query),
			zap.Strings("reasons", result.Reasons),
		)
	}

	if report.TotalQueries > 0 {
		report.PassPercentage = float64(report.PassedCount) / float64(report.TotalQueries) * 100
		report.AvgConfidence = totalConfidence / float64(report.TotalQueries)
	}

	logger.Info("Dataset evaluation completed",
		zap.Int("total", report.TotalQueries),
		zap.Int("passed", report.PassedCount),
		zap.Int("failed", report.FailedCount),
	)

	return report, nil
}

func LoadDatasetFromJSON(data []byte) (*EvaluationDataset, error) {
	var dataset EvaluationDataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}
	return &dataset, nil
}

func LoadDatasetFile(path string) (*EvaluationDataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	return LoadDatasetFromJSON(data)
}

func (e *Evaluator) GenerateReport(report *EvaluationReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, `
Evaluation Report
=================

Total Queries: %d
Passed: %d (%.1f%%)
Failed: %d
Average Confidence: %.3f

Resolved By Stage:
`,
		report.TotalQueries,
		report.PassedCount, report.PassPercentage,
		report.FailedCount,
		report.AvgConfidence,
	)

	stages := make([]string, 0, len(report.StageCounts))
	for stage := range report.StageCounts {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	for _, stage := range stages {
		fmt.Fprintf(&b, "- %s: %d\n", stage, report.StageCounts[stage])
	}

	if len(report.Failures) > 0 {
		b.WriteString("\nFailures:\n")
		for _, f := range report.Failures {
			fmt.Fprintf(&b, "- %q: %s\n", f.Item.Query, strings.Join(f.Reasons, "; "))
		}
	}

	return b.String()
}
