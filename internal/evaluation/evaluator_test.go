package evaluation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studypilot/backend/internal/knowledge"
	"github.com/studypilot/backend/internal/query"
)

func newEvaluator() *Evaluator {
	cfg := query.DefaultConfig()
	cfg.DelayMin, cfg.DelayMax = 0, 0
	return NewEvaluator(query.NewEngine(knowledge.Default(), cfg))
}

func TestRunDatasetEvaluation_DemoDataset(t *testing.T) {
	dataset, err := LoadDatasetFile(filepath.Join("testdata", "demo_dataset.json"))
	require.NoError(t, err)
	require.Len(t, dataset.Items, 12)

	e := newEvaluator()
	report, err := e.RunDatasetEvaluation(context.Background(), dataset)
	require.NoError(t, err)

	assert.Empty(t, report.Failures)
	assert.Equal(t, 12, report.PassedCount)
	assert.Equal(t, 100.0, report.PassPercentage)
	assert.Equal(t, 1, report.StageCounts["fallback"])
	assert.Equal(t, 2, report.StageCounts["secondary"])
	assert.Equal(t, 4, report.StageCounts["override"])

	text := e.GenerateReport(report)
	assert.Contains(t, text, "Passed: 12 (100.0%)")
	assert.Contains(t, text, "- override: 4")
}

func TestEvaluateItem_ReportsMismatch(t *testing.T) {
	want := 0.5
	result := newEvaluator().EvaluateItem(DatasetItem{
		Query:              "What is a Hash Table?",
		ExpectedTopic:      "Algorithms",
		ExpectedConfidence: &want,
	})

	assert.False(t, result.Passed)
	assert.Len(t, result.Reasons, 2)
	assert.Equal(t, "Data Structures", result.Topic)
}

func TestRunDatasetEvaluation_Failures(t *testing.T) {
	dataset, err := LoadDatasetFromJSON([]byte(`{"items": [
		{"query": "hello", "expected_stage": "primary"},
		{"query": "hash table", "expected_topic": "Data Structures"}
	]}`))
	require.NoError(t, err)

	e := newEvaluator()
	report, err := e.RunDatasetEvaluation(context.Background(), dataset)
	require.NoError(t, err)

	assert.Equal(t, 1, report.FailedCount)
	assert.Equal(t, 50.0, report.PassPercentage)
	assert.Contains(t, e.GenerateReport(report), `"hello": stage "override", want "primary"`)
}

func TestRunDatasetEvaluation_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newEvaluator().RunDatasetEvaluation(ctx, &EvaluationDataset{Items: []DatasetItem{{Query: "hi"}}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadDataset_Errors(t *testing.T) {
	_, err := LoadDatasetFromJSON([]byte("{not json"))
	assert.Error(t, err)

	_, err = LoadDatasetFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"items": []}`), 0o644))
	dataset, err := LoadDatasetFile(path)
	require.NoError(t, err)
	assert.Empty(t, dataset.Items)
}
