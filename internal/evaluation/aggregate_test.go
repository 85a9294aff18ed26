package evaluation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-feedback-api/internal/models"
)

func samplesOf(values ...float64) []Sample {
	samples := make([]Sample, len(values))
	for i, value := range values {
		samples[i] = Sample{RunID: uint(i + 1), Score: value, Confidence: 1}
	}
	return samples
}

func TestAggregateMethods(t *testing.T) {
	cases := []struct {
		name     string
		method   string
		samples  []Sample
		expected float64
	}{
		{"mean", models.AggregationMean, samplesOf(70, 80, 90), 80},
		{"mean single", models.AggregationMean, samplesOf(42), 42},
		{"median odd", models.AggregationMedian, samplesOf(90, 10, 50), 50},
		{"median even", models.AggregationMedian, samplesOf(60, 80, 70, 100), 75},
		{"trimmed drops extremes", models.AggregationTrimmedMean, samplesOf(0, 70, 80, 100), 75},
		{"trimmed two samples is mean", models.AggregationTrimmedMean, samplesOf(60, 80), 70},
		{"trimmed one sample is mean", models.AggregationTrimmedMean, samplesOf(55), 55},
		{"weighted", models.AggregationWeightedMean, []Sample{{Score: 100, Confidence: 0.75}, {Score: 60, Confidence: 0.25}}, 90},
		{"weighted zero confidence falls back", models.AggregationWeightedMean, []Sample{{Score: 100, Confidence: 0}, {Score: 60, Confidence: 0}}, 80},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.InDelta(t, tc.expected, Aggregate(tc.method, tc.samples), 1e-9)
		})
	}
}

func TestTrimmedMeanMatchesMeanBelowThreeSamples(t *testing.T) {
	for _, values := range [][]float64{{12}, {12, 99}, {0, 100}} {
		require.Equal(t, Mean(values), TrimmedMean(values))
	}
}

func TestNormalizeMethod(t *testing.T) {
	method, ok := NormalizeMethod("Trimmed-Mean")
	require.True(t, ok)
	require.Equal(t, models.AggregationTrimmedMean, method)

	method, ok = NormalizeMethod("geometric")
	require.False(t, ok)
	require.Equal(t, models.AggregationMean, method)
}

func testRubric() []models.RubricCategory {
	return []models.RubricCategory{
		{ID: 1, Name: "Content", Weight: 50, Position: 1},
		{ID: 2, Name: "Structure", Weight: 30, Position: 2},
		{ID: 3, Name: "Evidence", Weight: 20, Position: 3},
	}
}

func TestComputeFlagsInsufficientCategories(t *testing.T) {
	result := Compute(Input{
		Rubric: testRubric(),
		Method: models.AggregationMean,
		Scores: []models.CategoryScore{
			{ID: 1, ModelRunID: 1, RubricCategoryID: 1, Score: 70, Confidence: 1},
			{ID: 2, ModelRunID: 2, RubricCategoryID: 1, Score: 80, Confidence: 1},
			{ID: 3, ModelRunID: 3, RubricCategoryID: 1, Score: 90, Confidence: 1},
			{ID: 4, ModelRunID: 1, RubricCategoryID: 2, Score: 60, Confidence: 1},
		},
	})

	require.Len(t, result.Categories, 2)
	require.Equal(t, "Content", result.Categories[0].Name)
	require.InDelta(t, 80, result.Categories[0].Score, 1e-9)
	require.Equal(t, 3, result.Categories[0].SampleCount)
	require.Len(t, result.Insufficient, 1)
	require.Equal(t, "Evidence", result.Insufficient[0].Name)
	require.Empty(t, result.Anomalies)
	require.NotNil(t, result.Overall)
	// (80*50 + 60*30) / 80
	require.InDelta(t, 72.5, *result.Overall, 1e-9)
}

func TestComputeNormalizesByActualWeightSum(t *testing.T) {
	rubric := []models.RubricCategory{
		{ID: 1, Name: "Content", Weight: 40},
		{ID: 2, Name: "Structure", Weight: 35},
		{ID: 3, Name: "Evidence", Weight: 30},
	}
	result := Compute(Input{
		Rubric: rubric,
		Method: models.AggregationMean,
		Scores: []models.CategoryScore{
			{ID: 1, ModelRunID: 1, RubricCategoryID: 1, Score: 90},
			{ID: 2, ModelRunID: 1, RubricCategoryID: 2, Score: 60},
			{ID: 3, ModelRunID: 1, RubricCategoryID: 3, Score: 75},
		},
	})

	require.InDelta(t, 105, result.WeightSum, 1e-9)
	require.Len(t, result.Anomalies, 1)
	require.ErrorIs(t, result.Anomalies[0], ErrConfiguration)
	expected := round2((90*40 + 60*35 + 75*30) / 105.0)
	require.InDelta(t, expected, *result.Overall, 1e-9)
}

func TestComputeZeroWeightsFallsBackToMean(t *testing.T) {
	rubric := []models.RubricCategory{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}}
	result := Compute(Input{
		Rubric: rubric,
		Method: models.AggregationMean,
		Scores: []models.CategoryScore{
			{ID: 1, ModelRunID: 1, RubricCategoryID: 1, Score: 40},
			{ID: 2, ModelRunID: 1, RubricCategoryID: 2, Score: 80},
		},
	})
	require.InDelta(t, 60, *result.Overall, 1e-9)
	require.Len(t, result.Anomalies, 1)
}

func TestComputeIsOrderIndependent(t *testing.T) {
	scores := []models.CategoryScore{
		{ID: 1, ModelRunID: 1, RubricCategoryID: 1, Score: 71.3, Confidence: 0.4},
		{ID: 2, ModelRunID: 2, RubricCategoryID: 1, Score: 88.1, Confidence: 0.9},
		{ID: 3, ModelRunID: 3, RubricCategoryID: 1, Score: 64.9, Confidence: 0.7},
	}
	items := []models.FeedbackItem{
		{ID: 1, ModelRunID: 1, RubricCategoryID: 1, Kind: models.FeedbackKindStrength, Text: "Clear thesis"},
		{ID: 2, ModelRunID: 2, RubricCategoryID: 1, Kind: models.FeedbackKindImprovement, Text: "Cite sources"},
	}
	reversedScores := []models.CategoryScore{scores[2], scores[0], scores[1]}
	reversedItems := []models.FeedbackItem{items[1], items[0]}

	first := Compute(Input{Rubric: testRubric(), Method: models.AggregationWeightedMean, Scores: scores, Items: items})
	second := Compute(Input{Rubric: testRubric(), Method: models.AggregationWeightedMean, Scores: reversedScores, Items: reversedItems})
	require.Equal(t, first, second)
}

func TestComputeUnknownMethodRecordsAnomaly(t *testing.T) {
	result := Compute(Input{
		Rubric: testRubric(),
		Method: "mode",
		Scores: []models.CategoryScore{{ID: 1, ModelRunID: 1, RubricCategoryID: 1, Score: 50}},
	})
	require.True(t, result.UnknownMethod)
	require.Equal(t, models.AggregationMean, result.Method)
	require.NotEmpty(t, result.Anomalies)
}

func TestSynthesizeDeduplicates(t *testing.T) {
	strengths, improvements := Synthesize([]models.FeedbackItem{
		{Kind: models.FeedbackKindStrength, Text: "Strong   introduction"},
		{Kind: models.FeedbackKindStrength, Text: "strong introduction"},
		{Kind: models.FeedbackKindImprovement, Text: "<b>Use</b> more evidence"},
		{Kind: models.FeedbackKindImprovement, Text: "Use more evidence"},
		{Kind: models.FeedbackKindImprovement, Text: "   "},
		{Kind: models.FeedbackKindStrength, Text: "Student's voice is clear"},
	})

	require.Equal(t, []string{"Strong   introduction", "Student's voice is clear"}, strengths)
	require.Equal(t, []string{"Use more evidence"}, improvements)

	text := RenderFeedback(strengths, improvements)
	require.Contains(t, text, "Strengths:\n- Strong   introduction")
	require.Contains(t, text, "Areas for improvement:\n- Use more evidence")
}
