package evaluation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-feedback-api/internal/models"
)

func TestParseResponseArrayForm(t *testing.T) {
	raw := `{
		"overall_score": 78,
		"categories": [
			{"name": "content", "score": 82, "confidence": 0.9, "strengths": ["Clear argument"], "improvements": ["Expand the conclusion"]},
			{"name": "Structure", "score": "7/10", "strengths": "Logical flow"}
		]
	}`

	result := ParseResponse(raw, testRubric())
	require.True(t, result.Usable())
	require.Len(t, result.Scores, 2)
	require.Equal(t, uint(1), result.Scores[0].RubricCategoryID)
	require.InDelta(t, 82, result.Scores[0].Score, 1e-9)
	require.InDelta(t, 0.9, result.Scores[0].Confidence, 1e-9)
	require.InDelta(t, 70, result.Scores[1].Score, 1e-9)
	require.InDelta(t, 1, result.Scores[1].Confidence, 1e-9)
	require.NotNil(t, result.Overall)
	require.InDelta(t, 78, *result.Overall, 1e-9)
	require.Len(t, result.Items, 3)
	require.Equal(t, []string{"Evidence"}, result.MissingNames())
}

func TestParseResponseFencedMapForm(t *testing.T) {
	raw := "Here is my evaluation:\n```json\n{\"scores\": {\"Content\": 0.85, \"Structure\": {\"score\": 0.6, \"feedback\": \"Paragraphs jump around\"}, \"Evidence\": 0.7}}\n```"

	result := ParseResponse(raw, testRubric())
	require.Len(t, result.Scores, 3)
	byCategory := map[uint]float64{}
	for _, score := range result.Scores {
		byCategory[score.RubricCategoryID] = score.Score
	}
	require.InDelta(t, 85, byCategory[1], 1e-9)
	require.InDelta(t, 60, byCategory[2], 1e-9)
	require.InDelta(t, 70, byCategory[3], 1e-9)
	require.Len(t, result.Items, 1)
	require.Equal(t, models.FeedbackKindImprovement, result.Items[0].Kind)
	require.Empty(t, result.Missing)
}

func TestParseResponseProseAroundObject(t *testing.T) {
	raw := `Sure! {"categories": [{"name": "Evidence", "score": 150, "confidence": 85}]} Let me know if you need more.`

	result := ParseResponse(raw, testRubric())
	require.Len(t, result.Scores, 1)
	require.InDelta(t, 100, result.Scores[0].Score, 1e-9)
	require.InDelta(t, 0.85, result.Scores[0].Confidence, 1e-9)
}

func TestParseResponseSkipsInvalidEntries(t *testing.T) {
	raw := `{"categories": [
		{"name": "Content"},
		{"name": "Structure", "score": "excellent"},
		{"name": "Style", "score": 90},
		{"name": "Evidence", "score": 64},
		{"name": "Evidence", "score": 12}
	]}`

	result := ParseResponse(raw, testRubric())
	require.Len(t, result.Scores, 1)
	require.Equal(t, uint(3), result.Scores[0].RubricCategoryID)
	require.InDelta(t, 64, result.Scores[0].Score, 1e-9)
	require.Len(t, result.Problems, 3)
	require.ElementsMatch(t, []string{"Content", "Structure"}, result.MissingNames())
}

func TestParseResponseUnusableOutput(t *testing.T) {
	result := ParseResponse("I am unable to grade this essay.", testRubric())
	require.False(t, result.Usable())
	require.Len(t, result.Missing, 3)
	require.NotEmpty(t, result.Problems)
	require.Nil(t, result.Overall)
}

func TestExtractJSONHandlesBracesInStrings(t *testing.T) {
	raw := `prefix {"a": "brace } inside", "b": {"c": 1}} suffix`
	require.Equal(t, `{"a": "brace } inside", "b": {"c": 1}}`, extractJSON(raw))
}

func TestParseConfidenceScales(t *testing.T) {
	cases := []struct {
		name     string
		input    interface{}
		expected float64
	}{
		{name: "fraction", input: 0.75, expected: 0.75},
		{name: "slight overshoot clamps", input: 1.5, expected: 1},
		{name: "just above one clamps", input: 1.05, expected: 1},
		{name: "percent scale", input: 85.0, expected: 0.85},
		{name: "percent suffix", input: "1.5%", expected: 0.015},
		{name: "percent suffix whole", input: " 90 % ", expected: 0.9},
		{name: "numeric string", input: "1.2", expected: 1},
		{name: "above percent range clamps", input: 250.0, expected: 1},
		{name: "negative clamps", input: -0.3, expected: 0},
		{name: "garbage defaults", input: "high", expected: 1},
		{name: "missing defaults", input: nil, expected: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.InDelta(t, tc.expected, parseConfidence(tc.input), 1e-9)
		})
	}
}
