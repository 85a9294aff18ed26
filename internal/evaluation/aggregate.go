package evaluation

import (
	"fmt"
	"html"
	"math"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/noah-isme/gema-feedback-api/internal/models"
)

// Sample is one category score contributed by one successful run.
type Sample struct {
	RunID      uint
	Score      float64
	Confidence float64
}

// CategoryResult is the aggregation outcome for one rubric category.
type CategoryResult struct {
	CategoryID   uint
	Name         string
	Weight       float64
	Score        float64
	SampleCount  int
	Method       string
	Strengths    []string
	Improvements []string
	Text         string
}

// Input groups everything needed to aggregate one draft.
type Input struct {
	Rubric []models.RubricCategory
	Method string
	Scores []models.CategoryScore
	Items  []models.FeedbackItem
}

// Result is the aggregated view of one draft.
type Result struct {
	Categories    []CategoryResult
	Insufficient  []models.RubricCategory
	Method        string
	UnknownMethod bool
	Overall       *float64
	WeightSum     float64
	Anomalies     []*ConfigurationError
}

var textPolicy = bluemonday.StrictPolicy()

// NormalizeMethod maps a configured method name to a supported method. Unknown names fall back to mean.
func NormalizeMethod(method string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(method))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	switch normalized {
	case models.AggregationMean, models.AggregationWeightedMean, models.AggregationMedian, models.AggregationTrimmedMean:
		return normalized, true
	case "weighted":
		return models.AggregationWeightedMean, true
	case "trimmed":
		return models.AggregationTrimmedMean, true
	default:
		return models.AggregationMean, false
	}
}

// Aggregate combines samples with the selected method. An empty sample set yields 0; Compute never
// aggregates a category without samples.
func Aggregate(method string, samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	values := make([]float64, len(samples))
	for i, sample := range samples {
		values[i] = sample.Score
	}

	switch method {
	case models.AggregationWeightedMean:
		return WeightedMean(samples)
	case models.AggregationMedian:
		return Median(values)
	case models.AggregationTrimmedMean:
		return TrimmedMean(values)
	default:
		return Mean(values)
	}
}

// Mean returns the arithmetic mean.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, value := range values {
		sum += value
	}
	return sum / float64(len(values))
}

// WeightedMean returns Σ(score×confidence)/Σ(confidence), or the plain mean when every confidence is zero.
func WeightedMean(samples []Sample) float64 {
	var weighted, confidence float64
	values := make([]float64, len(samples))
	for i, sample := range samples {
		values[i] = sample.Score
		weighted += sample.Score * sample.Confidence
		confidence += sample.Confidence
	}
	if confidence <= 0 {
		return Mean(values)
	}
	return weighted / confidence
}

// Median returns the middle value, or the mean of the two central values for even counts.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// TrimmedMean drops the single highest and lowest value before averaging; fewer than 3 values use the mean.
func TrimmedMean(values []float64) float64 {
	if len(values) < 3 {
		return Mean(values)
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return Mean(sorted[1 : len(sorted)-1])
}

// Compute aggregates the scores and feedback items of one draft. Inputs are sorted first so the
// result only depends on the set of rows, not their order.
func Compute(in Input) Result {
	method, known := NormalizeMethod(in.Method)
	result := Result{Method: method, UnknownMethod: !known}
	if !known {
		result.Anomalies = append(result.Anomalies, &ConfigurationError{
			Detail: fmt.Sprintf("unknown aggregation method %q, using mean", in.Method),
		})
	}

	scores := append([]models.CategoryScore(nil), in.Scores...)
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].ModelRunID != scores[j].ModelRunID {
			return scores[i].ModelRunID < scores[j].ModelRunID
		}
		return scores[i].ID < scores[j].ID
	})
	items := append([]models.FeedbackItem(nil), in.Items...)
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].ModelRunID != items[j].ModelRunID {
			return items[i].ModelRunID < items[j].ModelRunID
		}
		return items[i].ID < items[j].ID
	})

	samples := make(map[uint][]Sample)
	for _, score := range scores {
		samples[score.RubricCategoryID] = append(samples[score.RubricCategoryID], Sample{
			RunID:      score.ModelRunID,
			Score:      score.Score,
			Confidence: score.Confidence,
		})
	}
	itemsByCategory := make(map[uint][]models.FeedbackItem)
	for _, item := range items {
		itemsByCategory[item.RubricCategoryID] = append(itemsByCategory[item.RubricCategoryID], item)
	}

	rubric := append([]models.RubricCategory(nil), in.Rubric...)
	sort.SliceStable(rubric, func(i, j int) bool {
		if rubric[i].Position != rubric[j].Position {
			return rubric[i].Position < rubric[j].Position
		}
		return rubric[i].ID < rubric[j].ID
	})

	for _, category := range rubric {
		categorySamples := samples[category.ID]
		if len(categorySamples) == 0 {
			result.Insufficient = append(result.Insufficient, category)
			continue
		}
		strengths, improvements := Synthesize(itemsByCategory[category.ID])
		result.Categories = append(result.Categories, CategoryResult{
			CategoryID:   category.ID,
			Name:         category.Name,
			Weight:       category.Weight,
			Score:        round2(Aggregate(method, categorySamples)),
			SampleCount:  len(categorySamples),
			Method:       method,
			Strengths:    strengths,
			Improvements: improvements,
			Text:         RenderFeedback(strengths, improvements),
		})
	}

	result.WeightSum = models.TotalWeight(in.Rubric)
	if len(in.Rubric) > 0 && math.Abs(result.WeightSum-100) > 1e-9 {
		result.Anomalies = append(result.Anomalies, &ConfigurationError{
			Detail: fmt.Sprintf("rubric weights sum to %g instead of 100, normalizing by actual sum", result.WeightSum),
		})
	}

	if len(result.Categories) > 0 {
		weighted := make([]WeightedScore, 0, len(result.Categories))
		for _, category := range result.Categories {
			weighted = append(weighted, WeightedScore{Score: category.Score, Weight: category.Weight})
		}
		overall := OverallScore(weighted)
		result.Overall = &overall
	}

	return result
}

// WeightedScore pairs an aggregated category score with its rubric weight.
type WeightedScore struct {
	Score  float64
	Weight float64
}

// OverallScore is the weight-normalized sum of category scores. The divisor is the actual weight sum,
// so rubrics that do not add up to 100 still produce a score on the 0-100 scale. A zero weight sum
// falls back to the plain mean.
func OverallScore(scores []WeightedScore) float64 {
	if len(scores) == 0 {
		return 0
	}
	var weighted, weights float64
	values := make([]float64, len(scores))
	for i, score := range scores {
		values[i] = score.Score
		weighted += score.Score * score.Weight
		weights += score.Weight
	}
	if weights <= 0 {
		return round2(Mean(values))
	}
	return round2(weighted / weights)
}

// Synthesize splits feedback items into deduplicated strengths and improvements, keeping first-seen order.
func Synthesize(items []models.FeedbackItem) ([]string, []string) {
	strengths := make([]string, 0)
	improvements := make([]string, 0)
	seen := make(map[string]struct{})

	for _, item := range items {
		text := SanitizeText(item.Text)
		if text == "" {
			continue
		}
		key := item.Kind + "|" + strings.ToLower(strings.Join(strings.Fields(text), " "))
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}

		switch item.Kind {
		case models.FeedbackKindStrength:
			strengths = append(strengths, text)
		case models.FeedbackKindImprovement:
			improvements = append(improvements, text)
		}
	}

	return strengths, improvements
}

// RenderFeedback formats strengths and improvements into reviewer-editable text.
func RenderFeedback(strengths, improvements []string) string {
	var builder strings.Builder
	if len(strengths) > 0 {
		builder.WriteString("Strengths:\n")
		for _, strength := range strengths {
			builder.WriteString("- ")
			builder.WriteString(strength)
			builder.WriteString("\n")
		}
	}
	if len(improvements) > 0 {
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString("Areas for improvement:\n")
		for _, improvement := range improvements {
			builder.WriteString("- ")
			builder.WriteString(improvement)
			builder.WriteString("\n")
		}
	}
	return strings.TrimSpace(builder.String())
}

// SanitizeText strips markup from model or reviewer text while keeping plain punctuation intact.
func SanitizeText(text string) string {
	cleaned := textPolicy.Sanitize(text)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
