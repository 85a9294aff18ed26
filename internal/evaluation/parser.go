package evaluation

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/noah-isme/gema-feedback-api/internal/models"
)

const categorySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["score"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "category": {"type": "string", "minLength": 1},
    "score": {"type": ["number", "string"]},
    "confidence": {"type": ["number", "string", "null"]},
    "strengths": {"type": ["array", "string", "null"], "items": {"type": "string"}},
    "improvements": {"type": ["array", "string", "null"], "items": {"type": "string"}},
    "feedback": {"type": ["string", "null"]}
  }
}`

var compiledCategorySchema = mustCompileSchema("category.json", categorySchema)

var categoryCollectionKeys = []string{"categories", "rubric", "criteria", "scores"}

var overallScoreKeys = []string{"overall_score", "overall", "total_score", "score"}

// ParseResult holds the structured records extracted from one run's raw output.
type ParseResult struct {
	Scores   []models.CategoryScore
	Items    []models.FeedbackItem
	Overall  *float64
	Missing  []models.RubricCategory
	Problems []string
}

// Usable reports whether at least one category score was extracted.
func (r ParseResult) Usable() bool {
	return len(r.Scores) > 0
}

// MissingNames lists the names of rubric categories without a score.
func (r ParseResult) MissingNames() []string {
	names := make([]string, 0, len(r.Missing))
	for _, category := range r.Missing {
		names = append(names, category.Name)
	}
	return names
}

type rawCategory struct {
	key   string
	value map[string]interface{}
}

// ParseResponse extracts per-category scores and feedback from raw model output. Malformed entries are
// skipped rather than failing the whole response; categories nobody scored end up in Missing.
func ParseResponse(raw string, rubric []models.RubricCategory) ParseResult {
	result := ParseResult{}

	payload, err := decodeObject(raw)
	if err != nil {
		result.Problems = append(result.Problems, err.Error())
		result.Missing = append(result.Missing, rubric...)
		return result
	}

	entries := collectCategories(payload)
	byName := make(map[string]models.RubricCategory, len(rubric))
	byID := make(map[uint]models.RubricCategory, len(rubric))
	for _, category := range rubric {
		byName[normalizeName(category.Name)] = category
		byID[category.ID] = category
	}

	type pending struct {
		category   models.RubricCategory
		score      float64
		explicit   bool
		confidence float64
		entry      map[string]interface{}
	}

	accepted := make([]pending, 0, len(entries))
	seen := make(map[uint]struct{})
	for _, entry := range entries {
		if err := compiledCategorySchema.Validate(entry.value); err != nil {
			result.Problems = append(result.Problems, fmt.Sprintf("category %q rejected: %v", entry.key, err))
			continue
		}

		category, ok := matchCategory(entry, byName, byID)
		if !ok {
			result.Problems = append(result.Problems, fmt.Sprintf("category %q is not part of the rubric", entry.key))
			continue
		}
		if _, dup := seen[category.ID]; dup {
			continue
		}

		score, explicit, ok := parseScore(entry.value["score"])
		if !ok {
			result.Problems = append(result.Problems, fmt.Sprintf("category %q has an unreadable score", category.Name))
			continue
		}

		seen[category.ID] = struct{}{}
		accepted = append(accepted, pending{
			category:   category,
			score:      score,
			explicit:   explicit,
			confidence: parseConfidence(entry.value["confidence"]),
			entry:      entry.value,
		})
	}

	fractional := len(accepted) > 0
	anyNonInteger := false
	for _, item := range accepted {
		if item.explicit {
			continue
		}
		if item.score < 0 || item.score > 1 {
			fractional = false
		}
		if item.score != math.Trunc(item.score) {
			anyNonInteger = true
		}
	}
	fractional = fractional && anyNonInteger

	for _, item := range accepted {
		score := item.score
		if fractional && !item.explicit {
			score *= 100
		}
		result.Scores = append(result.Scores, models.CategoryScore{
			RubricCategoryID: item.category.ID,
			Score:            clamp(score, 0, 100),
			Confidence:       item.confidence,
		})
		result.Items = append(result.Items, feedbackItems(item.category.ID, item.entry)...)
	}

	for _, key := range overallScoreKeys {
		if value, ok := payload[key]; ok {
			if score, explicit, ok := parseScore(value); ok {
				if !explicit && score > 0 && score < 1 && score != math.Trunc(score) {
					score *= 100
				}
				clamped := clamp(score, 0, 100)
				result.Overall = &clamped
				break
			}
		}
	}

	for _, category := range rubric {
		if _, ok := seen[category.ID]; !ok {
			result.Missing = append(result.Missing, category)
		}
	}

	return result
}

func decodeObject(raw string) (map[string]interface{}, error) {
	candidate := extractJSON(raw)
	if candidate == "" {
		return nil, fmt.Errorf("no json object found in response")
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
		return nil, fmt.Errorf("parse evaluation json: %w", err)
	}
	return payload, nil
}

// extractJSON returns the first balanced JSON object in text, tolerating code fences and prose.
func extractJSON(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```JSON")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func collectCategories(payload map[string]interface{}) []rawCategory {
	for _, key := range categoryCollectionKeys {
		value, ok := payload[key]
		if !ok {
			continue
		}
		switch typed := value.(type) {
		case []interface{}:
			entries := make([]rawCategory, 0, len(typed))
			for i, element := range typed {
				object, ok := element.(map[string]interface{})
				if !ok {
					continue
				}
				entries = append(entries, rawCategory{key: entryName(object, strconv.Itoa(i)), value: object})
			}
			return entries
		case map[string]interface{}:
			keys := make([]string, 0, len(typed))
			for name := range typed {
				keys = append(keys, name)
			}
			sort.Strings(keys)
			entries := make([]rawCategory, 0, len(keys))
			for _, name := range keys {
				switch element := typed[name].(type) {
				case map[string]interface{}:
					entries = append(entries, rawCategory{key: name, value: element})
				case float64, string:
					entries = append(entries, rawCategory{key: name, value: map[string]interface{}{"name": name, "score": element}})
				}
			}
			return entries
		}
	}
	return nil
}

func entryName(object map[string]interface{}, fallback string) string {
	for _, key := range []string{"name", "category"} {
		if value, ok := object[key].(string); ok && strings.TrimSpace(value) != "" {
			return value
		}
	}
	return fallback
}

func matchCategory(entry rawCategory, byName map[string]models.RubricCategory, byID map[uint]models.RubricCategory) (models.RubricCategory, bool) {
	if category, ok := byName[normalizeName(entryName(entry.value, entry.key))]; ok {
		return category, true
	}
	if category, ok := byName[normalizeName(entry.key)]; ok {
		return category, true
	}
	if id, ok := entry.value["id"].(float64); ok && id > 0 {
		category, found := byID[uint(id)]
		return category, found
	}
	return models.RubricCategory{}, false
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(strings.ReplaceAll(name, "_", " ")), " "))
}

// parseScore reads numeric scores. explicit is true when the value carried its own scale ("8/10", "85%").
func parseScore(value interface{}) (float64, bool, bool) {
	switch typed := value.(type) {
	case float64:
		if math.IsNaN(typed) || math.IsInf(typed, 0) {
			return 0, false, false
		}
		return typed, false, true
	case string:
		text := strings.TrimSpace(typed)
		if text == "" {
			return 0, false, false
		}
		if strings.HasSuffix(text, "%") {
			number, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(text, "%")), 64)
			if err != nil {
				return 0, false, false
			}
			return number, true, true
		}
		if parts := strings.SplitN(text, "/", 2); len(parts) == 2 {
			numerator, errN := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
			denominator, errD := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
			if errN != nil || errD != nil || denominator <= 0 {
				return 0, false, false
			}
			return numerator / denominator * 100, true, true
		}
		number, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return 0, false, false
		}
		return parseScore(number)
	default:
		return 0, false, false
	}
}

// percentConfidenceFloor separates a slight overshoot of the 0-1 scale (1.2) from a percentage (85).
const percentConfidenceFloor = 2

func parseConfidence(value interface{}) float64 {
	var confidence float64
	percent := false
	switch typed := value.(type) {
	case float64:
		confidence = typed
	case string:
		text := strings.TrimSpace(typed)
		if strings.HasSuffix(text, "%") {
			percent = true
			text = strings.TrimSpace(strings.TrimSuffix(text, "%"))
		}
		parsed, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return 1
		}
		confidence = parsed
	default:
		return 1
	}
	if math.IsNaN(confidence) {
		return 1
	}
	if percent || (confidence >= percentConfidenceFloor && confidence <= 100) {
		confidence /= 100
	}
	return clamp(confidence, 0, 1)
}

func feedbackItems(categoryID uint, entry map[string]interface{}) []models.FeedbackItem {
	items := make([]models.FeedbackItem, 0)
	for _, text := range stringList(entry["strengths"]) {
		items = append(items, models.FeedbackItem{RubricCategoryID: categoryID, Kind: models.FeedbackKindStrength, Text: text})
	}
	improvements := stringList(entry["improvements"])
	if len(improvements) == 0 && len(items) == 0 {
		improvements = stringList(entry["feedback"])
	}
	for _, text := range improvements {
		items = append(items, models.FeedbackItem{RubricCategoryID: categoryID, Kind: models.FeedbackKindImprovement, Text: text})
	}
	return items
}

func stringList(value interface{}) []string {
	switch typed := value.(type) {
	case string:
		if trimmed := strings.TrimSpace(typed); trimmed != "" {
			return []string{trimmed}
		}
	case []interface{}:
		result := make([]string, 0, len(typed))
		for _, element := range typed {
			if text, ok := element.(string); ok && strings.TrimSpace(text) != "" {
				result = append(result, strings.TrimSpace(text))
			}
		}
		return result
	}
	return nil
}

func clamp(value, low, high float64) float64 {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

func mustCompileSchema(name, schema string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("evaluation: add schema %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}
