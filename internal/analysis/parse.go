package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/iago/lead-intel/internal/domain"
)

const (
	maxTitleLen       = 160
	maxBodyLen        = 1200
	maxDescriptionLen = 400
	maxCategoryLen    = 40
)

var ErrEmptyAnalysis = errors.New("analysis returned no insights or action items")

type modelOutput struct {
	Insights []struct {
		Title      string  `json:"title"`
		Category   string  `json:"category"`
		Body       string  `json:"body"`
		Confidence looseNumber `json:"confidence"`
	} `json:"insights"`
	ActionItems []struct {
		Description string `json:"description"`
		Priority    string `json:"priority"`
		Effort      looseNumber `json:"effort"`
	} `json:"action_items"`
	Leads []struct {
		Name        string   `json:"name"`
		Email       string   `json:"email"`
		Company     string   `json:"company"`
		Industry    string   `json:"industry"`
		CompanySize string   `json:"company_size"`
		PainPoints  []string `json:"pain_points"`
		Notes       string   `json:"notes"`
	} `json:"leads"`
}

// looseNumber accepts JSON numbers and numeric strings. Anything else decodes
// to zero so one odd field does not reject the whole output.
type looseNumber float64

func (n *looseNumber) UnmarshalJSON(data []byte) error {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*n = 0
	switch v := value.(type) {
	case float64:
		*n = looseNumber(v)
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && !math.IsInf(parsed, 0) {
			*n = looseNumber(parsed)
		}
	}
	return nil
}

// parseOutput decodes and validates model text. Values out of range are
// clamped; entries missing required text are dropped.
func parseOutput(text string, includeLeads bool) (domain.AnalysisResult, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	var decoded modelOutput
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("decode analysis output: %w", err)
	}

	var result domain.AnalysisResult
	for _, item := range decoded.Insights {
		title := truncateAtWord(normalizeText(item.Title), maxTitleLen)
		body := truncateAtWord(normalizeText(item.Body), maxBodyLen)
		if title == "" || body == "" {
			continue
		}
		result.Insights = append(result.Insights, domain.Insight{
			Title:      title,
			Category:   truncateAtWord(strings.ToLower(normalizeText(item.Category)), maxCategoryLen),
			Body:       body,
			Confidence: round2(clamp01(float64(item.Confidence))),
		})
	}

	for _, item := range decoded.ActionItems {
		description := truncateAtWord(normalizeText(item.Description), maxDescriptionLen)
		if description == "" {
			continue
		}
		result.ActionItems = append(result.ActionItems, domain.ActionItem{
			Description: description,
			Priority:    normalizePriority(item.Priority),
			Effort:      clampEffort(int(math.Round(float64(item.Effort)))),
		})
	}

	if includeLeads {
		for _, item := range decoded.Leads {
			lead := domain.Lead{
				Name:        normalizeText(item.Name),
				Email:       strings.ToLower(strings.TrimSpace(item.Email)),
				Company:     normalizeText(item.Company),
				Industry:    normalizeText(item.Industry),
				CompanySize: normalizeText(item.CompanySize),
				Notes:       normalizeText(item.Notes),
			}
			if lead.Name == "" && lead.Company == "" {
				continue
			}
			if !strings.Contains(lead.Email, "@") {
				lead.Email = ""
			}
			for _, point := range item.PainPoints {
				if point = normalizeText(point); point != "" {
					lead.PainPoints = append(lead.PainPoints, point)
				}
			}
			result.Leads = append(result.Leads, lead)
		}
	}

	if len(result.Insights) == 0 && len(result.ActionItems) == 0 {
		return domain.AnalysisResult{}, ErrEmptyAnalysis
	}
	return result, nil
}

func extractJSON(text string) ([]byte, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, errors.New("empty model output")
	}
	if strings.HasPrefix(trimmed, "```") {
		trimmed = stripCodeFence(trimmed)
	}
	if json.Valid([]byte(trimmed)) {
		return []byte(trimmed), nil
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		candidate := trimmed[start : end+1]
		if json.Valid([]byte(candidate)) {
			return []byte(candidate), nil
		}
	}
	return nil, errors.New("model output is not valid JSON")
}

func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimPrefix(trimmed, "json")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

func normalizePriority(value string) domain.Priority {
	priority := domain.Priority(strings.ToUpper(strings.TrimSpace(value)))
	if priority.Valid() {
		return priority
	}
	return domain.PriorityMedium
}

func clampEffort(value int) int {
	return max(1, min(5, value))
}

func normalizeText(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

func truncateAtWord(value string, maxLen int) string {
	if len(value) <= maxLen || maxLen <= 0 {
		return value
	}
	cut := value[:maxLen]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	if lastSpace := strings.LastIndex(cut, " "); lastSpace > maxLen/2 {
		cut = cut[:lastSpace]
	}
	return strings.TrimSpace(cut)
}

func clamp01(value float64) float64 {
	if math.IsNaN(value) || value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
