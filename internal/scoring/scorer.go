package scoring

import (
	"math"
	"strconv"
	"strings"

	"github.com/iago/lead-intel/internal/domain"
)

const (
	weightIndustryExact   = 25
	weightIndustryPartial = 15
	weightSize            = 20
	weightSizeNeutral     = 5
	weightPainPoints      = 20
	weightEmailBusiness   = 15
	weightEmailFree       = 5
	weightSignalStrong    = 10
	weightSignalWeak      = 5
)

var freeEmailProviders = map[string]struct{}{
	"gmail":      {},
	"yahoo":      {},
	"hotmail":    {},
	"outlook":    {},
	"icloud":     {},
	"aol":        {},
	"protonmail": {},
}

// Breakdown is the per-factor contribution to a lead score.
type Breakdown struct {
	Industry   int `json:"industry"`
	Size       int `json:"size"`
	PainPoints int `json:"pain_points"`
	Email      int `json:"email"`
	TechStack  int `json:"tech_stack"`
	Intent     int `json:"intent"`
}

func (b Breakdown) Total() int {
	total := b.Industry + b.Size + b.PainPoints + b.Email + b.TechStack + b.Intent
	return max(0, min(100, total))
}

// Score rates a lead against a target profile. A nil profile means the user
// has not set targets yet.
func Score(lead domain.Lead, profile *domain.TargetProfile) (int, domain.Tier, Breakdown) {
	var target domain.TargetProfile
	if profile != nil {
		target = *profile
	}
	breakdown := Breakdown{
		Industry:   industryScore(lead.Industry, target.Industries),
		Size:       sizeScore(lead.CompanySize, target.CompanySize),
		PainPoints: painPointScore(lead.PainPoints, target.PainPoints),
		Email:      emailScore(lead.Email),
		TechStack:  signalScore(len(lead.Signals.TechStack)),
		Intent:     signalScore(len(lead.Signals.Intent)),
	}
	score := breakdown.Total()
	return score, TierFor(score), breakdown
}

func TierFor(score int) domain.Tier {
	switch {
	case score >= 80:
		return domain.TierHot
	case score >= 60:
		return domain.TierWarm
	case score >= 40:
		return domain.TierCold
	default:
		return domain.TierDiscard
	}
}

func industryScore(industry string, targets []string) int {
	industry = strings.ToLower(strings.TrimSpace(industry))
	if industry == "" {
		return 0
	}
	best := 0
	for _, target := range targets {
		target = strings.ToLower(strings.TrimSpace(target))
		if target == "" {
			continue
		}
		if industry == target {
			return weightIndustryExact
		}
		if strings.Contains(industry, target) || strings.Contains(target, industry) {
			best = weightIndustryPartial
		}
	}
	return best
}

type sizeRange struct {
	min, max int
}

// parseSize reads "10-50", "100+" or "50". Thousands separators are ignored.
func parseSize(value string) (sizeRange, bool) {
	value = strings.ReplaceAll(strings.TrimSpace(value), ",", "")
	if value == "" {
		return sizeRange{}, false
	}
	if prefix, ok := strings.CutSuffix(value, "+"); ok {
		low, err := strconv.Atoi(strings.TrimSpace(prefix))
		if err != nil || low < 0 {
			return sizeRange{}, false
		}
		return sizeRange{min: low, max: math.MaxInt}, true
	}
	if lowText, highText, ok := strings.Cut(value, "-"); ok {
		low, errLow := strconv.Atoi(strings.TrimSpace(lowText))
		high, errHigh := strconv.Atoi(strings.TrimSpace(highText))
		if errLow != nil || errHigh != nil || low < 0 || high < low {
			return sizeRange{}, false
		}
		return sizeRange{min: low, max: high}, true
	}
	exact, err := strconv.Atoi(value)
	if err != nil || exact < 0 {
		return sizeRange{}, false
	}
	return sizeRange{min: exact, max: exact}, true
}

func sizeScore(leadSize, targetSize string) int {
	lead, okLead := parseSize(leadSize)
	target, okTarget := parseSize(targetSize)
	if !okLead || !okTarget {
		return weightSizeNeutral
	}
	if lead.min <= target.max && target.min <= lead.max {
		return weightSize
	}
	return 0
}

type painPoint struct {
	words    []string
	required int
}

func painPointScore(leadPoints, targetPoints []string) int {
	var targets []painPoint
	for _, point := range targetPoints {
		tokens := tokenize(point)
		if len(tokens) == 0 {
			continue
		}
		required := 2
		if len(tokens) <= 2 {
			required = 1
		}
		targets = append(targets, painPoint{words: uniqueWords(tokens), required: required})
	}
	if len(targets) == 0 {
		return 0
	}

	leads := make([]map[string]struct{}, 0, len(leadPoints))
	for _, point := range leadPoints {
		set := map[string]struct{}{}
		for _, word := range tokenize(point) {
			set[word] = struct{}{}
		}
		leads = append(leads, set)
	}

	matched := 0
	for _, target := range targets {
		for _, lead := range leads {
			if overlap(target.words, lead) >= target.required {
				matched++
				break
			}
		}
	}
	return int(math.Round(float64(matched) / float64(len(targets)) * weightPainPoints))
}

func uniqueWords(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

func overlap(words []string, set map[string]struct{}) int {
	count := 0
	for _, word := range words {
		if _, ok := set[word]; ok {
			count++
		}
	}
	return count
}

func emailScore(email string) int {
	_, domainPart, ok := strings.Cut(strings.ToLower(strings.TrimSpace(email)), "@")
	if !ok || domainPart == "" {
		return 0
	}
	label, _, _ := strings.Cut(domainPart, ".")
	if _, free := freeEmailProviders[label]; free {
		return weightEmailFree
	}
	return weightEmailBusiness
}

func signalScore(hits int) int {
	switch {
	case hits >= 3:
		return weightSignalStrong
	case hits >= 1:
		return weightSignalWeak
	default:
		return 0
	}
}
