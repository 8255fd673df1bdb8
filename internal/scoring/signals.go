package scoring

import (
	"strings"
	"unicode"

	"github.com/iago/lead-intel/internal/domain"
)

var techKeywords = []string{
	"salesforce", "hubspot", "pipedrive", "zoho", "slack", "jira", "notion",
	"asana", "trello", "shopify", "wordpress", "stripe", "zapier", "aws",
	"azure", "gcp", "kubernetes", "docker", "react", "angular", "vue",
	"python", "golang", "java", "postgres", "mysql", "mongodb", "snowflake",
	"tableau", "looker", "segment", "intercom", "zendesk", "mailchimp",
	"marketo", "google analytics", "microsoft dynamics",
}

var intentPhrases = []string{
	"hiring", "expanding", "raised", "funding", "series a", "series b",
	"looking for", "evaluating", "migrating", "replacing", "switching from",
	"rfp", "budget", "new office", "launching", "scaling", "growing team",
	"actively seeking", "request for proposal",
}

// ExtractSignals scans free-text notes once for known tool names and buying
// intent phrases. Each keyword counts at most once.
func ExtractSignals(notes string) domain.Signals {
	text := " " + strings.Join(tokenize(notes), " ") + " "
	return domain.Signals{
		TechStack: matchAll(text, techKeywords),
		Intent:    matchAll(text, intentPhrases),
	}
}

func matchAll(text string, keywords []string) []string {
	var hits []string
	for _, keyword := range keywords {
		if strings.Contains(text, " "+keyword+" ") {
			hits = append(hits, keyword)
		}
	}
	return hits
}

// tokenize lowercases text and splits it on anything that is not a letter
// or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
