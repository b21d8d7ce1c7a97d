// Package params derives structured, agent-specific parameters from free
// text and from a classifier's raw output.
//
// Extraction merges three layers in order:
//
//  1. AI-supplied parameters, normalized and stripped of empty values
//  2. rule-based extraction specific to the agent type
//  3. post-processing defaults (non-empty search query, inferred language)
//
// Validation is a separate pass: missing required fields are errors,
// out-of-range optional fields are clamped with a warning.
package params

import (
	"regexp"
	"strings"

	"github.com/agentrelay/agentrelay/pkg/models"
)

var (
	urlRegex        = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
	fencedCodeRegex = regexp.MustCompile("(?s)```([a-zA-Z0-9+#-]*)\n?(.*?)```")
	countRegex      = regexp.MustCompile(`(?i)\b(?:top|first|latest)\s+(\d{1,3})\b`)
	marketRegex     = regexp.MustCompile(`(?i)\bin\s+(the\s+)?(us|uk|germany|france|japan|china|india|brazil)\b`)
)

// Keyword maps for inferring a programming language from prose.
var languageHints = map[string][]string{
	"python":     {"python", "pandas", "numpy", "matplotlib", "pip ", "django", "flask"},
	"javascript": {"javascript", "js ", "node", "npm ", "react", "typescript"},
	"go":         {"golang", " go ", "goroutine", "go func"},
	"sql":        {"sql", "select ", "query the table", "database query"},
	"bash":       {"bash", "shell script", "command line"},
}

// Freshness phrasing that indicates the caller wants recent results.
var freshnessTerms = []string{
	"today", "latest", "current", "right now", "breaking", "this week",
	"yesterday", "recent", "news",
}

// Target-language names recognized for translation requests.
var translationTargets = []string{
	"english", "spanish", "french", "german", "italian", "portuguese",
	"japanese", "chinese", "korean", "russian", "arabic", "dutch",
}

// Extract builds the parameter map for one agent type.
// aiParams may be nil; ctxParams are caller-supplied free-form parameters.
func Extract(agentType models.AgentType, query string, ctxParams, aiParams map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})

	// Layer 1: AI-supplied parameters, normalized.
	for k, v := range normalize(aiParams) {
		out[k] = v
	}
	for k, v := range normalize(ctxParams) {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}

	// Layer 2: rule-based extraction per type.
	switch agentType {
	case models.AgentURLPull:
		extractURLPull(query, out)
	case models.AgentCodeInterpreter:
		extractCode(query, out)
	case models.AgentWebSearch:
		extractWebSearch(query, out)
	case models.AgentTranslation:
		extractTranslation(query, out)
	case models.AgentLocalKnowledge:
		extractKnowledge(query, out)
	}

	// Layer 3: defaults.
	applyDefaults(agentType, query, out)

	return out
}

// normalize lowercases keys and drops empty values from an AI parameter map.
func normalize(in map[string]interface{}) map[string]interface{} {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		switch val := v.(type) {
		case string:
			if strings.TrimSpace(val) == "" {
				continue
			}
			out[key] = strings.TrimSpace(val)
		case []interface{}:
			if len(val) == 0 {
				continue
			}
			out[key] = val
		case nil:
			continue
		default:
			out[key] = v
		}
	}
	return out
}

func extractURLPull(query string, out map[string]interface{}) {
	if _, ok := out["urls"]; ok {
		return
	}
	matches := urlRegex.FindAllString(query, -1)
	if len(matches) > 0 {
		urls := make([]interface{}, 0, len(matches))
		for _, m := range matches {
			urls = append(urls, strings.TrimRight(m, ".,;"))
		}
		out["urls"] = urls
	}
}

func extractCode(query string, out map[string]interface{}) {
	if m := fencedCodeRegex.FindStringSubmatch(query); m != nil {
		if m[1] != "" {
			out["language"] = strings.ToLower(m[1])
		}
		if code := strings.TrimSpace(m[2]); code != "" {
			out["code"] = code
		}
	}
	if _, ok := out["language"]; !ok {
		if lang := inferLanguage(query); lang != "" {
			out["language"] = lang
		}
	}
}

func extractWebSearch(query string, out map[string]interface{}) {
	lower := strings.ToLower(query)
	for _, term := range freshnessTerms {
		if strings.Contains(lower, term) {
			out["freshness"] = "day"
			break
		}
	}
	if m := countRegex.FindStringSubmatch(query); m != nil {
		out["count"] = m[1]
	}
	if m := marketRegex.FindStringSubmatch(query); m != nil {
		out["market"] = strings.ToLower(m[2])
	}
}

func extractTranslation(query string, out map[string]interface{}) {
	if _, ok := out["target_language"]; ok {
		return
	}
	lower := strings.ToLower(query)
	for _, lang := range translationTargets {
		if strings.Contains(lower, "to "+lang) || strings.Contains(lower, "into "+lang) {
			out["target_language"] = lang
			return
		}
	}
}

func extractKnowledge(query string, out map[string]interface{}) {
	// Quoted phrases are the strongest retrieval signal.
	quoted := regexp.MustCompile(`["']([^"']{3,})["']`)
	if m := quoted.FindStringSubmatch(query); m != nil {
		out["search_terms"] = m[1]
	}
}

func applyDefaults(agentType models.AgentType, query string, out map[string]interface{}) {
	switch agentType {
	case models.AgentWebSearch:
		// Force a non-empty search query.
		if q, _ := out["query"].(string); strings.TrimSpace(q) == "" {
			out["query"] = strings.TrimSpace(query)
		}
	case models.AgentCodeInterpreter:
		if _, ok := out["language"]; !ok {
			out["language"] = "python"
		}
	case models.AgentLocalKnowledge:
		if _, ok := out["search_terms"]; !ok {
			out["search_terms"] = strings.TrimSpace(query)
		}
	}
}

// inferLanguage guesses a programming language from prose keywords.
func inferLanguage(query string) string {
	lower := " " + strings.ToLower(query) + " "
	for lang, hints := range languageHints {
		for _, h := range hints {
			if strings.Contains(lower, h) {
				return lang
			}
		}
	}
	return ""
}

// HasURL reports whether the text contains a well-formed URL.
func HasURL(text string) bool {
	return urlRegex.MatchString(text)
}

// HasFencedCode reports whether the text contains a fenced code block.
func HasFencedCode(text string) bool {
	return fencedCodeRegex.MatchString(text)
}
