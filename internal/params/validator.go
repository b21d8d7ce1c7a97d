package params

import (
	"fmt"
	"strconv"

	"github.com/agentrelay/agentrelay/pkg/models"
)

// Result bounds for web-search; counts outside the range are clamped.
const (
	minResultCount = 1
	maxResultCount = 50
)

// ValidationResult reports the outcome of validating a parameter map.
type ValidationResult struct {
	Valid     bool                   `json:"valid"`
	Errors    []string               `json:"errors,omitempty"`
	Warnings  []string               `json:"warnings,omitempty"`
	Sanitized map[string]interface{} `json:"sanitized"`
}

// Validate checks the parameter map for one agent type. Missing required
// fields are errors; out-of-range optional fields are clamped and warned.
func Validate(agentType models.AgentType, parameters map[string]interface{}) ValidationResult {
	res := ValidationResult{
		Valid:     true,
		Sanitized: make(map[string]interface{}, len(parameters)),
	}
	for k, v := range parameters {
		res.Sanitized[k] = v
	}

	switch agentType {
	case models.AgentURLPull:
		urls, ok := res.Sanitized["urls"].([]interface{})
		if !ok || len(urls) == 0 {
			res.Valid = false
			res.Errors = append(res.Errors, "url-pull requires at least one URL")
		}

	case models.AgentWebSearch:
		if q, _ := res.Sanitized["query"].(string); q == "" {
			res.Valid = false
			res.Errors = append(res.Errors, "web-search requires a non-empty query")
		}
		if raw, ok := res.Sanitized["count"]; ok {
			count, convOK := toInt(raw)
			if !convOK {
				res.Warnings = append(res.Warnings, "count is not a number, dropped")
				delete(res.Sanitized, "count")
			} else if count < minResultCount || count > maxResultCount {
				clamped := count
				if clamped < minResultCount {
					clamped = minResultCount
				}
				if clamped > maxResultCount {
					clamped = maxResultCount
				}
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("count %d out of range, clamped to %d", count, clamped))
				res.Sanitized["count"] = clamped
			} else {
				res.Sanitized["count"] = count
			}
		}

	case models.AgentTranslation:
		if t, _ := res.Sanitized["target_language"].(string); t == "" {
			res.Valid = false
			res.Errors = append(res.Errors, "translation requires a target_language")
		}

	case models.AgentCodeInterpreter:
		if lang, ok := res.Sanitized["language"].(string); ok {
			if _, known := languageHints[lang]; !known {
				res.Warnings = append(res.Warnings, "unrecognized language "+strconv.Quote(lang))
			}
		}
	}

	return res
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}
