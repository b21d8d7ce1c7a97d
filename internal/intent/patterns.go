// Per-agent-type scoring profiles for heuristic classification.
//
// Each profile carries weighted regex patterns and keywords. Scores are the
// capped sums of matched weights; boosts and user-exclusion penalties are
// applied by the engine afterwards. The exact weights are tuned, not derived;
// treat them as configuration, not invariants.
package intent

import (
	"regexp"
	"strings"

	"github.com/agentrelay/agentrelay/pkg/models"
)

type scoredPattern struct {
	re     *regexp.Regexp
	weight float64
}

type scoredKeyword struct {
	word   string
	weight float64
}

type typeProfile struct {
	Type       models.AgentType
	Patterns   []scoredPattern
	Keywords   []scoredKeyword
	PatternCap float64
	KeywordCap float64
}

func rx(expr string) *regexp.Regexp { return regexp.MustCompile(expr) }

// defaultProfiles returns the built-in scoring table, one profile per type.
func defaultProfiles() map[models.AgentType]*typeProfile {
	profiles := []*typeProfile{
		{
			Type: models.AgentWebSearch,
			Patterns: []scoredPattern{
				{rx(`(?i)\b(search|google|look\s*up|find\s+(info|information|results))\b`), 0.35},
				{rx(`(?i)\bwhat('?s| is) (the )?(weather|news|price|score)\b`), 0.4},
				{rx(`(?i)\b(today|right now|currently|latest|breaking)\b`), 0.25},
			},
			Keywords: []scoredKeyword{
				{"weather", 0.3}, {"news", 0.3}, {"stock", 0.2}, {"price", 0.2},
				{"search", 0.25}, {"latest", 0.2}, {"current", 0.2}, {"today", 0.2},
			},
			PatternCap: 0.6, KeywordCap: 0.4,
		},
		{
			Type: models.AgentCodeInterpreter,
			Patterns: []scoredPattern{
				{rx(`(?i)\b(run|execute|debug)\b.*\b(code|script|program|function)\b`), 0.4},
				{rx(`(?i)\b(plot|chart|graph)\b.*\b(data|csv|results?)\b`), 0.3},
				{rx(`(?i)\bcalculate\b|\bcompute\b`), 0.2},
			},
			Keywords: []scoredKeyword{
				{"python", 0.3}, {"pandas", 0.3}, {"script", 0.2}, {"code", 0.2},
				{"execute", 0.2}, {"dataframe", 0.25}, {"csv", 0.2},
			},
			PatternCap: 0.6, KeywordCap: 0.4,
		},
		{
			Type: models.AgentURLPull,
			Patterns: []scoredPattern{
				{rx(`(?i)\b(summarize|read|fetch|scrape|open)\b.*https?://`), 0.5},
				{rx(`(?i)\bthis\s+(page|link|article|url)\b`), 0.3},
			},
			Keywords: []scoredKeyword{
				{"summarize", 0.2}, {"article", 0.2}, {"webpage", 0.25}, {"link", 0.2},
			},
			PatternCap: 0.6, KeywordCap: 0.4,
		},
		{
			Type: models.AgentLocalKnowledge,
			Patterns: []scoredPattern{
				{rx(`(?i)\b(our|my|internal|company)\b.*\b(docs?|documentation|wiki|knowledge\s*base|policy|handbook)\b`), 0.45},
				{rx(`(?i)\baccording to (the|our)\b`), 0.25},
			},
			Keywords: []scoredKeyword{
				{"internal", 0.25}, {"policy", 0.25}, {"handbook", 0.3},
				{"documentation", 0.2}, {"wiki", 0.25},
			},
			PatternCap: 0.6, KeywordCap: 0.4,
		},
		{
			Type: models.AgentStandardChat,
			Patterns: []scoredPattern{
				{rx(`(?i)^(hi|hello|hey|thanks|thank you)\b`), 0.4},
				{rx(`(?i)\b(explain|tell me about|what (is|are))\b`), 0.25},
			},
			Keywords: []scoredKeyword{
				{"explain", 0.2}, {"chat", 0.2}, {"opinion", 0.2}, {"help", 0.15},
			},
			PatternCap: 0.5, KeywordCap: 0.3,
		},
		{
			Type: models.AgentGeneralReasoning,
			Patterns: []scoredPattern{
				{rx(`(?i)\b(step[- ]by[- ]step|think through|reason about|prove|derive)\b`), 0.4},
				{rx(`(?i)\b(analyze|compare and contrast|trade[- ]?offs?)\b`), 0.3},
			},
			Keywords: []scoredKeyword{
				{"reasoning", 0.3}, {"logic", 0.25}, {"analyze", 0.2}, {"plan", 0.2},
			},
			PatternCap: 0.6, KeywordCap: 0.4,
		},
		{
			Type: models.AgentThirdParty,
			Patterns: []scoredPattern{
				{rx(`(?i)\b(jira|slack|github|salesforce|notion|trello)\b`), 0.45},
				{rx(`(?i)\b(create|update|close)\b.*\b(ticket|issue|pr|pull request)\b`), 0.35},
			},
			Keywords: []scoredKeyword{
				{"integration", 0.25}, {"webhook", 0.25}, {"ticket", 0.2},
			},
			PatternCap: 0.6, KeywordCap: 0.4,
		},
		{
			Type: models.AgentTranslation,
			Patterns: []scoredPattern{
				{rx(`(?i)\btranslate\b`), 0.5},
				{rx(`(?i)\b(in|to|into)\s+(english|spanish|french|german|japanese|chinese|korean|russian|portuguese|italian)\b`), 0.35},
			},
			Keywords: []scoredKeyword{
				{"translate", 0.3}, {"translation", 0.3},
			},
			PatternCap: 0.7, KeywordCap: 0.3,
		},
	}

	out := make(map[models.AgentType]*typeProfile, len(profiles))
	for _, p := range profiles {
		out[p.Type] = p
	}
	return out
}

// score returns the capped pattern and keyword components for a query.
func (p *typeProfile) score(query string) (pattern, keyword float64) {
	lower := strings.ToLower(query)

	for _, sp := range p.Patterns {
		if sp.re.MatchString(query) {
			pattern += sp.weight
		}
	}
	if pattern > p.PatternCap {
		pattern = p.PatternCap
	}

	for _, kw := range p.Keywords {
		if strings.Contains(lower, kw.word) {
			keyword += kw.weight
		}
	}
	if keyword > p.KeywordCap {
		keyword = p.KeywordCap
	}
	return pattern, keyword
}

// ── User Exclusions ─────────────────────────────────────────

// Explicit avoidance phrasing per agent type. A match clamps that type's
// confidence regardless of other signals.
var exclusionPatterns = map[models.AgentType][]*regexp.Regexp{
	models.AgentWebSearch: {
		rx(`(?i)\b(don'?t|do not|no)\b[^.]*\b(search|browse)\b[^.]*\b(web|internet|online)\b`),
		rx(`(?i)\bwithout (searching|browsing|the web|the internet)\b`),
		rx(`(?i)\bno (web|internet) search(es)?\b`),
	},
	models.AgentCodeInterpreter: {
		rx(`(?i)\b(don'?t|do not|no)\b[^.]*\b(run|execute)\b[^.]*\bcode\b`),
		rx(`(?i)\bno code execution\b`),
		rx(`(?i)\bwithout (running|executing) (any )?code\b`),
	},
	models.AgentURLPull: {
		rx(`(?i)\b(don'?t|do not)\b[^.]*\b(open|fetch|visit)\b[^.]*\b(link|url|page)s?\b`),
		rx(`(?i)\bwithout (opening|fetching|visiting) (the )?(link|url|page)s?\b`),
	},
	models.AgentThirdParty: {
		rx(`(?i)\b(don'?t|do not)\b[^.]*\b(use|touch)\b[^.]*\b(jira|slack|github|integrations?)\b`),
	},
}

// excludedTypes returns the agent types the query explicitly avoids.
func excludedTypes(query string) map[models.AgentType]bool {
	var out map[models.AgentType]bool
	for t, patterns := range exclusionPatterns {
		for _, re := range patterns {
			if re.MatchString(query) {
				if out == nil {
					out = make(map[models.AgentType]bool)
				}
				out[t] = true
				break
			}
		}
	}
	return out
}

// ── Time Sensitivity ────────────────────────────────────────

var timeSensitivePatterns = []*regexp.Regexp{
	rx(`(?i)\b(today|tonight|right now|currently|at the moment)\b`),
	rx(`(?i)\b(latest|breaking|up[- ]to[- ]date|real[- ]time)\b`),
	rx(`(?i)\bthis (week|morning|afternoon|evening)\b`),
}

func isTimeSensitive(query string) bool {
	for _, re := range timeSensitivePatterns {
		if re.MatchString(query) {
			return true
		}
	}
	return false
}
