// Built-in agent implementations, one per agent type, so the server routes
// end-to-end without any external registration. Chat-style types delegate to
// the model client; url-pull fetches and converts pages itself; web-search,
// code-interpreter, and third-party call their configured backends over HTTP.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/agentrelay/agentrelay/internal/llm"
	"github.com/agentrelay/agentrelay/pkg/models"
)

// maxPageContent caps the markdown extracted from one fetched page.
const maxPageContent = 20000

// BuiltinConfig wires the external backends the built-in agents call.
type BuiltinConfig struct {
	Chat               llm.ChatClient
	SearchEndpoint     string
	SearchAPIKey       string
	SandboxEndpoint    string
	ThirdPartyEndpoint string
	KnowledgeEndpoint  string
	HTTPClient         *http.Client
	SupportedModels    []string
}

// RegisterBuiltins installs one built-in agent per type into the registry.
func RegisterBuiltins(r *Registry, cfg BuiltinConfig) error {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}

	chatInstructions := map[models.AgentType]string{
		models.AgentStandardChat:     "You are a helpful, conversational assistant.",
		models.AgentGeneralReasoning: "You are a careful reasoning assistant. Work through problems step by step before answering.",
		models.AgentTranslation:      "You are a translator. Translate the user's text accurately, preserving tone and formatting.",
		models.AgentLocalKnowledge:   "Answer strictly from the provided internal knowledge context. Say so when the context has no answer.",
	}

	type builtin struct {
		t        models.AgentType
		ctor     Constructor
		caps     models.AgentCapabilities
		priority int
	}

	builtins := []builtin{
		{
			t: models.AgentWebSearch,
			ctor: func(c models.AgentConfig) (Agent, error) {
				return &webSearchAgent{cfg: c, endpoint: cfg.SearchEndpoint, apiKey: cfg.SearchAPIKey, client: cfg.HTTPClient}, nil
			},
			caps: models.AgentCapabilities{
				Description:     "Searches the web for current information",
				Tags:            []string{"search", "web", "news", "current"},
				SupportedModels: cfg.SupportedModels,
				Batchable:       true,
			},
			priority: 6,
		},
		{
			t: models.AgentCodeInterpreter,
			ctor: func(c models.AgentConfig) (Agent, error) {
				return &codeInterpreterAgent{cfg: c, endpoint: cfg.SandboxEndpoint, client: cfg.HTTPClient}, nil
			},
			caps: models.AgentCapabilities{
				Description:     "Executes code in a sandbox and returns the output",
				Tags:            []string{"code", "execute", "python", "sandbox"},
				SupportedModels: cfg.SupportedModels,
			},
			priority: 5,
		},
		{
			t: models.AgentURLPull,
			ctor: func(c models.AgentConfig) (Agent, error) {
				return &urlPullAgent{cfg: c, client: cfg.HTTPClient, converter: md.NewConverter("", true, nil)}, nil
			},
			caps: models.AgentCapabilities{
				Description:     "Fetches web pages and extracts readable content",
				Tags:            []string{"url", "fetch", "page", "article"},
				SupportedModels: cfg.SupportedModels,
				Batchable:       true,
			},
			priority: 6,
		},
		{
			t: models.AgentLocalKnowledge,
			ctor: func(c models.AgentConfig) (Agent, error) {
				return &chatAgent{cfg: c, chat: cfg.Chat, instructions: chatInstructions[models.AgentLocalKnowledge]}, nil
			},
			caps: models.AgentCapabilities{
				Description:     "Answers from internal documents and knowledge bases",
				Tags:            []string{"internal", "docs", "knowledge", "policy"},
				SupportedModels: cfg.SupportedModels,
			},
			priority: 4,
		},
		{
			t: models.AgentStandardChat,
			ctor: func(c models.AgentConfig) (Agent, error) {
				return &chatAgent{cfg: c, chat: cfg.Chat, instructions: chatInstructions[models.AgentStandardChat]}, nil
			},
			caps: models.AgentCapabilities{
				Description:     "General conversation and explanations",
				Tags:            []string{"chat", "conversation", "explain"},
				SupportedModels: cfg.SupportedModels,
				Streaming:       true,
			},
			priority: 7,
		},
		{
			t: models.AgentGeneralReasoning,
			ctor: func(c models.AgentConfig) (Agent, error) {
				return &chatAgent{cfg: c, chat: cfg.Chat, instructions: chatInstructions[models.AgentGeneralReasoning]}, nil
			},
			caps: models.AgentCapabilities{
				Description:     "Multi-step reasoning, analysis, and planning",
				Tags:            []string{"reasoning", "analysis", "planning"},
				SupportedModels: cfg.SupportedModels,
			},
			priority: 8,
		},
		{
			t: models.AgentThirdParty,
			ctor: func(c models.AgentConfig) (Agent, error) {
				return &thirdPartyAgent{cfg: c, endpoint: cfg.ThirdPartyEndpoint, client: cfg.HTTPClient}, nil
			},
			caps: models.AgentCapabilities{
				Description:     "Bridges requests to external tool integrations",
				Tags:            []string{"integration", "tools", "jira", "slack", "github"},
				SupportedModels: cfg.SupportedModels,
			},
			priority: 3,
		},
		{
			t: models.AgentTranslation,
			ctor: func(c models.AgentConfig) (Agent, error) {
				return &chatAgent{cfg: c, chat: cfg.Chat, instructions: chatInstructions[models.AgentTranslation]}, nil
			},
			caps: models.AgentCapabilities{
				Description:     "Translates text between languages",
				Tags:            []string{"translate", "translation", "language"},
				SupportedModels: cfg.SupportedModels,
				Batchable:       true,
			},
			priority: 5,
		},
	}

	for _, b := range builtins {
		if err := r.Register(b.t, b.ctor, b.caps, "0.1.0", b.priority); err != nil {
			return fmt.Errorf("register builtin %s: %w", b.t, err)
		}
	}
	return nil
}

// ── Chat-backed Agents ──────────────────────────────────────

type chatAgent struct {
	cfg          models.AgentConfig
	chat         llm.ChatClient
	instructions string
}

func (a *chatAgent) Type() models.AgentType { return a.cfg.Type }

func (a *chatAgent) Execute(ctx context.Context, req *models.AgentExecutionRequest) (*models.AgentResponse, error) {
	if a.chat == nil {
		return nil, fmt.Errorf("%s agent unavailable: no model client configured", a.cfg.Type)
	}

	system := a.instructions
	if a.cfg.Instructions != "" {
		system = a.cfg.Instructions
	}
	if a.cfg.Type == models.AgentTranslation {
		if target, _ := req.Context.Parameters["target_language"].(string); target != "" {
			system += " Target language: " + target + "."
		}
	}

	messages := make([]models.ChatMessage, 0, len(req.Context.History)+2)
	messages = append(messages, models.ChatMessage{Role: "system", Content: system})
	messages = append(messages, req.Context.History...)
	messages = append(messages, models.ChatMessage{Role: "user", Content: req.Context.Query})

	content, err := a.chat.Chat(ctx, a.cfg.Model, messages)
	if err != nil {
		return nil, fmt.Errorf("%s agent: %w", a.cfg.Type, err)
	}

	return &models.AgentResponse{
		Content: content,
		Success: true,
		Metadata: map[string]interface{}{
			"agent_id": a.cfg.ID,
			"model":    a.cfg.Model,
		},
	}, nil
}

// ── URL Pull Agent ──────────────────────────────────────────

type urlPullAgent struct {
	cfg       models.AgentConfig
	client    *http.Client
	converter *md.Converter
}

func (a *urlPullAgent) Type() models.AgentType { return models.AgentURLPull }

func (a *urlPullAgent) Execute(ctx context.Context, req *models.AgentExecutionRequest) (*models.AgentResponse, error) {
	rawURLs, _ := req.Context.Parameters["urls"].([]interface{})
	if len(rawURLs) == 0 {
		return nil, fmt.Errorf("url-pull: invalid request: no URLs provided")
	}

	type page struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	var pages []page
	var summary strings.Builder

	for _, raw := range rawURLs {
		target, _ := raw.(string)
		if target == "" {
			continue
		}
		title, content, err := a.fetch(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("url-pull %s: %w", target, err)
		}
		pages = append(pages, page{URL: target, Title: title, Content: content})
		fmt.Fprintf(&summary, "## %s\n%s\n\n", title, content)
	}

	return &models.AgentResponse{
		Content: strings.TrimSpace(summary.String()),
		Success: true,
		Data:    map[string]interface{}{"pages": pages},
		Metadata: map[string]interface{}{
			"agent_id":   a.cfg.ID,
			"page_count": len(pages),
		},
	}, nil
}

func (a *urlPullAgent) fetch(ctx context.Context, target string) (title, content string, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "agentrelay/0.1")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", "", fmt.Errorf("parse page: %w", err)
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = target
	}
	doc.Find("script, style, nav, footer").Remove()

	html, err := doc.Find("body").Html()
	if err != nil {
		return "", "", fmt.Errorf("extract body: %w", err)
	}
	content, err = a.converter.ConvertString(html)
	if err != nil {
		return "", "", fmt.Errorf("convert content: %w", err)
	}
	content = truncateContent(strings.TrimSpace(content), maxPageContent)
	return title, content, nil
}

// truncateContent caps s at max bytes without splitting a multi-byte rune.
func truncateContent(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// ── Web Search Agent ────────────────────────────────────────

type webSearchAgent struct {
	cfg      models.AgentConfig
	endpoint string
	apiKey   string
	client   *http.Client
}

func (a *webSearchAgent) Type() models.AgentType { return models.AgentWebSearch }

func (a *webSearchAgent) Execute(ctx context.Context, req *models.AgentExecutionRequest) (*models.AgentResponse, error) {
	if a.endpoint == "" {
		return nil, fmt.Errorf("web-search agent unavailable: no search endpoint configured")
	}

	query, _ := req.Context.Parameters["query"].(string)
	if query == "" {
		query = req.Context.Query
	}

	q := url.Values{}
	q.Set("q", query)
	// Decoded JSON carries numbers as float64; in-process callers pass ints.
	switch count := req.Context.Parameters["count"].(type) {
	case int:
		q.Set("count", strconv.Itoa(count))
	case float64:
		q.Set("count", strconv.Itoa(int(count)))
	}
	if freshness, ok := req.Context.Parameters["freshness"].(string); ok {
		q.Set("freshness", freshness)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "GET", a.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("web-search: create request: %w", err)
	}
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("web-search: network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("web-search: rate limit exceeded")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("web-search: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Snippet string `json:"snippet"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("web-search: invalid response: %w", err)
	}

	var content strings.Builder
	results := make([]interface{}, 0, len(parsed.Results))
	for i, res := range parsed.Results {
		fmt.Fprintf(&content, "%d. %s — %s\n   %s\n", i+1, res.Title, res.URL, res.Snippet)
		results = append(results, map[string]interface{}{
			"title": res.Title, "url": res.URL, "snippet": res.Snippet,
		})
	}

	return &models.AgentResponse{
		Content: content.String(),
		Success: true,
		Data:    map[string]interface{}{"results": results},
		Metadata: map[string]interface{}{
			"agent_id":     a.cfg.ID,
			"result_count": len(results),
		},
	}, nil
}

// ── Code Interpreter Agent ──────────────────────────────────

type codeInterpreterAgent struct {
	cfg      models.AgentConfig
	endpoint string
	client   *http.Client
}

func (a *codeInterpreterAgent) Type() models.AgentType { return models.AgentCodeInterpreter }

func (a *codeInterpreterAgent) Execute(ctx context.Context, req *models.AgentExecutionRequest) (*models.AgentResponse, error) {
	if a.endpoint == "" {
		return nil, fmt.Errorf("code-interpreter agent unavailable: no sandbox endpoint configured")
	}

	language, _ := req.Context.Parameters["language"].(string)
	code, _ := req.Context.Parameters["code"].(string)
	if code == "" {
		code = req.Context.Query
	}

	body, _ := json.Marshal(map[string]string{"language": language, "code": code})
	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.endpoint+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("code-interpreter: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("code-interpreter: network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("code-interpreter: sandbox status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
		ExitCode int    `json:"exit_code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("code-interpreter: invalid response: %w", err)
	}

	content := result.Stdout
	if result.ExitCode != 0 {
		content = fmt.Sprintf("Execution failed (exit %d):\n%s", result.ExitCode, result.Stderr)
	}

	return &models.AgentResponse{
		Content: content,
		Success: true,
		Data: map[string]interface{}{
			"stdout":    result.Stdout,
			"stderr":    result.Stderr,
			"exit_code": result.ExitCode,
		},
		Metadata: map[string]interface{}{
			"agent_id": a.cfg.ID,
			"language": language,
		},
	}, nil
}

// ── Third-Party Integration Agent ───────────────────────────

// thirdPartyAgent bridges a request to an external integration gateway over
// JSON-RPC 2.0.
type thirdPartyAgent struct {
	cfg      models.AgentConfig
	endpoint string
	client   *http.Client
}

func (a *thirdPartyAgent) Type() models.AgentType { return models.AgentThirdParty }

func (a *thirdPartyAgent) Execute(ctx context.Context, req *models.AgentExecutionRequest) (*models.AgentResponse, error) {
	if a.endpoint == "" {
		return nil, fmt.Errorf("third-party agent unavailable: no integration endpoint configured")
	}

	tool, _ := req.Context.Parameters["tool"].(string)
	args, _ := req.Context.Parameters["arguments"].(map[string]interface{})
	if args == nil {
		args = map[string]interface{}{"query": req.Context.Query}
	}

	rpcReq := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      uuid.New().String(),
		"method":  "tools/call",
		"params":  map[string]interface{}{"name": tool, "arguments": args},
	}
	body, _ := json.Marshal(rpcReq)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("third-party: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("third-party: network error: %w", err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("third-party: invalid response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("third-party: integration error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	return &models.AgentResponse{
		Content: string(rpcResp.Result),
		Success: true,
		Metadata: map[string]interface{}{
			"agent_id": a.cfg.ID,
			"tool":     tool,
		},
	}, nil
}
