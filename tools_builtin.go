package aifetchly

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

const (
	defaultPollCeiling       = 10 * time.Minute
	searchPollInterval       = time.Second
	directoryPollInterval    = 2 * time.Second
	emailPollInterval        = time.Second
	defaultSearchResultLimit = 10
	maxSearchResultLimit     = 100
)

// GoogleSearchTool submits a search query, polls the task at 1s intervals up
// to the 10-minute ceiling, then fetches up to num_results results.
type GoogleSearchTool struct {
	Engine SearchEngine

	// PollInterval and PollCeiling override the defaults; zero means default.
	PollInterval time.Duration
	PollCeiling  time.Duration
}

func NewGoogleSearchTool(engine SearchEngine) *GoogleSearchTool {
	return &GoogleSearchTool{Engine: engine}
}

func (t *GoogleSearchTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "scrape_urls_from_google",
		Description: "Searches Google and returns result URLs with titles and snippets.",
		Schema: `{
			"type": "object",
			"properties": {
				"query": {"type": "string", "minLength": 1, "description": "Search query"},
				"num_results": {"type": "integer", "minimum": 1, "maximum": 100, "description": "Maximum number of results to return"}
			},
			"required": ["query"]
		}`,
	}
}

func (t *GoogleSearchTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	query := payloadString(args, "query")
	limit, ok := payloadInt(args, "num_results")
	if !ok {
		limit = defaultSearchResultLimit
	}
	if limit > maxSearchResultLimit {
		limit = maxSearchResultLimit
	}

	taskID, err := t.Engine.Submit(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to submit search task", goerr.V("query", query))
	}

	interval, ceiling := orDefault(t.PollInterval, searchPollInterval), orDefault(t.PollCeiling, defaultPollCeiling)
	if err := pollTask(ctx, interval, ceiling, func(ctx context.Context) (TaskStatus, error) {
		return t.Engine.Status(ctx, taskID)
	}); err != nil {
		return nil, goerr.Wrap(err, "search task did not complete", goerr.V("task_id", taskID))
	}

	results, err := t.Engine.Fetch(ctx, taskID, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch search results", goerr.V("task_id", taskID))
	}
	if len(results) > limit {
		results = results[:limit]
	}

	items := make([]map[string]any, len(results))
	for i, r := range results {
		items[i] = map[string]any{"title": r.Title, "url": r.URL, "snippet": r.Snippet}
	}

	return map[string]any{
		"results": items,
		"count":   len(items),
		"summary": fmt.Sprintf("Found %d search results for %q", len(items), query),
	}, nil
}

// YellowPagesTool searches a business directory with the shared
// submit/poll/fetch shape at a 2s poll interval.
type YellowPagesTool struct {
	Directory DirectorySearcher

	PollInterval time.Duration
	PollCeiling  time.Duration
}

func NewYellowPagesTool(directory DirectorySearcher) *YellowPagesTool {
	return &YellowPagesTool{Directory: directory}
}

func (t *YellowPagesTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "yellow_pages_search",
		Description: "Searches a business directory for listings matching a keyword and location.",
		Schema: `{
			"type": "object",
			"properties": {
				"keyword": {"type": "string", "minLength": 1},
				"location": {"type": "string"},
				"max_pages": {"type": "integer", "minimum": 1, "maximum": 20}
			},
			"required": ["keyword"]
		}`,
	}
}

func (t *YellowPagesTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	query := DirectoryQuery{
		Keyword:  payloadString(args, "keyword"),
		Location: payloadString(args, "location"),
	}
	if pages, ok := payloadInt(args, "max_pages"); ok {
		query.MaxPages = pages
	}

	taskID, err := t.Directory.Submit(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to submit directory search", goerr.V("keyword", query.Keyword))
	}

	interval, ceiling := orDefault(t.PollInterval, directoryPollInterval), orDefault(t.PollCeiling, defaultPollCeiling)
	if err := pollTask(ctx, interval, ceiling, func(ctx context.Context) (TaskStatus, error) {
		return t.Directory.Status(ctx, taskID)
	}); err != nil {
		return nil, goerr.Wrap(err, "directory search did not complete", goerr.V("task_id", taskID))
	}

	entries, err := t.Directory.Fetch(ctx, taskID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch directory results", goerr.V("task_id", taskID))
	}

	items := make([]map[string]any, len(entries))
	for i, e := range entries {
		items[i] = map[string]any{"name": e.Name, "phone": e.Phone, "address": e.Address, "website": e.Website}
	}

	return map[string]any{
		"listings": items,
		"count":    len(items),
		"summary":  fmt.Sprintf("Found %d directory listings for %q", len(items), query.Keyword),
	}, nil
}

// EmailExtractTool submits a list of URLs, polls for completion, fetches the
// extracted addresses, and de-duplicates them case-insensitively.
type EmailExtractTool struct {
	Extractor EmailExtractor

	PollInterval time.Duration
	PollCeiling  time.Duration
}

func NewEmailExtractTool(extractor EmailExtractor) *EmailExtractTool {
	return &EmailExtractTool{Extractor: extractor}
}

func (t *EmailExtractTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "extract_emails_from_urls",
		Description: "Extracts email addresses from the given web pages.",
		Schema: `{
			"type": "object",
			"properties": {
				"urls": {
					"type": "array",
					"items": {"type": "string", "minLength": 1},
					"minItems": 1,
					"maxItems": 100
				}
			},
			"required": ["urls"]
		}`,
	}
}

func (t *EmailExtractTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	urls := stringSliceArg(args, "urls")

	taskID, err := t.Extractor.Submit(ctx, urls)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to submit email extraction", goerr.V("url_count", len(urls)))
	}

	interval, ceiling := orDefault(t.PollInterval, emailPollInterval), orDefault(t.PollCeiling, defaultPollCeiling)
	if err := pollTask(ctx, interval, ceiling, func(ctx context.Context) (TaskStatus, error) {
		return t.Extractor.Status(ctx, taskID)
	}); err != nil {
		return nil, goerr.Wrap(err, "email extraction did not complete", goerr.V("task_id", taskID))
	}

	addrs, err := t.Extractor.Fetch(ctx, taskID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch extracted emails", goerr.V("task_id", taskID))
	}

	emails := dedupeEmails(addrs)
	return map[string]any{
		"emails":  emails,
		"count":   len(emails),
		"summary": fmt.Sprintf("Extracted %d unique email addresses from %d pages", len(emails), len(urls)),
	}, nil
}

// dedupeEmails removes duplicates case-insensitively, keeping the first-seen
// form and order.
func dedupeEmails(addrs []string) []string {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		key := strings.ToLower(addr)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, addr)
	}
	return out
}

// WebsiteClassifyTool classifies websites either one at a time ("url") or as
// a batch ("urls"). Classification runs synchronously on the collaborator.
type WebsiteClassifyTool struct {
	Classifier WebsiteClassifier
}

func NewWebsiteClassifyTool(classifier WebsiteClassifier) *WebsiteClassifyTool {
	return &WebsiteClassifyTool{Classifier: classifier}
}

func (t *WebsiteClassifyTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "classify_websites",
		Description: "Classifies websites into business categories. Accepts a single url or a urls batch.",
		Schema: `{
			"type": "object",
			"properties": {
				"url": {"type": "string", "minLength": 1},
				"urls": {
					"type": "array",
					"items": {"type": "string", "minLength": 1},
					"minItems": 1,
					"maxItems": 100
				}
			}
		}`,
	}
}

func (t *WebsiteClassifyTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	if url := payloadString(args, "url"); url != "" {
		c, err := t.Classifier.Classify(ctx, url)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to classify website", goerr.V("url", url))
		}
		return map[string]any{
			"classifications": []map[string]any{classificationItem(c)},
			"count":           1,
			"summary":         fmt.Sprintf("Classified %s as %q", c.URL, c.Category),
		}, nil
	}

	urls := stringSliceArg(args, "urls")
	if len(urls) == 0 {
		return nil, goerr.Wrap(ErrInvalidToolArgs, "either url or urls is required")
	}

	classifications, err := t.Classifier.ClassifyBatch(ctx, urls)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to classify websites", goerr.V("url_count", len(urls)))
	}

	items := make([]map[string]any, len(classifications))
	for i, c := range classifications {
		items[i] = classificationItem(c)
	}
	return map[string]any{
		"classifications": items,
		"count":           len(items),
		"summary":         fmt.Sprintf("Classified %d websites", len(items)),
	}, nil
}

func classificationItem(c Classification) map[string]any {
	return map[string]any{"url": c.URL, "category": c.Category, "confidence": c.Confidence}
}

// remoteTool forwards a remote_<serverID>_<method> call to the pluggable
// RemoteExecutor. Instances are synthesized by Registry.Lookup.
type remoteTool struct {
	name     string
	serverID int
	method   string
	remote   RemoteExecutor
}

func (t *remoteTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        t.name,
		Description: fmt.Sprintf("Remote capability %q on server %d", t.method, t.serverID),
	}
}

func (t *remoteTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	result, err := t.remote.Execute(ctx, t.serverID, t.method, args)
	if err != nil {
		return nil, goerr.Wrap(err, "remote capability failed",
			goerr.V("server_id", t.serverID), goerr.V("method", t.method))
	}
	if result == nil {
		result = map[string]any{}
	}
	if _, ok := result["summary"]; !ok {
		result["summary"] = fmt.Sprintf("Remote capability %q completed", t.method)
	}
	return result, nil
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, _ := args[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
