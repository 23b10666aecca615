package aifetchly

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/robertzengcn/aiFetchly-sub000/internal"
)

// mockSearchEngine completes after a scripted number of status polls.
type mockSearchEngine struct {
	pollsLeft int
	results   []SearchResult
	failTask  bool
	submitErr error

	submitted []string
}

func (m *mockSearchEngine) Submit(_ context.Context, query string) (string, error) {
	if m.submitErr != nil {
		return "", m.submitErr
	}
	m.submitted = append(m.submitted, query)
	return "task-1", nil
}

func (m *mockSearchEngine) Status(_ context.Context, _ string) (TaskStatus, error) {
	if m.failTask {
		return TaskStatusError, nil
	}
	if m.pollsLeft > 0 {
		m.pollsLeft--
		return TaskStatusRunning, nil
	}
	return TaskStatusComplete, nil
}

func (m *mockSearchEngine) Fetch(_ context.Context, _ string, limit int) ([]SearchResult, error) {
	if limit < len(m.results) {
		return m.results[:limit], nil
	}
	return m.results, nil
}

type mockEmailExtractor struct {
	addrs []string
}

func (m *mockEmailExtractor) Submit(_ context.Context, _ []string) (string, error) {
	return "task-2", nil
}

func (m *mockEmailExtractor) Status(_ context.Context, _ string) (TaskStatus, error) {
	return TaskStatusComplete, nil
}

func (m *mockEmailExtractor) Fetch(_ context.Context, _ string) ([]string, error) {
	return m.addrs, nil
}

type panicTool struct{}

func (panicTool) Spec() ToolSpec {
	return ToolSpec{Name: "panic_tool", Description: "always panics"}
}

func (panicTool) Run(context.Context, map[string]any) (map[string]any, error) {
	panic("boom")
}

func fakeSearchResults(n int) []SearchResult {
	out := make([]SearchResult, n)
	for i := range out {
		out[i] = SearchResult{
			Title:   fmt.Sprintf("Result %d", i+1),
			URL:     fmt.Sprintf("https://example.com/%d", i+1),
			Snippet: "snippet",
		}
	}
	return out
}

func testLimiter() *RateLimiter {
	return NewRateLimiter(
		WithCategoryLimits(CategoryAnalysis, CategoryLimits{MaxConcurrent: 4, PerMinute: 10000}),
		WithCategoryLimits(CategoryExtraction, CategoryLimits{MaxConcurrent: 4, PerMinute: 10000}),
		WithCategoryLimits(CategoryDirectory, CategoryLimits{MaxConcurrent: 4, PerMinute: 10000}),
		WithCategoryLimits(CategoryDefault, CategoryLimits{MaxConcurrent: 4, PerMinute: 10000}),
	)
}

func newTestExecutor(t *testing.T, tools ...Tool) *ToolExecutor {
	t.Helper()
	registry, err := NewRegistry(tools)
	gt.NoError(t, err)
	return NewToolExecutor(registry,
		WithExecutorRateLimiter(testLimiter()),
		WithExecutorLogger(internal.TestLogger()),
	)
}

func TestExecutorUnknownTool(t *testing.T) {
	x := newTestExecutor(t)
	result := x.Execute(context.Background(), "no_such_tool", nil, "conv-1")

	gt.False(t, result.Success)
	gt.True(t, strings.Contains(result.Error, "no_such_tool"))
}

func TestExecutorArgValidation(t *testing.T) {
	t.Run("missing required param fails before the tool runs", func(t *testing.T) {
		engine := &mockSearchEngine{}
		x := newTestExecutor(t, NewGoogleSearchTool(engine))

		result := x.Execute(context.Background(), "scrape_urls_from_google", map[string]any{}, "conv-1")
		gt.False(t, result.Success)
		gt.Equal(t, len(engine.submitted), 0)
	})

	t.Run("out-of-range num_results is rejected by the schema", func(t *testing.T) {
		engine := &mockSearchEngine{}
		x := newTestExecutor(t, NewGoogleSearchTool(engine))

		result := x.Execute(context.Background(), "scrape_urls_from_google", map[string]any{
			"query":       "plumbers",
			"num_results": float64(0),
		}, "conv-1")
		gt.False(t, result.Success)
	})
}

func TestExecutorSearchTool(t *testing.T) {
	t.Run("polls to completion and honors the result limit", func(t *testing.T) {
		engine := &mockSearchEngine{pollsLeft: 2, results: fakeSearchResults(10)}
		tool := NewGoogleSearchTool(engine)
		tool.PollInterval = time.Millisecond
		x := newTestExecutor(t, tool)

		result := x.Execute(context.Background(), "scrape_urls_from_google", map[string]any{
			"query":       "plumbers in springfield",
			"num_results": float64(5),
		}, "conv-1")

		gt.True(t, result.Success)
		gt.Equal(t, result.Data["count"], 5)
		gt.Equal(t, result.Summary, `Found 5 search results for "plumbers in springfield"`)
	})

	t.Run("task error state is a failed result, not a hang", func(t *testing.T) {
		tool := NewGoogleSearchTool(&mockSearchEngine{failTask: true})
		tool.PollInterval = time.Millisecond
		x := newTestExecutor(t, tool)

		result := x.Execute(context.Background(), "scrape_urls_from_google", map[string]any{"query": "q"}, "conv-1")
		gt.False(t, result.Success)
		gt.True(t, result.Error != "")
	})

	t.Run("poll ceiling bounds a task that never completes", func(t *testing.T) {
		tool := NewGoogleSearchTool(&mockSearchEngine{pollsLeft: 1 << 30})
		tool.PollInterval = time.Millisecond
		tool.PollCeiling = 5 * time.Millisecond
		x := newTestExecutor(t, tool)

		result := x.Execute(context.Background(), "scrape_urls_from_google", map[string]any{"query": "q"}, "conv-1")
		gt.False(t, result.Success)
	})
}

func TestExecutorEmailTool(t *testing.T) {
	t.Run("deduplicates case-insensitively keeping the first form", func(t *testing.T) {
		extractor := &mockEmailExtractor{addrs: []string{
			"Sales@Example.com", "sales@example.com", "info@example.com", " ", "SALES@EXAMPLE.COM",
		}}
		tool := NewEmailExtractTool(extractor)
		tool.PollInterval = time.Millisecond
		x := newTestExecutor(t, tool)

		result := x.Execute(context.Background(), "extract_emails_from_urls", map[string]any{
			"urls": []any{"https://example.com"},
		}, "conv-1")

		gt.True(t, result.Success)
		emails, ok := result.Data["emails"].([]string)
		gt.True(t, ok)
		gt.Equal(t, emails, []string{"Sales@Example.com", "info@example.com"})
	})
}

func TestExecutorPanicRecovery(t *testing.T) {
	x := newTestExecutor(t, panicTool{})

	result := x.Execute(context.Background(), "panic_tool", nil, "conv-1")
	gt.False(t, result.Success)
	gt.True(t, strings.Contains(result.Error, "panicked"))
}

func TestExecutorSlotRelease(t *testing.T) {
	t.Run("slot is freed after a failed execution", func(t *testing.T) {
		limiter := NewRateLimiter(WithCategoryLimits(CategoryDefault, CategoryLimits{
			MaxConcurrent: 1,
			PerMinute:     10000,
		}))
		registry, err := NewRegistry([]Tool{panicTool{}})
		gt.NoError(t, err)
		x := NewToolExecutor(registry, WithExecutorRateLimiter(limiter))

		for i := 0; i < 3; i++ {
			result := x.Execute(context.Background(), "panic_tool", nil, "conv-1")
			gt.False(t, result.Success)
		}
	})
}

func TestExecutorRemoteTool(t *testing.T) {
	remote := remoteExecutorFunc(func(_ context.Context, serverID int, method string, params map[string]any) (map[string]any, error) {
		return map[string]any{"server": serverID, "method": method, "echo": params["x"]}, nil
	})
	registry, err := NewRegistry(nil, WithRemoteExecutor(remote))
	gt.NoError(t, err)
	x := NewToolExecutor(registry, WithExecutorRateLimiter(testLimiter()))

	result := x.Execute(context.Background(), "remote_7_list_leads", map[string]any{"x": "y"}, "conv-1")
	gt.True(t, result.Success)
	gt.Equal(t, result.Data["server"], 7)
	gt.Equal(t, result.Data["method"], "list_leads")
	gt.Equal(t, result.Summary, `Remote capability "list_leads" completed`)
}

type remoteExecutorFunc func(ctx context.Context, serverID int, method string, params map[string]any) (map[string]any, error)

func (f remoteExecutorFunc) Execute(ctx context.Context, serverID int, method string, params map[string]any) (map[string]any, error) {
	return f(ctx, serverID, method, params)
}
