package aifetchly

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// TaskStatus is the state of an asynchronous task on a tool collaborator.
type TaskStatus string

const (
	TaskStatusPending  TaskStatus = "pending"
	TaskStatusRunning  TaskStatus = "running"
	TaskStatusComplete TaskStatus = "complete"
	TaskStatusError    TaskStatus = "error"
)

// SearchResult is one normalized search-engine result.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// SearchEngine is the collaborator behind the search-engine tool. It follows
// the shared submit/poll/fetch shape: Submit returns a task ID, Status is
// polled until terminal, Fetch retrieves up to limit results.
type SearchEngine interface {
	Submit(ctx context.Context, query string) (string, error)
	Status(ctx context.Context, taskID string) (TaskStatus, error)
	Fetch(ctx context.Context, taskID string, limit int) ([]SearchResult, error)
}

// DirectoryQuery is a directory-search request.
type DirectoryQuery struct {
	Keyword  string
	Location string
	MaxPages int
}

// DirectoryEntry is one normalized directory listing.
type DirectoryEntry struct {
	Name    string
	Phone   string
	Address string
	Website string
}

// DirectorySearcher is the collaborator behind the yellow-pages tool.
type DirectorySearcher interface {
	Submit(ctx context.Context, query DirectoryQuery) (string, error)
	Status(ctx context.Context, taskID string) (TaskStatus, error)
	Fetch(ctx context.Context, taskID string) ([]DirectoryEntry, error)
}

// EmailExtractor is the collaborator behind the email-extraction tool.
type EmailExtractor interface {
	Submit(ctx context.Context, urls []string) (string, error)
	Status(ctx context.Context, taskID string) (TaskStatus, error)
	Fetch(ctx context.Context, taskID string) ([]string, error)
}

// Classification is the category assigned to one website.
type Classification struct {
	URL        string
	Category   string
	Confidence float64
}

// WebsiteClassifier is the collaborator behind the website-classification
// tool. Batch and direct classification are both supported.
type WebsiteClassifier interface {
	Classify(ctx context.Context, url string) (Classification, error)
	ClassifyBatch(ctx context.Context, urls []string) ([]Classification, error)
}

// RemoteExecutor executes dynamically-addressed remote capabilities. The
// server ID is the numeric component of a remote_<serverID>_<method> tool name.
type RemoteExecutor interface {
	Execute(ctx context.Context, serverID int, method string, params map[string]any) (map[string]any, error)
}

// pollTask polls status at a fixed interval until a terminal state. The
// ceiling bounds worst-case latency: exceeding it is a failure, never
// still-pending. Status is checked once before the first sleep.
func pollTask(ctx context.Context, interval, ceiling time.Duration, status func(ctx context.Context) (TaskStatus, error)) error {
	deadline := time.Now().Add(ceiling)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := status(ctx)
		if err != nil {
			return goerr.Wrap(err, "task status check failed")
		}
		switch st {
		case TaskStatusComplete:
			return nil
		case TaskStatusError:
			return goerr.Wrap(ErrTaskFailed, "task entered error state")
		}

		if time.Now().After(deadline) {
			return goerr.Wrap(ErrPollTimeout, "task did not finish in time", goerr.V("ceiling", ceiling))
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
