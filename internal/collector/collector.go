package collector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sharpline/pipeline/internal/domain"
)

// Params carries per-call collection parameters. The orchestrator fills it
// from the source configuration.
type Params struct {
	Date time.Time
	Book string // optional provider-specific book/view selector
}

// CollectionResult is the uniform outcome of one collection attempt.
type CollectionResult struct {
	Success        bool
	Data           []domain.RawRecord
	Source         string
	Timestamp      time.Time
	Errors         []string
	ResponseTimeMS float64
	RequestCount   int
	DegradedMode   bool
}

// DegradedResult returns the empty-but-successful shape served while a
// source's circuit is open and no fallback exists.
func DegradedResult(source string, now time.Time) *CollectionResult {
	return &CollectionResult{
		Success:      true,
		Data:         nil,
		Source:       source,
		Timestamp:    domain.NormalizeInstant(now),
		DegradedMode: true,
	}
}

// Collector is the uniform per-provider interface.
type Collector interface {
	Name() string
	TestConnection(ctx context.Context) bool
	Collect(ctx context.Context, params Params) (*CollectionResult, error)
	Cleanup()
}

// httpFetcher is the shared HTTP layer. HTTP 200 is the only success; every
// other status becomes a categorized error.
type httpFetcher struct {
	client    *http.Client
	source    string
	userAgent string
	referer   string
	logger    *slog.Logger
}

func newHTTPFetcher(source, userAgent, referer string, timeout time.Duration, logger *slog.Logger) *httpFetcher {
	return &httpFetcher{
		client:    &http.Client{Timeout: timeout},
		source:    source,
		userAgent: userAgent,
		referer:   referer,
		logger:    logger,
	}
}

func (f *httpFetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewFatalError(f.source, "build request", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if f.referer != "" {
		req.Header.Set("Referer", f.referer)
		req.Header.Set("Origin", f.referer)
	}
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, domain.NewTransientError(f.source, "request failed", err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)

	f.logger.Debug("provider request", "source", f.source, "url", url, "status", resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusOK:
		if readErr != nil {
			return nil, domain.NewTransientError(f.source, "read body", readErr)
		}
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.NewThrottledError(f.source, "rate limit exceeded (429)")
	case resp.StatusCode >= 500:
		return nil, domain.NewTransientError(f.source,
			fmt.Sprintf("server error %d", resp.StatusCode), nil)
	default:
		return nil, domain.NewFatalError(f.source,
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
}

// probe checks connectivity for TestConnection implementations.
func (f *httpFetcher) probe(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := f.get(ctx, url)
	return err == nil
}

// resultTimer stamps results uniformly.
type resultTimer struct {
	start time.Time
	now   func() time.Time
}

func startTimer(now func() time.Time) *resultTimer {
	return &resultTimer{start: now(), now: now}
}

func (t *resultTimer) finish(res *CollectionResult) *CollectionResult {
	res.Timestamp = domain.NormalizeInstant(t.now())
	res.ResponseTimeMS = float64(t.now().Sub(t.start).Microseconds()) / 1000
	return res
}
