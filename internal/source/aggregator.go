package source

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// ResolveFunc is called as each source settles, with its recorded
// status. Used by the pipeline to emit per-source progress events.
type ResolveFunc func(name, status string)

// Aggregator fans out one Fetch per configured source, bounded by a
// fixed worker count, and merges the results. Source failures degrade
// that source's status; they never fail collection.
type Aggregator struct {
	sources []Source
	timeout time.Duration
	workers int
	maxLogs int
	logger  log.Logger
}

const (
	defaultSourceTimeout = 10 * time.Second
	defaultWorkers       = 4
	defaultMaxLogs       = 200
)

// NewAggregator creates an aggregator over the given sources. Zero
// options fall back to defaults.
func NewAggregator(sources []Source, timeout time.Duration, workers, maxLogs int, logger log.Logger) *Aggregator {
	if timeout <= 0 {
		timeout = defaultSourceTimeout
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	if maxLogs <= 0 {
		maxLogs = defaultMaxLogs
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Aggregator{
		sources: sources,
		timeout: timeout,
		workers: workers,
		maxLogs: maxLogs,
		logger:  logger,
	}
}

// Sources returns the names of the configured sources.
func (a *Aggregator) Sources() []string {
	names := make([]string, 0, len(a.sources))
	for _, s := range a.sources {
		names = append(names, s.Name())
	}
	return names
}

type fetchOutcome struct {
	result *FetchResult
	status string
}

// Collect fetches from every source concurrently and merges the output.
// Cancellation of ctx is observed between dispatches and at each fetch
// completion: in-flight fetches run to their own timeout but their
// results are discarded, and sources not yet dispatched are skipped.
// Collect never returns an error; it always produces a ContextData with
// a CollectionStatus entry per configured source.
func (a *Aggregator) Collect(ctx context.Context, q Query, tr TimeRange, onResolve ResolveFunc) *ContextData {
	data := &ContextData{
		Logs:             []LogEntry{},
		Metrics:          []MetricSeries{},
		CollectionStatus: make(map[string]string, len(a.sources)),
	}

	outcomes := make([]fetchOutcome, len(a.sources))
	sem := make(chan struct{}, a.workers)
	var wg sync.WaitGroup

	for i, src := range a.sources {
		if ctx.Err() != nil {
			outcomes[i] = fetchOutcome{status: StatusSkipped}
			continue
		}
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcomes[i] = a.fetchOne(ctx, src, q, tr)
			if onResolve != nil {
				onResolve(src.Name(), outcomes[i].status)
			}
		}(i, src)
	}
	wg.Wait()

	for i, src := range a.sources {
		out := outcomes[i]
		data.CollectionStatus[src.Name()] = out.status

		// Cancellation observed after the fetch settled: record the
		// status but drop the payload.
		if out.result == nil || ctx.Err() != nil {
			continue
		}
		data.Logs = append(data.Logs, out.result.Logs...)
		data.Metrics = append(data.Metrics, out.result.Metrics...)
	}

	sort.SliceStable(data.Logs, func(i, j int) bool {
		return data.Logs[i].Timestamp.Before(data.Logs[j].Timestamp)
	})
	if len(data.Logs) > a.maxLogs {
		data.Logs = data.Logs[len(data.Logs)-a.maxLogs:]
	}

	a.logger.Info(ctx, "collection finished",
		"sources", len(a.sources),
		"logs", len(data.Logs),
		"metric_series", len(data.Metrics),
	)
	return data
}

func (a *Aggregator) fetchOne(ctx context.Context, src Source, q Query, tr TimeRange) fetchOutcome {
	fctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	result, err := src.Fetch(fctx, q, tr)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		a.logger.Info(ctx, "source fetch ok",
			"source", src.Name(),
			"elapsed", elapsed,
			"logs", len(result.Logs),
			"metric_series", len(result.Metrics),
		)
		return fetchOutcome{result: result, status: StatusOK}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(fctx.Err(), context.DeadlineExceeded):
		a.logger.Warn(ctx, "source fetch timed out", "source", src.Name(), "timeout", a.timeout)
		return fetchOutcome{status: StatusTimeout}
	case ctx.Err() != nil:
		return fetchOutcome{status: StatusSkipped}
	default:
		a.logger.Error(ctx, err, "source fetch failed", "source", src.Name())
		return fetchOutcome{status: StatusError(err.Error())}
	}
}
