// Package batch implements the Batch Executor (C5): bounded-concurrency
// scheduling of many pipeline requests with per-item retry, optional
// priority ordering, and continueOnError semantics. Grounded on the
// teacher's connection-pool worker-style concurrency
// (pkg/transport/transport.go's hostPool condition-variable gating),
// generalized from connections to arbitrary scheduled items.
package batch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/harborlink/netcore/pkg/errors"
	"github.com/harborlink/netcore/pkg/pipeline"
)

// Status is the terminal outcome of one BatchItem.
type Status int

const (
	StatusSucceeded Status = iota
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Item is a BatchItem (§3): a request owned by the executor from add to
// complete/cancel.
type Item struct {
	ID          string
	Request     *pipeline.Request
	Priority    int // higher runs first when PriorityQueue is enabled
	RetryPolicy *pipeline.RetryPolicy
}

// Result is one item's outcome, always present at Result[i] for
// submission-order index i regardless of the order items actually ran in.
type Result struct {
	ID       string
	Status   Status
	Response *pipeline.RawResponse
	Err      error
	Elapsed  time.Duration
}

// Stats is the §4.5 aggregate statistics contract.
type Stats struct {
	TotalDuration  time.Duration
	Successes      int
	Failures       int
	AverageLatency time.Duration
}

// Progress is emitted after every item completion (§4.5); events are
// ordered and monotone in Completed.
type Progress struct {
	Total      int
	Completed  int
	Failed     int
	InProgress int
	ETA        time.Duration
}

// Executor runs a batch of Items against a Pipeline under bounded
// concurrency.
type Executor struct {
	Pipeline        *pipeline.Pipeline
	MaxConcurrent   int  // default 5
	PriorityQueue   bool // stable-sort descending priority when true
	ContinueOnError bool // default true; false cancels the batch on first failure
	DefaultRetry    *pipeline.RetryPolicy

	OnProgress func(Progress)
}

// New builds an Executor with §4.5 defaults (concurrency 5,
// continueOnError true).
func New(p *pipeline.Pipeline) *Executor {
	return &Executor{Pipeline: p, MaxConcurrent: 5, ContinueOnError: true}
}

type indexedItem struct {
	idx  int
	item Item
}

// Run executes items to completion, returning results in submission
// order, aggregate stats, and a combined error (nil if every item
// succeeded).
func (e *Executor) Run(ctx context.Context, items []Item) ([]Result, Stats, error) {
	start := time.Now()
	total := len(items)
	results := make([]Result, total)

	ordered := make([]indexedItem, total)
	for i, it := range items {
		ordered[i] = indexedItem{idx: i, item: it}
	}
	if e.PriorityQueue {
		sort.SliceStable(ordered, func(a, b int) bool {
			return ordered[a].item.Priority > ordered[b].item.Priority
		})
	}

	maxConcurrent := e.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

	var mu sync.Mutex
	completed := 0
	failed := 0
	inProgress := 0
	var elapsedSum time.Duration
	aborted := false

	for _, entry := range ordered {
		select {
		case <-runCtx.Done():
			mu.Lock()
			results[entry.idx] = Result{ID: entry.item.ID, Status: StatusCancelled, Err: errors.NewCancelled("batch_item")}
			completed++
			e.reportProgress(total, completed, failed, inProgress, elapsedSum)
			mu.Unlock()
			continue
		default:
		}

		mu.Lock()
		if aborted {
			results[entry.idx] = Result{ID: entry.item.ID, Status: StatusCancelled, Err: errors.NewCancelled("batch_item")}
			completed++
			e.reportProgress(total, completed, failed, inProgress, elapsedSum)
			mu.Unlock()
			continue
		}
		mu.Unlock()

		sem <- struct{}{}
		wg.Add(1)
		mu.Lock()
		inProgress++
		mu.Unlock()

		go func(entry indexedItem) {
			defer wg.Done()
			defer func() { <-sem }()

			itemStart := time.Now()
			res := e.runOne(runCtx, entry.item)
			res.Elapsed = time.Since(itemStart)

			mu.Lock()
			results[entry.idx] = res
			completed++
			inProgress--
			elapsedSum += res.Elapsed
			if res.Status == StatusFailed {
				failed++
				if !e.ContinueOnError {
					aborted = true
					cancel()
				}
			}
			e.reportProgress(total, completed, failed, inProgress, elapsedSum)
			mu.Unlock()
		}(entry)
	}

	wg.Wait()

	stats := Stats{TotalDuration: time.Since(start)}
	var combined *multierror.Error
	for _, r := range results {
		switch r.Status {
		case StatusSucceeded:
			stats.Successes++
		case StatusFailed:
			stats.Failures++
			if r.Err != nil {
				combined = multierror.Append(combined, r.Err)
			}
		}
	}
	if completed := stats.Successes + stats.Failures; completed > 0 {
		stats.AverageLatency = elapsedSum / time.Duration(completed)
	}

	var err error
	if combined != nil {
		err = combined.ErrorOrNil()
	}
	return results, stats, err
}

// runOne executes a single item against the pipeline with its own retry
// policy (item policy if present, else the executor default), mapping a
// cancelled context to StatusCancelled rather than StatusFailed.
func (e *Executor) runOne(ctx context.Context, item Item) Result {
	req := *item.Request
	if item.RetryPolicy != nil {
		req.RetryPolicy = item.RetryPolicy
	} else {
		req.RetryPolicy = e.DefaultRetry
	}

	resp, err := e.Pipeline.ExecuteRaw(ctx, &req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{ID: item.ID, Status: StatusCancelled, Err: errors.NewCancelled("batch_item")}
		}
		return Result{ID: item.ID, Status: StatusFailed, Err: err}
	}
	return Result{ID: item.ID, Status: StatusSucceeded, Response: resp}
}

// reportProgress implements §4.5's eta = avgPerItemElapsed · remaining,
// where avgPerItemElapsed is the running average over items completed so
// far (including cancelled ones, which complete near-instantly and pull
// the average down as a batch winds down after an abort).
func (e *Executor) reportProgress(total, completed, failed, inProgress int, elapsedSum time.Duration) {
	if e.OnProgress == nil {
		return
	}
	remaining := total - completed
	var eta time.Duration
	if completed > 0 && remaining > 0 {
		avg := elapsedSum / time.Duration(completed)
		eta = avg * time.Duration(remaining)
	}
	e.OnProgress(Progress{Total: total, Completed: completed, Failed: failed, InProgress: inProgress, ETA: eta})
}
