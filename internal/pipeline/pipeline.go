// Package pipeline implements the PipelineExecutor of spec.md §4.11: a
// sequence of stages joined by bounded channels, with worker-pool width per
// stage, retry/backoff for transient errors, and a per-batch error-ratio
// abort threshold.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/musiccleanup/internal/logging"
	"github.com/tphakala/musiccleanup/internal/resourceguard"
	"github.com/tphakala/musiccleanup/internal/xerrors"
	"golang.org/x/sync/errgroup"
)

// RetryConfig mirrors the teacher's jobqueue.RetryConfig shape, scoped to
// the PipelineExecutor's transient-error retries.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig allows up to 3 retries after the first attempt, so a
// transient failure is tried at most 4 times in all.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:   3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
	Multiplier:   2.0,
}

// Item is one unit of work flowing through a Stage.
type Item struct {
	Path string
	Data any
}

// Stage processes one Item, returning an error classified via xerrors
// severity: transient errors are retried, permanent errors are recorded and
// the item is dropped, fatal errors abort the whole stage.
type Stage struct {
	Name        string
	Workers     int
	Process     func(ctx context.Context, item Item) error
	RetryConfig RetryConfig
}

// BatchResult summarizes one stage's run over a batch of items.
type BatchResult struct {
	Succeeded int
	Failed    int
	Aborted   bool
}

// maxErrorRatio is the per-batch failure threshold beyond which the stage
// aborts and requests a graceful stop, per spec.md §4.11.
const maxErrorRatio = 0.10

// minSamplesForAbort holds the error-ratio abort off until enough items have
// been seen that an early run of failures isn't mistaken for a systemic one.
// A streaming source has no known item count up front, so the ratio is
// computed against items processed so far rather than a fixed batch total.
const minSamplesForAbort = 10

// Executor runs stages with bounded concurrency and memory-aware
// backpressure, following the teacher's preference for errgroup-coordinated
// worker pools over hand-rolled WaitGroups.
type Executor struct {
	queueDepth int64
	memMonitor *resourceguard.MemoryMonitor
}

// NewExecutor builds an Executor. queueDepth (default 100) is stored on the
// Executor but Run does not read it: Run consumes the caller's channel, whose
// capacity sets the queue depth. When memMonitor is non-nil, Run starts half
// the requested workers if memory is at SoftLimit when Run begins and a
// single worker if it is at HardLimit; the worker count does not change
// while Run is in progress.
func NewExecutor(queueDepth int, memMonitor *resourceguard.MemoryMonitor) *Executor {
	if queueDepth <= 0 {
		queueDepth = 100
	}
	return &Executor{queueDepth: int64(queueDepth), memMonitor: memMonitor}
}

// effectiveWorkers scales the requested worker count down under memory
// pressure rather than failing the stage outright.
func (e *Executor) effectiveWorkers(requested int) int {
	if requested <= 0 {
		requested = 1
	}
	if e.memMonitor == nil {
		return requested
	}
	switch e.memMonitor.Level() {
	case resourceguard.MemoryHardLimit:
		return 1
	case resourceguard.MemorySoftLimit:
		if half := requested / 2; half > 0 {
			return half
		}
		return 1
	default:
		return requested
	}
}

// Run pulls items from in with a fixed pool of worker goroutines, never
// holding more than one in-flight item per worker at a time. It stops early
// if the running error ratio exceeds 10% once minSamplesForAbort items have
// been processed, in which case BatchResult.Aborted is true. Run returns once
// in is closed and drained or the batch aborts; the caller is responsible for
// closing in from the producing side.
func (e *Executor) Run(ctx context.Context, stage Stage, in <-chan Item) BatchResult {
	log := logging.ForComponent("pipeline")
	workers := e.effectiveWorkers(stage.Workers)

	group, gctx := errgroup.WithContext(ctx)

	var succeeded, failed atomic.Int64
	aborting := make(chan struct{})
	var abortOnce sync.Once
	var aborted atomic.Bool

	worker := func() error {
		for {
			select {
			case <-aborting:
				return nil
			default:
			}
			select {
			case <-gctx.Done():
				return nil
			case <-aborting:
				return nil
			case item, ok := <-in:
				if !ok {
					return nil
				}

				err := e.runWithRetry(gctx, stage, item, log)
				if err != nil {
					severity := xerrors.ClassifyErr(err)
					n := failed.Add(1)
					if severity == xerrors.SeverityFatal {
						return err
					}
					processed := n + succeeded.Load()
					if processed >= minSamplesForAbort && float64(n)/float64(processed) > maxErrorRatio {
						abortOnce.Do(func() {
							aborted.Store(true)
							close(aborting)
						})
					}
					continue
				}
				succeeded.Add(1)
			}
		}
	}

	for i := 0; i < workers; i++ {
		group.Go(worker)
	}

	err := group.Wait()
	return BatchResult{
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
		Aborted:   aborted.Load() || err != nil,
	}
}

// runWithRetry executes stage.Process, retrying transient failures with
// exponential backoff up to MaxRetries times after the first attempt.
func (e *Executor) runWithRetry(ctx context.Context, stage Stage, item Item, log *slog.Logger) error {
	cfg := stage.RetryConfig
	if cfg.MaxRetries == 0 && cfg.InitialDelay == 0 {
		cfg = DefaultRetryConfig
	}

	delay := cfg.InitialDelay
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = stage.Process(ctx, item)
		if lastErr == nil {
			return nil
		}
		if xerrors.ClassifyErr(lastErr) != xerrors.SeverityTransient {
			return lastErr
		}
		if attempt == cfg.MaxRetries {
			break
		}
		log.Warn("transient error, retrying", "stage", stage.Name, "path", item.Path, "attempt", attempt+1, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return lastErr
}
