package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/musiccleanup/internal/resourceguard"
	"github.com/tphakala/musiccleanup/internal/xerrors"
)

func transientErr() error {
	return xerrors.Newf("temporary glitch").Severity(xerrors.SeverityTransient).Build()
}

func permanentErr() error {
	return xerrors.Newf("bad input").Severity(xerrors.SeverityPermanent).Build()
}

func itemsOf(n int) <-chan Item {
	ch := make(chan Item, n)
	for i := 0; i < n; i++ {
		ch <- Item{Path: "file"}
	}
	close(ch)
	return ch
}

func TestRunSucceedsWhenAllItemsProcessCleanly(t *testing.T) {
	exec := NewExecutor(10, nil)
	var processed atomic.Int64
	stage := Stage{
		Name:    "ok",
		Workers: 4,
		Process: func(ctx context.Context, item Item) error {
			processed.Add(1)
			return nil
		},
	}
	result := exec.Run(context.Background(), stage, itemsOf(20))
	assert.Equal(t, 20, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
	assert.False(t, result.Aborted)
	assert.EqualValues(t, 20, processed.Load())
}

func TestRunRetriesTransientErrorsUntilSuccess(t *testing.T) {
	exec := NewExecutor(10, nil)
	var attempts atomic.Int64
	stage := Stage{
		Name:    "flaky",
		Workers: 1,
		RetryConfig: RetryConfig{MaxRetries: 3, InitialDelay: 0, MaxDelay: 0, Multiplier: 1},
		Process: func(ctx context.Context, item Item) error {
			if attempts.Add(1) < 3 {
				return transientErr()
			}
			return nil
		},
	}
	result := exec.Run(context.Background(), stage, itemsOf(1))
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
	assert.EqualValues(t, 3, attempts.Load())
}

func TestRunRecordsPermanentErrorsWithoutRetry(t *testing.T) {
	exec := NewExecutor(10, nil)
	var attempts atomic.Int64
	stage := Stage{
		Name:    "bad-input",
		Workers: 1,
		Process: func(ctx context.Context, item Item) error {
			attempts.Add(1)
			return permanentErr()
		},
	}
	result := exec.Run(context.Background(), stage, itemsOf(1))
	assert.Equal(t, 1, result.Failed)
	assert.EqualValues(t, 1, attempts.Load())
}

func TestRunAbortsWhenErrorRatioExceedsThreshold(t *testing.T) {
	exec := NewExecutor(10, nil)
	stage := Stage{
		Name:    "mostly-failing",
		Workers: 1,
		Process: func(ctx context.Context, item Item) error {
			return permanentErr()
		},
	}
	result := exec.Run(context.Background(), stage, itemsOf(20))
	assert.True(t, result.Aborted)
	assert.Less(t, result.Failed+result.Succeeded, 20)
}

func TestRunHaltsImmediatelyOnFatalError(t *testing.T) {
	exec := NewExecutor(10, nil)
	stage := Stage{
		Name:    "fatal",
		Workers: 1,
		Process: func(ctx context.Context, item Item) error {
			return xerrors.Newf("disk full").Severity(xerrors.SeverityFatal).Build()
		},
	}
	result := exec.Run(context.Background(), stage, itemsOf(5))
	assert.True(t, result.Aborted)
}

func TestEffectiveWorkersUsesRequestedCountAtNormalMemoryLevel(t *testing.T) {
	mon := resourceguard.NewMemoryMonitor(512, 1024, time.Hour)
	exec := NewExecutor(10, mon)

	require.Equal(t, 8, exec.effectiveWorkers(8))
}

func TestEffectiveWorkersFloorsAtOne(t *testing.T) {
	exec := NewExecutor(10, nil)
	require.Equal(t, 1, exec.effectiveWorkers(0))
}
