package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDrainer struct {
	mu      sync.Mutex
	drains  int
	cutoffs []time.Time
}

func (f *fakeDrainer) Drain(ctx context.Context) DrainReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drains++
	return DrainReport{}
}

func (f *fakeDrainer) RetryFailed(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return 1, nil
}

func (f *fakeDrainer) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drains, len(f.cutoffs)
}

func TestDefaultSyncProcessorConfig(t *testing.T) {
	config := DefaultSyncProcessorConfig()
	assert.Equal(t, 30*time.Second, config.PollInterval)
	assert.Equal(t, time.Hour, config.RequeueInterval)
	assert.Zero(t, config.RequeueAge)
}

func TestNewSyncProcessorFillsDefaults(t *testing.T) {
	p := NewSyncProcessor(&fakeDrainer{}, SyncProcessorConfig{})
	assert.Equal(t, DefaultSyncProcessorConfig().PollInterval, p.config.PollInterval)
	assert.Equal(t, DefaultSyncProcessorConfig().RequeueInterval, p.config.RequeueInterval)
	assert.False(t, p.IsRunning())
}

func TestSyncProcessorDrainsOnStartAndTick(t *testing.T) {
	drainer := &fakeDrainer{}
	p := NewSyncProcessor(drainer, SyncProcessorConfig{PollInterval: 10 * time.Millisecond})

	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.IsRunning())

	assert.Eventually(t, func() bool {
		drains, _ := drainer.counts()
		return drains >= 3
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop(context.Background()))
	assert.False(t, p.IsRunning())
}

func TestSyncProcessorStartTwice(t *testing.T) {
	p := NewSyncProcessor(&fakeDrainer{}, DefaultSyncProcessorConfig())
	ctx := context.Background()

	require.NoError(t, p.Start(ctx))
	defer func() { _ = p.Stop(ctx) }()

	assert.ErrorIs(t, p.Start(ctx), ErrProcessorRunning)
}

func TestSyncProcessorStopNotRunning(t *testing.T) {
	p := NewSyncProcessor(&fakeDrainer{}, DefaultSyncProcessorConfig())
	assert.NoError(t, p.Stop(context.Background()))
}

func TestSyncProcessorStopsWithContext(t *testing.T) {
	p := NewSyncProcessor(&fakeDrainer{}, DefaultSyncProcessorConfig())
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, p.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool { return !p.IsRunning() }, 2*time.Second, 5*time.Millisecond)
}

func TestSyncProcessorRestartsAfterContextEnds(t *testing.T) {
	drainer := &fakeDrainer{}
	p := NewSyncProcessor(drainer, SyncProcessorConfig{PollInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, p.Start(ctx))
	cancel()
	require.Eventually(t, func() bool { return !p.IsRunning() }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.IsRunning())
	before, _ := drainer.counts()
	assert.Eventually(t, func() bool {
		drains, _ := drainer.counts()
		return drains > before
	}, 2*time.Second, 5*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, p.Stop(stopCtx))
	assert.False(t, p.IsRunning())
}

func TestSyncProcessorRequeuesParkedEntries(t *testing.T) {
	drainer := &fakeDrainer{}
	p := NewSyncProcessor(drainer, SyncProcessorConfig{
		PollInterval:    time.Hour,
		RequeueInterval: 10 * time.Millisecond,
		RequeueAge:      time.Hour,
	})
	fixed := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	require.NoError(t, p.Start(context.Background()))
	defer func() { _ = p.Stop(context.Background()) }()

	assert.Eventually(t, func() bool {
		_, requeues := drainer.counts()
		return requeues >= 1
	}, 2*time.Second, 5*time.Millisecond)

	drainer.mu.Lock()
	defer drainer.mu.Unlock()
	assert.Equal(t, fixed.Add(-time.Hour), drainer.cutoffs[0])
}

func TestSyncProcessorSkipsRequeueWhenDisabled(t *testing.T) {
	drainer := &fakeDrainer{}
	p := NewSyncProcessor(drainer, SyncProcessorConfig{
		PollInterval:    time.Hour,
		RequeueInterval: 5 * time.Millisecond,
	})

	require.NoError(t, p.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))

	drains, requeues := drainer.counts()
	assert.Equal(t, 1, drains)
	assert.Zero(t, requeues)
}
