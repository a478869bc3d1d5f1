package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"finsync/internal/log"
)

var ErrProcessorRunning = errors.New("sync processor is already running")

// SyncProcessorConfig holds configuration for the background drain loop
type SyncProcessorConfig struct {
	// PollInterval is how often the outbox is drained (default: 30s)
	PollInterval time.Duration

	// RequeueInterval is how often parked entries are considered for retry (default: 1h)
	RequeueInterval time.Duration

	// RequeueAge is how long an entry must have been parked before it is
	// retried. Zero disables automatic requeueing.
	RequeueAge time.Duration
}

// DefaultSyncProcessorConfig returns sensible defaults
func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		PollInterval:    30 * time.Second,
		RequeueInterval: 1 * time.Hour,
	}
}

// Drainer is the part of the coordinator the processor drives.
type Drainer interface {
	Drain(ctx context.Context) DrainReport
	RetryFailed(ctx context.Context, cutoff time.Time) (int64, error)
}

// SyncProcessor drains the outbox periodically so queued writes reach the
// remote even when no foreground operation happens.
type SyncProcessor struct {
	drainer Drainer
	config  SyncProcessorConfig
	logger  *log.Logger
	now     func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSyncProcessor(drainer Drainer, config SyncProcessorConfig) *SyncProcessor {
	defaults := DefaultSyncProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.RequeueInterval <= 0 {
		config.RequeueInterval = defaults.RequeueInterval
	}
	return &SyncProcessor{
		drainer: drainer,
		config:  config,
		logger:  log.WithComponent(log.ComponentProcessor),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrProcessorRunning
	}
	stopCh, doneCh := make(chan struct{}), make(chan struct{})
	p.running = true
	p.stopCh = stopCh
	p.doneCh = doneCh
	p.mu.Unlock()

	go p.runLoop(ctx, stopCh, doneCh)

	p.logger.InfoContext(ctx, "Sync processor started",
		"poll_interval", p.config.PollInterval,
		"requeue_age", p.config.RequeueAge)
	return nil
}

// Stop signals the loop and waits for the current pass to finish.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	select {
	case <-stopCh:
	default:
		close(stopCh)
	}

	select {
	case <-doneCh:
		p.logger.InfoContext(ctx, "Sync processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}
	return nil
}

func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SyncProcessor) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer func() {
		close(doneCh)
		p.mu.Lock()
		if p.doneCh == doneCh {
			p.running = false
		}
		p.mu.Unlock()
	}()

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	requeueTicker := time.NewTicker(p.config.RequeueInterval)
	defer requeueTicker.Stop()

	// Drain immediately on startup
	p.drain(ctx)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.drain(ctx)
		case <-requeueTicker.C:
			p.requeue(ctx)
		}
	}
}

func (p *SyncProcessor) drain(ctx context.Context) {
	report := p.drainer.Drain(ctx)
	if report.Stopped {
		p.logger.DebugContext(ctx, "Drain stopped early, retrying next tick", "remaining", report.Remaining())
	}
}

func (p *SyncProcessor) requeue(ctx context.Context) {
	if p.config.RequeueAge <= 0 {
		return
	}
	n, err := p.drainer.RetryFailed(ctx, p.now().Add(-p.config.RequeueAge))
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to requeue parked entries", log.FieldError, err)
		return
	}
	if n > 0 {
		p.logger.InfoContext(ctx, "Requeued parked entries", log.FieldCount, n)
	}
}
