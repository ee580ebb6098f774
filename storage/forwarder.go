package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"tasklog-api/domain"
)

const (
	defaultForwarderWorkers = 4
	forwarderWorkersPerCPU  = 2
	maxForwarderWorkers     = 32

	defaultForwarderBuffer = 1024
	defaultSendTimeout     = 30 * time.Second
	defaultHandoffTimeout  = 15 * time.Millisecond
)

type auditSender interface {
	Send(ctx context.Context, entry domain.TaskLog) error
}

// ForwarderConfig tunes the audit forwarder. Zero values select defaults.
type ForwarderConfig struct {
	Workers        int
	Buffer         int
	SendTimeout    time.Duration
	HandoffTimeout time.Duration
}

func forwarderWorkersForCPU(cpu int) int {
	if cpu < 1 {
		return defaultForwarderWorkers
	}
	n := cpu * forwarderWorkersPerCPU
	if n > maxForwarderWorkers {
		return maxForwarderWorkers
	}
	return n
}

func (c ForwarderConfig) withDefaults(cpu int) ForwarderConfig {
	if c.Workers <= 0 {
		c.Workers = forwarderWorkersForCPU(cpu)
	}
	if c.Buffer <= 0 {
		c.Buffer = defaultForwarderBuffer
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.HandoffTimeout < 0 {
		c.HandoffTimeout = 0
	} else if c.HandoffTimeout == 0 {
		c.HandoffTimeout = defaultHandoffTimeout
	}
	return c
}

// AuditForwarder ships committed audit entries to a sender on a fixed pool
// of workers. Delivery is best effort; the task_logs table stays the source
// of truth.
type AuditForwarder struct {
	cfg    ForwarderConfig
	sender auditSender
	logger *log.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan domain.TaskLog
	wg     sync.WaitGroup

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

var _ domain.AuditSink = (*AuditForwarder)(nil)

// NewAuditForwarder starts the worker pool.
func NewAuditForwarder(sender auditSender, cfg ForwarderConfig, cpu int, logger *log.Logger) *AuditForwarder {
	if sender == nil {
		panic("storage.NewAuditForwarder: sender is nil")
	}
	if logger == nil {
		panic("storage.NewAuditForwarder: logger is nil")
	}
	cfg = cfg.withDefaults(cpu)
	f := &AuditForwarder{
		cfg:    cfg,
		sender: sender,
		logger: logger,
		jobs:   make(chan domain.TaskLog, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		f.wg.Add(1)
		go f.worker(i)
	}
	logger.Infof("audit forwarder started, workers: %d, buffer: %d, timeout: %v, handoff: %v",
		cfg.Workers, cfg.Buffer, cfg.SendTimeout, cfg.HandoffTimeout)
	return f
}

func (f *AuditForwarder) worker(id int) {
	defer f.wg.Done()
	for entry := range f.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), f.cfg.SendTimeout)
		err := f.sender.Send(ctx, entry)
		cancel()

		if err != nil {
			f.failed.Add(1)
			f.logger.WithError(err).WithFields(log.Fields{
				"log":    entry.ID,
				"action": entry.Action,
				"task":   entry.EntityID,
				"worker": id,
			}).Error("audit forward failed")
			continue
		}
		f.sent.Add(1)
	}
}

// Publish hands entry to the pool. It waits at most the hand-off timeout
// for buffer space and reports whether the entry was accepted.
func (f *AuditForwarder) Publish(entry domain.TaskLog) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		f.dropped.Add(1)
		return false
	}

	select {
	case f.jobs <- entry:
		return true
	default:
	}

	if f.cfg.HandoffTimeout > 0 {
		timer := time.NewTimer(f.cfg.HandoffTimeout)
		defer timer.Stop()
		select {
		case f.jobs <- entry:
			return true
		case <-timer.C:
		}
	}
	f.dropped.Add(1)
	return false
}

// Close stops accepting entries and waits for queued ones to be sent or for
// ctx to expire.
func (f *AuditForwarder) Close(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.jobs)
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(errors.New("audit forwarder did not drain"), ctx.Err())
	}
	f.logger.WithFields(log.Fields{
		"sent":    f.sent.Load(),
		"failed":  f.failed.Load(),
		"dropped": f.dropped.Load(),
	}).Info("audit forwarder stopped")
	return nil
}
