/*
scheduler.go - Automated processing of scheduled operations

PURPOSE:
  Operations may be inserted with a future timestamp (a rate change next
  month, a freeze starting tomorrow). They stay Pending until a batch
  touches their sub-loan after that instant. The scheduler makes sure that
  happens even when no client request arrives.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each tick calls Engine.Process over every ongoing sub-loan
  - Sub-loans with nothing due are left untouched (no writes, no events)
  - A failing tick is logged and retried on the next one

CONFIGURATION:
  - CheckInterval: How often to check (scheduler.interval, default 1m)
  - Enabled: Whether scheduler is active (scheduler.enabled, default true)

USAGE:
  scheduler := NewProcessingScheduler(engine)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Process endpoint (manual trigger)
  - lending/batch.go: Engine.Process
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/loan-engine/lending"
)

// ProcessingScheduler periodically applies due scheduled operations.
type ProcessingScheduler struct {
	Engine        *lending.Engine
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastRun    time.Time
	lastResult lending.BatchResult
}

// NewProcessingScheduler creates a new scheduler.
func NewProcessingScheduler(engine *lending.Engine) *ProcessingScheduler {
	return &ProcessingScheduler{
		Engine:        engine,
		CheckInterval: time.Minute,
		Enabled:       true,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (ps *ProcessingScheduler) Start() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if !ps.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}
	if ps.ticker != nil {
		return
	}

	ps.ticker = time.NewTicker(ps.CheckInterval)
	ps.wg.Add(1)

	go ps.run()

	log.Printf("[Scheduler] Started with check interval: %v", ps.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight tick.
func (ps *ProcessingScheduler) Stop() {
	ps.mu.Lock()
	ticker := ps.ticker
	ps.ticker = nil
	ps.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
		close(ps.stop)
		ps.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (ps *ProcessingScheduler) run() {
	defer ps.wg.Done()

	// Run immediately on start
	ps.checkAndProcess()

	for {
		select {
		case <-ps.ticker.C:
			ps.checkAndProcess()
		case <-ps.stop:
			return
		}
	}
}

func (ps *ProcessingScheduler) checkAndProcess() {
	ctx, cancel := context.WithTimeout(context.Background(), ps.CheckInterval)
	defer cancel()

	res, err := ps.Engine.Process(ctx)
	if err != nil {
		log.Printf("[Scheduler] Processing failed: %v", err)
		return
	}

	ps.mu.Lock()
	ps.lastRun = time.Now()
	ps.lastResult = res
	ps.mu.Unlock()

	if len(res.Events) > 0 {
		log.Printf("[Scheduler] Applied due operations: %d events, %d replays (batch %s)",
			len(res.Events), len(res.Replayed), res.BatchID)
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (ps *ProcessingScheduler) RunNow() {
	ps.checkAndProcess()
}

// LastRun returns when the last successful tick finished and what it did.
func (ps *ProcessingScheduler) LastRun() (time.Time, lending.BatchResult) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.lastRun, ps.lastResult
}

// GetNextRunTime returns when the next scheduled check will occur.
func (ps *ProcessingScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(ps.CheckInterval)
}
