package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nileshdv/postmux/internal/repository"
	"github.com/nileshdv/postmux/internal/service"
	"github.com/nileshdv/postmux/internal/transfer"
)

// Clock abstracts time.Now so tick behavior is testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Daemon sweeps the database for due scheduled posts on a fixed interval
// and publishes them through a bounded worker pool. Posts queued for
// immediate publishing never pass through here; those go over the task
// queue.
type Daemon struct {
	pr       repository.PostRepository
	ps       service.PublishService
	clock    Clock
	interval time.Duration
	workers  int

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	// sweepMu serializes ticks and manual batches so a post is never
	// picked up twice in overlapping sweeps.
	sweepMu sync.Mutex

	stopping  atomic.Bool
	processed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int64
	lastTick  atomic.Int64
}

func NewDaemon(pr repository.PostRepository, ps service.PublishService, interval time.Duration, workers int, clock Clock) *Daemon {
	if clock == nil {
		clock = systemClock{}
	}
	if workers < 1 {
		workers = 1
	}
	return &Daemon{
		pr:       pr,
		ps:       ps,
		clock:    clock,
		interval: interval,
		workers:  workers,
	}
}

// Start launches the tick loop. Calling Start on a running daemon is a no-op.
func (d *Daemon) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}

	d.running = true
	d.stopping.Store(false)
	d.stop = make(chan struct{})
	d.done = make(chan struct{})

	go d.run(d.stop, d.done)
	slog.Info("scheduler daemon started")
}

// Stop signals the tick loop and blocks until in-flight publishes finish.
// Posts not yet handed to a worker stay scheduled and are picked up by
// the next run. Calling Stop on a stopped daemon is a no-op.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	stop, done := d.stop, d.done
	d.mu.Unlock()

	d.stopping.Store(true)
	close(stop)
	<-done
	slog.Info("scheduler daemon stopped")
}

func (d *Daemon) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.sweep(context.Background(), true)
		}
	}
}

// TriggerBatch runs one sweep immediately and reports how many posts it
// processed. It works whether or not the tick loop is running.
func (d *Daemon) TriggerBatch(ctx context.Context) (int, error) {
	return d.sweep(ctx, false)
}

// sweep publishes every due post through the worker pool. When
// respectStop is set, a stop request abandons the rest of the batch.
func (d *Daemon) sweep(ctx context.Context, respectStop bool) (int, error) {
	d.sweepMu.Lock()
	defer d.sweepMu.Unlock()

	now := d.clock.Now()
	d.lastTick.Store(now.UnixNano())

	posts, err := d.pr.ListDue(ctx, now)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, d.workers)

	count := 0
	for _, post := range posts {
		// A stop request lets in-flight publishes finish but hands
		// nothing new to the pool.
		if respectStop && d.stopping.Load() {
			break
		}

		count++
		wg.Add(1)
		semaphore <- struct{}{}

		go func(postID int64) {
			defer wg.Done()
			defer func() { <-semaphore }()

			d.inFlight.Add(1)
			defer d.inFlight.Add(-1)

			d.publish(ctx, postID)
		}(post.ID)
	}

	wg.Wait()
	return count, nil
}

func (d *Daemon) publish(ctx context.Context, postID int64) {
	results, err := d.ps.PublishPost(ctx, postID)
	if err == nil && results == nil {
		// Picked up elsewhere in the meantime.
		return
	}

	d.processed.Add(1)

	if err != nil {
		slog.Info(err.Error())
	}
	if results == nil {
		d.failed.Add(1)
		return
	}

	for _, result := range results {
		if !result.Success {
			d.failed.Add(1)
			return
		}
	}

	// Every platform took the post. A bookkeeping error after that point
	// is logged above but does not turn the publish into a failure.
	d.succeeded.Add(1)
}

func (d *Daemon) Status() transfer.SchedulerStatus {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()

	status := transfer.SchedulerStatus{
		Running:   running,
		Interval:  d.interval.String(),
		Processed: d.processed.Load(),
		Succeeded: d.succeeded.Load(),
		Failed:    d.failed.Load(),
		InFlight:  d.inFlight.Load(),
	}

	if nanos := d.lastTick.Load(); nanos != 0 {
		t := time.Unix(0, nanos)
		status.LastTick = &t
	}

	return status
}

func (d *Daemon) ResetStats() {
	d.processed.Store(0)
	d.succeeded.Store(0)
	d.failed.Store(0)
}
