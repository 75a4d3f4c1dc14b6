package resolver

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"unlocker/internal/config"
	"unlocker/internal/domain"
	"unlocker/internal/monitoring"
)

// ResultStore persists terminal task results. Optional.
type ResultStore interface {
	SaveResult(ctx context.Context, task *domain.LinkTask) error
}

// Orchestrator fans locked links out to a bounded pool of resolver workers.
// One task failing never aborts its siblings; every task reaches a terminal
// state and is reported.
type Orchestrator struct {
	cfg      *config.Config
	resolver *Resolver
	store    ResultStore
	metrics  *monitoring.Metrics
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan func()
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var errStopped = errors.New("orchestrator stopped")

func NewOrchestrator(cfg *config.Config, r *Resolver, store ResultStore, m *monitoring.Metrics, l *zap.Logger) *Orchestrator {
	if l == nil {
		l = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:      cfg,
		resolver: r,
		store:    store,
		metrics:  m,
		logger:   l,
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(chan func(), cfg.Concurrency*2),
	}
}

// Start launches the worker pool.
func (o *Orchestrator) Start() {
	for i := 0; i < o.cfg.Concurrency; i++ {
		o.wg.Add(1)
		go o.worker()
	}
}

// Stop cancels in-flight tasks and waits for workers to drain. Submits that
// race Stop terminate as Cancelled. The cancel must precede the write lock:
// it unblocks any enqueue parked on a full jobs channel, so no sender can
// still hold the read lock — or the channel — when jobs is closed.
func (o *Orchestrator) Stop() {
	o.cancel()
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	close(o.jobs)
	o.wg.Wait()
}

// enqueue hands a job to the pool unless the caller's context is gone or the
// orchestrator has been stopped.
func (o *Orchestrator) enqueue(ctx context.Context, job func()) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return errStopped
	}
	select {
	case o.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-o.ctx.Done():
		return errStopped
	}
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case job, ok := <-o.jobs:
			if !ok {
				return
			}
			job()
		case <-o.ctx.Done():
			// Drain what was already accepted so every task still reaches a
			// terminal state; the cancelled context makes each job fail fast.
			for job := range o.jobs {
				job()
			}
			return
		}
	}
}

// Submit enqueues one link for asynchronous resolution (service mode).
func (o *Orchestrator) Submit(in domain.LinkInput) *domain.LinkTask {
	task := domain.NewLinkTask(in)
	if err := o.enqueue(o.ctx, func() { o.process(o.ctx, task) }); err != nil {
		task.Fail(domain.KindCancelled, err.Error())
	}
	return task
}

// ResolveAll resolves every input and returns tasks in input order. The
// returned slice always matches the input in length and position; cancelled
// or failed entries carry their error kind instead of a resolved URL.
func (o *Orchestrator) ResolveAll(ctx context.Context, inputs []domain.LinkInput) []*domain.LinkTask {
	tasks := make([]*domain.LinkTask, len(inputs))
	var wg sync.WaitGroup

	for i := range inputs {
		task := domain.NewLinkTask(inputs[i])
		tasks[i] = task

		wg.Add(1)
		job := func() {
			defer wg.Done()
			o.process(ctx, task)
		}
		if err := o.enqueue(ctx, job); err != nil {
			task.Fail(domain.KindCancelled, err.Error())
			wg.Done()
		}
	}

	wg.Wait()
	return tasks
}

// process runs one task to a terminal state, including bounded whole-task
// retries. Only network faults are retried: logical mismatches (unsupported
// challenge, rejected proofs) would fail the same way again.
func (o *Orchestrator) process(ctx context.Context, task *domain.LinkTask) {
	task.StartedAt = time.Now()

	for attempt := 0; ; attempt++ {
		task.Attempts = attempt + 1
		o.resolver.Resolve(ctx, task)

		if task.State == domain.StateResolved {
			break
		}
		if attempt >= o.cfg.TaskRetries || task.ErrorKind != domain.KindNetworkError {
			break
		}

		o.logger.Info("retrying task",
			zap.String("url", task.SourceURL),
			zap.Int("attempt", attempt+1))
		task.State = domain.StateUnresolved
		task.ErrorKind = ""
		task.FailReason = ""
	}

	if task.State == domain.StateResolved {
		o.metrics.IncResolved()
	} else {
		o.metrics.IncErrors(string(task.ErrorKind))
	}
	o.metrics.ObserveResolveDuration(time.Since(task.StartedAt).Seconds())

	o.persist(task)
}

func (o *Orchestrator) persist(task *domain.LinkTask) {
	if o.store == nil {
		return
	}
	// Results are persisted even when the batch context is gone.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.SaveResult(ctx, task); err != nil {
		o.logger.Error("failed to persist result",
			zap.String("url", task.SourceURL),
			zap.Error(err))
	}
}
