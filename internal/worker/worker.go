// Package worker analyzes uploaded contracts asynchronously from the EventBus.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/conrisk/internal/bus"
	"github.com/opensource-finance/conrisk/internal/domain"
	"github.com/opensource-finance/conrisk/internal/pipeline"
)

// Processor runs one analysis job.
type Processor interface {
	Process(ctx context.Context, job pipeline.Job) (*domain.RiskSummary, error)
}

// Worker consumes contract upload events and hands them to a pool of goroutines.
type Worker struct {
	bus       domain.EventBus
	processor Processor

	jobs          chan pipeline.Job
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	mu            sync.Mutex
	started       bool
	stopped       bool
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = global subscription)
	TenantIDs []string

	// WorkerCount is the number of concurrent analyses
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(b domain.EventBus, processor Processor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       b,
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// ErrStopped is returned by Start once Stop has run.
var ErrStopped = errors.New("worker: stopped")

// Start subscribes to upload events and launches the pool.
func (w *Worker) Start(cfg Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return ErrStopped
	}
	if !w.started {
		if cfg.WorkerCount <= 0 {
			cfg.WorkerCount = 1
		}
		w.jobs = make(chan pipeline.Job, cfg.WorkerCount)
		for i := 0; i < cfg.WorkerCount; i++ {
			w.wg.Add(1)
			go w.run()
		}
		w.started = true
	}

	if len(cfg.TenantIDs) == 0 {
		return w.subscribe(domain.GlobalTenant)
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.subscribe(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
		"worker_count", cfg.WorkerCount,
	)

	return nil
}

func (w *Worker) subscribe(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicContractUploaded, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker subscribed",
		"tenant_id", tenantID,
		"topic", domain.TopicContractUploaded,
	)
	return nil
}

// handleMessage decodes an upload event and queues it. It blocks while
// every pool goroutine is busy.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var ev domain.ContractUploadedEvent
	if err := bus.Decode(msg, &ev); err != nil {
		slog.Error("failed to parse upload message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	job := pipeline.JobFromEvent(&ev)
	if job.TenantID == "" {
		job.TenantID = msg.TenantID
	}
	if job.TraceID == "" {
		job.TraceID = msg.Metadata[domain.MetaTraceID]
	}
	if job.TraceID == "" {
		job.TraceID = msg.ID
	}

	select {
	case w.jobs <- job:
		return nil
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}

func (w *Worker) run() {
	defer w.wg.Done()
	for job := range w.jobs {
		w.process(job)
	}
}

func (w *Worker) process(job pipeline.Job) {
	start := time.Now()

	slog.Debug("processing contract",
		"contract_id", job.ContractID,
		"tenant_id", job.TenantID,
		"trace_id", job.TraceID,
	)

	s, err := w.processor.Process(w.ctx, job)
	if err != nil {
		slog.Error("contract analysis failed",
			"contract_id", job.ContractID,
			"tenant_id", job.TenantID,
			"error", err,
		)
		return
	}

	slog.Info("contract processed",
		"contract_id", job.ContractID,
		"tenant_id", job.TenantID,
		"status", s.Status,
		"overall_level", s.OverallLevel,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop unsubscribes, finishes every queued upload and then stops the pool.
// Unsubscribing drains messages the bus already buffered for the worker into
// the queue, so each accepted upload reaches a terminal analysis status.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	if w.started {
		close(w.jobs)
	}
	w.wg.Wait()
	w.cancel()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
