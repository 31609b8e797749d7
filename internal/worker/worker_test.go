package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/conrisk/internal/bus"
	"github.com/opensource-finance/conrisk/internal/domain"
	"github.com/opensource-finance/conrisk/internal/pipeline"
)

type recordingProcessor struct {
	mu   sync.Mutex
	jobs []pipeline.Job
	done chan struct{}
	err  error
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{done: make(chan struct{}, 10)}
}

func (p *recordingProcessor) Process(ctx context.Context, job pipeline.Job) (*domain.RiskSummary, error) {
	p.mu.Lock()
	p.jobs = append(p.jobs, job)
	p.mu.Unlock()
	defer func() { p.done <- struct{}{} }()

	if p.err != nil {
		return nil, p.err
	}
	return &domain.RiskSummary{ContractID: job.ContractID, Status: domain.StatusClear}, nil
}

func (p *recordingProcessor) Jobs() []pipeline.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pipeline.Job(nil), p.jobs...)
}

func waitDone(t *testing.T, p *recordingProcessor) {
	t.Helper()
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job")
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, newRecordingProcessor())

		err := w.Start(Config{TenantIDs: []string{"tenant-001"}, WorkerCount: 1})
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessUpload", func(t *testing.T) {
		proc := newRecordingProcessor()
		w := NewWorker(eventBus, proc)
		if err := w.Start(Config{TenantIDs: []string{"tenant-test"}, WorkerCount: 2}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		ev := domain.ContractUploadedEvent{
			ContractID: "contract-001",
			FilePath:   "1700000000000-5ZCI5ZCM.pdf",
			Filename:   "合同.pdf",
			TraceID:    "trace-001",
		}
		if err := bus.PublishJSON(context.Background(), eventBus, "tenant-test", domain.TopicContractUploaded, ev); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		waitDone(t, proc)

		jobs := proc.Jobs()
		if len(jobs) != 1 {
			t.Fatalf("expected 1 job, got %d", len(jobs))
		}
		job := jobs[0]
		if job.ContractID != "contract-001" {
			t.Errorf("expected contract 'contract-001', got '%s'", job.ContractID)
		}
		// Tenant falls back to the message tenant when the event omits it.
		if job.TenantID != "tenant-test" {
			t.Errorf("expected tenant 'tenant-test', got '%s'", job.TenantID)
		}
		if job.TraceID != "trace-001" {
			t.Errorf("expected trace 'trace-001', got '%s'", job.TraceID)
		}
	})

	t.Run("GlobalSubscription", func(t *testing.T) {
		proc := newRecordingProcessor()
		w := NewWorker(eventBus, proc)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		ev := domain.ContractUploadedEvent{ContractID: "contract-global", TenantID: "tenant-x"}
		if err := bus.PublishJSON(context.Background(), eventBus, "tenant-x", domain.TopicContractUploaded, ev); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		waitDone(t, proc)

		jobs := proc.Jobs()
		if len(jobs) != 1 || jobs[0].TenantID != "tenant-x" {
			t.Errorf("expected one job for tenant-x, got %+v", jobs)
		}
		if jobs[0].TraceID == "" {
			t.Error("expected a trace id derived from the message")
		}
	})

	t.Run("ProcessorErrorKeepsWorking", func(t *testing.T) {
		proc := newRecordingProcessor()
		proc.err = errors.New("extract failed")
		w := NewWorker(eventBus, proc)
		if err := w.Start(Config{TenantIDs: []string{"tenant-err"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		for _, id := range []string{"c-1", "c-2"} {
			ev := domain.ContractUploadedEvent{ContractID: id, TenantID: "tenant-err"}
			if err := bus.PublishJSON(context.Background(), eventBus, "tenant-err", domain.TopicContractUploaded, ev); err != nil {
				t.Fatalf("Publish failed: %v", err)
			}
		}

		waitDone(t, proc)
		waitDone(t, proc)

		if got := len(proc.Jobs()); got != 2 {
			t.Errorf("expected 2 jobs, got %d", got)
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, newRecordingProcessor())
		w.Start(Config{TenantIDs: []string{"tenant-a", "tenant-b"}})
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})
}

type slowProcessor struct {
	delay     time.Duration
	processed atomic.Int64
	cancelled atomic.Int64
}

func (p *slowProcessor) Process(ctx context.Context, job pipeline.Job) (*domain.RiskSummary, error) {
	time.Sleep(p.delay)
	if ctx.Err() != nil {
		p.cancelled.Add(1)
		return nil, ctx.Err()
	}
	p.processed.Add(1)
	return &domain.RiskSummary{ContractID: job.ContractID, Status: domain.StatusClear}, nil
}

func TestStopFinishesQueuedUploads(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	proc := &slowProcessor{delay: 40 * time.Millisecond}
	w := NewWorker(eventBus, proc)
	if err := w.Start(Config{TenantIDs: []string{"tenant-drain"}, WorkerCount: 1}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	const uploads = 6
	for i := 0; i < uploads; i++ {
		ev := domain.ContractUploadedEvent{ContractID: fmt.Sprintf("c-%d", i), TenantID: "tenant-drain"}
		if err := bus.PublishJSON(context.Background(), eventBus, "tenant-drain", domain.TopicContractUploaded, ev); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	time.Sleep(20 * time.Millisecond)
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := proc.processed.Load(); got != uploads {
		t.Errorf("expected %d uploads processed, got %d", uploads, got)
	}
	if got := proc.cancelled.Load(); got != 0 {
		t.Errorf("expected no cancelled analyses, got %d", got)
	}

	// Nothing is delivered once stopped.
	ev := domain.ContractUploadedEvent{ContractID: "late", TenantID: "tenant-drain"}
	_ = bus.PublishJSON(context.Background(), eventBus, "tenant-drain", domain.TopicContractUploaded, ev)
	time.Sleep(20 * time.Millisecond)
	if got := proc.processed.Load(); got != uploads {
		t.Errorf("expected no processing after stop, got %d", got)
	}

	if err := w.Start(Config{}); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped on restart, got %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}
