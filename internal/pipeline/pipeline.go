// Package pipeline runs a stored contract through extraction, analysis,
// policy evaluation and summarization. The HTTP API calls it inline and
// the worker calls it for queued uploads.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/conrisk/internal/analysis"
	"github.com/opensource-finance/conrisk/internal/bus"
	"github.com/opensource-finance/conrisk/internal/cache"
	"github.com/opensource-finance/conrisk/internal/domain"
	"github.com/opensource-finance/conrisk/internal/extract"
	"github.com/opensource-finance/conrisk/internal/policy"
	"github.com/opensource-finance/conrisk/internal/repository"
	"github.com/opensource-finance/conrisk/internal/summary"
)

var tracer = otel.Tracer("conrisk-pipeline")

// SummaryTTL bounds how long a computed summary is served from the cache.
const SummaryTTL = 10 * time.Minute

// SummaryKey is the cache key of a contract's latest summary.
func SummaryKey(contractID string) string {
	return "summary:" + contractID
}

// Deps are the collaborators of a Pipeline. Bus, Cache and Policies are optional.
type Deps struct {
	Repo        domain.Repository
	Store       domain.FileStore
	Bus         domain.EventBus
	Cache       domain.Cache
	Engine      *analysis.Engine
	Policies    *policy.Engine
	Processor   *summary.Processor
	MaxFileSize int64
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	Deps
}

// New creates a pipeline.
func New(d Deps) (*Pipeline, error) {
	if d.Repo == nil || d.Store == nil || d.Engine == nil {
		return nil, errors.New("pipeline requires a repository, a file store and an analysis engine")
	}
	if d.Processor == nil {
		d.Processor = summary.NewProcessor(domain.RiskHigh)
	}
	if d.MaxFileSize <= 0 {
		d.MaxFileSize = 10 * 1024 * 1024
	}
	return &Pipeline{Deps: d}, nil
}

// Job identifies a stored contract to analyze. Data may carry the file
// bytes when the caller already holds them.
type Job struct {
	TenantID   string
	ContractID string
	FilePath   string
	Filename   string
	TraceID    string
	Data       []byte
}

// JobFromEvent converts a queued upload into a job.
func JobFromEvent(ev *domain.ContractUploadedEvent) Job {
	return Job{
		TenantID:   ev.TenantID,
		ContractID: ev.ContractID,
		FilePath:   ev.FilePath,
		Filename:   ev.Filename,
		TraceID:    ev.TraceID,
	}
}

// Load reads a stored file, refusing anything larger than the upload limit.
func (p *Pipeline) Load(ctx context.Context, key string) ([]byte, error) {
	rc, err := p.Store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return extract.ReadLimited(rc, p.MaxFileSize)
}

// Extract turns document bytes into plain text.
func (p *Pipeline) Extract(data []byte, filename string) (string, error) {
	return extract.Text(extract.Sniff(data, filename), data)
}

// Preview analyzes text without persisting anything.
func (p *Pipeline) Preview(ctx context.Context, contractID string, content string) (*domain.AnalysisResult, error) {
	return p.Engine.For(analysis.NewMemorySink()).Analyze(ctx, contractID, content)
}

// Submit queues a job for the worker.
func (p *Pipeline) Submit(ctx context.Context, job Job) error {
	if p.Bus == nil {
		return errors.New("no event bus configured")
	}
	return bus.PublishJSON(ctx, p.Bus, job.TenantID, domain.TopicContractUploaded, &domain.ContractUploadedEvent{
		ContractID: job.ContractID,
		TenantID:   job.TenantID,
		FilePath:   job.FilePath,
		Filename:   job.Filename,
		TraceID:    job.TraceID,
	})
}

// Process analyzes a stored contract and persists the outcome. Earlier
// findings and key dates of the contract are replaced. On failure the
// contract is marked failed and rows written before the failure remain.
func (p *Pipeline) Process(ctx context.Context, job Job) (*domain.RiskSummary, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "pipeline.Process")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", job.TenantID),
		attribute.String("contract_id", job.ContractID),
	)

	s, err := p.process(ctx, job, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		if uerr := p.Repo.UpdateAnalysisStatus(context.WithoutCancel(ctx), job.TenantID, job.ContractID, domain.AnalysisFailed); uerr != nil {
			slog.Error("failed to mark analysis failed",
				"contract_id", job.ContractID,
				"error", uerr,
			)
		}
		p.invalidate(ctx, job.TenantID)
		p.dropSummary(ctx, job.TenantID, job.ContractID)
		return nil, err
	}
	return s, nil
}

// Summarize returns the latest summary of a contract. A cache miss
// re-analyzes the stored file in memory; nothing is persisted.
func (p *Pipeline) Summarize(ctx context.Context, job Job) (*domain.RiskSummary, error) {
	if p.Cache != nil {
		var cached domain.RiskSummary
		hit, err := cache.GetJSON(ctx, p.Cache, job.TenantID, SummaryKey(job.ContractID), &cached)
		if err != nil {
			slog.Warn("failed to read cached summary", "contract_id", job.ContractID, "error", err)
		}
		if hit {
			return &cached, nil
		}
	}

	start := time.Now()
	data := job.Data
	if data == nil {
		var err error
		if data, err = p.Load(ctx, job.FilePath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", job.FilePath, err)
		}
	}

	content, err := p.Extract(data, job.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text: %w", err)
	}
	extractMs := time.Since(start).Milliseconds()

	analyzeStart := time.Now()
	result, err := p.Preview(ctx, job.ContractID, content)
	if err != nil {
		return nil, err
	}

	s := p.Processor.Summarize(&summary.Input{
		TenantID:      job.TenantID,
		ContractID:    job.ContractID,
		TraceID:       job.TraceID,
		Result:        result,
		PolicyResults: p.evaluatePolicies(ctx, job.TenantID, result),
		ExtractMs:     extractMs,
		AnalyzeMs:     time.Since(analyzeStart).Milliseconds(),
		StartTime:     start,
	})
	p.storeSummary(ctx, s)
	return s, nil
}

// evaluatePolicies refreshes the tenant's policies from the repository so
// that edits made through any API node apply, then evaluates them.
func (p *Pipeline) evaluatePolicies(ctx context.Context, tenantID string, result *domain.AnalysisResult) []domain.PolicyResult {
	if p.Policies == nil {
		return nil
	}

	policies, err := p.Repo.ListPolicies(ctx, tenantID)
	if err != nil {
		slog.Warn("failed to list policies, using loaded set", "tenant_id", tenantID, "error", err)
	} else if err := p.Policies.Sync(tenantID, policies); err != nil {
		slog.Warn("some policies failed to compile", "tenant_id", tenantID, "error", err)
	}

	return p.Policies.Evaluate(ctx, tenantID, result)
}

func (p *Pipeline) process(ctx context.Context, job Job, start time.Time) (*domain.RiskSummary, error) {
	data := job.Data
	if data == nil {
		var err error
		if data, err = p.Load(ctx, job.FilePath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", job.FilePath, err)
		}
	}

	content, err := p.Extract(data, job.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text: %w", err)
	}
	extractMs := time.Since(start).Milliseconds()

	if err := p.Repo.ClearAnalysis(ctx, job.TenantID, job.ContractID); err != nil {
		return nil, fmt.Errorf("failed to clear previous analysis: %w", err)
	}

	analyzeStart := time.Now()
	analyzer := p.Engine.For(repository.NewAnalysisSink(p.Repo, job.TenantID))
	result, err := analyzer.Analyze(ctx, job.ContractID, content)
	if err != nil {
		return nil, err
	}
	analyzeMs := time.Since(analyzeStart).Milliseconds()

	s := p.Processor.Summarize(&summary.Input{
		TenantID:      job.TenantID,
		ContractID:    job.ContractID,
		TraceID:       job.TraceID,
		Result:        result,
		PolicyResults: p.evaluatePolicies(ctx, job.TenantID, result),
		ExtractMs:     extractMs,
		AnalyzeMs:     analyzeMs,
		StartTime:     start,
	})

	if err := p.Repo.UpdateAnalysisStatus(ctx, job.TenantID, job.ContractID, domain.AnalysisCompleted); err != nil {
		return nil, fmt.Errorf("failed to update analysis status: %w", err)
	}
	p.invalidate(ctx, job.TenantID)
	p.storeSummary(ctx, s)
	p.publish(ctx, s)

	slog.Info("contract analyzed",
		"contract_id", job.ContractID,
		"tenant_id", job.TenantID,
		"status", s.Status,
		"overall_level", s.OverallLevel,
		"findings", len(result.Risks),
		"key_dates", len(result.KeyDates),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return s, nil
}

// publish announces the analysis. Bus failures are logged, never returned:
// the analysis is already persisted.
func (p *Pipeline) publish(ctx context.Context, s *domain.RiskSummary) {
	if p.Bus == nil {
		return
	}

	ev := &domain.ContractAnalyzedEvent{
		ContractID: s.ContractID,
		TenantID:   s.TenantID,
		Summary:    s,
	}
	if err := bus.PublishJSON(ctx, p.Bus, s.TenantID, domain.TopicContractAnalyzed, ev); err != nil {
		slog.Error("failed to publish analysis",
			"contract_id", s.ContractID,
			"error", err,
		)
	}

	if summary.ShouldAlert(s) {
		ev.Reasons = summary.Reasons(s, p.Processor.AlertLevel)
		if err := bus.PublishJSON(ctx, p.Bus, s.TenantID, domain.TopicRiskAlert, ev); err != nil {
			slog.Error("failed to publish alert",
				"contract_id", s.ContractID,
				"error", err,
			)
		}
	}
}

func (p *Pipeline) storeSummary(ctx context.Context, s *domain.RiskSummary) {
	if p.Cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, p.Cache, s.TenantID, SummaryKey(s.ContractID), s, SummaryTTL); err != nil {
		slog.Warn("failed to cache summary", "contract_id", s.ContractID, "error", err)
	}
}

func (p *Pipeline) dropSummary(ctx context.Context, tenantID, contractID string) {
	if p.Cache == nil {
		return
	}
	if err := p.Cache.Delete(ctx, tenantID, SummaryKey(contractID)); err != nil {
		slog.Warn("failed to drop cached summary", "contract_id", contractID, "error", err)
	}
}

func (p *Pipeline) invalidate(ctx context.Context, tenantID string) {
	if p.Cache == nil {
		return
	}
	if err := p.Cache.Delete(ctx, tenantID, domain.DashboardCacheKey); err != nil {
		slog.Warn("failed to invalidate dashboard cache", "tenant_id", tenantID, "error", err)
	}
}
