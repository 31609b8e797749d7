package analysis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/conrisk/internal/domain"
)

var tracer = otel.Tracer("conrisk-analysis")

// Options configures an Engine. Zero values fall back to the defaults.
type Options struct {
	Categories []CategoryPatterns
	Locale     *Locale
}

// Engine holds the immutable analysis state: the phrase table, the locale and
// the compiled date passes. It is safe for concurrent use.
type Engine struct {
	categories []CategoryPatterns
	locale     Locale
	dates      *DateExtractor
}

// NewEngine builds an engine from options.
func NewEngine(opts Options) (*Engine, error) {
	categories := opts.Categories
	if len(categories) == 0 {
		categories = DefaultPatterns()
	}

	locale := DefaultLocale()
	if opts.Locale != nil {
		locale = opts.Locale.withDefaults()
	}
	if err := locale.validate(); err != nil {
		return nil, err
	}

	dates, err := NewDateExtractor(locale)
	if err != nil {
		return nil, err
	}

	return &Engine{
		categories: categories,
		locale:     locale,
		dates:      dates,
	}, nil
}

// Categories returns the phrase table in evaluation order.
func (e *Engine) Categories() []CategoryPatterns {
	return e.categories
}

// ExtractDates runs only the key date extractor.
func (e *Engine) ExtractDates(content string) []domain.KeyDateEvent {
	return e.dates.Extract(content)
}

// For binds a sink and returns an Analyzer writing through it.
func (e *Engine) For(sink domain.AnalysisSink) *Analyzer {
	return &Analyzer{engine: e, sink: sink}
}

// Analyzer runs one engine against one sink.
type Analyzer struct {
	engine *Engine
	sink   domain.AnalysisSink
}

// Analyze scores every category, extracts key dates and persists each
// finding and date through the sink as soon as it is produced.
//
// The first sink error stops the run and is returned; rows already written
// stay written. Empty content yields an empty result without touching the sink.
func (a *Analyzer) Analyze(ctx context.Context, contractID string, content string) (*domain.AnalysisResult, error) {
	result := &domain.AnalysisResult{
		Risks:    []domain.RiskFinding{},
		KeyDates: []domain.KeyDateEvent{},
	}
	// Content that is not UTF-8 text matches nothing.
	if strings.TrimSpace(content) == "" || !utf8.ValidString(content) {
		return result, nil
	}

	ctx, span := tracer.Start(ctx, "analysis.Analyze",
		trace.WithAttributes(attribute.String("contract.id", contractID)),
	)
	defer span.End()

	fail := func(err error) (*domain.AnalysisResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	for _, cp := range a.engine.categories {
		score := ScorePatterns(content, cp.Patterns)
		if len(score.Factors) == 0 {
			continue
		}

		finding := domain.RiskFinding{
			ContractID:  contractID,
			Category:    cp.Category,
			Level:       Classify(score.Normalized),
			Factors:     score.Factors,
			Score:       score.Normalized,
			Description: a.engine.locale.describeFinding(score.Factors),
		}

		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		id, err := a.sink.InsertRiskFinding(ctx, contractID, finding.Level, finding.Category, finding.Description)
		if err != nil {
			return fail(fmt.Errorf("failed to store %s finding: %w", cp.Category, err))
		}
		finding.ID = id
		result.Risks = append(result.Risks, finding)
	}

	for _, event := range a.engine.dates.Extract(content) {
		event.ContractID = contractID

		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		id, err := a.sink.InsertKeyDate(ctx, contractID, event.Description, event.Date)
		if err != nil {
			return fail(fmt.Errorf("failed to store key date %s: %w", event.Date, err))
		}
		event.ID = id
		result.KeyDates = append(result.KeyDates, event)
	}

	span.SetAttributes(
		attribute.Int("analysis.findings", len(result.Risks)),
		attribute.Int("analysis.key_dates", len(result.KeyDates)),
	)

	return result, nil
}

// MemorySink keeps analysis output in memory. It backs upload previews,
// where nothing is persisted, and tests.
type MemorySink struct {
	mu       sync.Mutex
	findings []domain.RiskFinding
	keyDates []domain.KeyDateEvent
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// InsertRiskFinding records a finding.
func (s *MemorySink) InsertRiskFinding(ctx context.Context, contractID string, level domain.RiskLevel, category domain.RiskCategory, description string) (string, error) {
	id := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append(s.findings, domain.RiskFinding{
		ID:          id,
		ContractID:  contractID,
		Category:    category,
		Level:       level,
		Description: description,
	})
	return id, nil
}

// InsertKeyDate records a key date.
func (s *MemorySink) InsertKeyDate(ctx context.Context, contractID string, description string, date string) (string, error) {
	id := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyDates = append(s.keyDates, domain.KeyDateEvent{
		ID:          id,
		ContractID:  contractID,
		Date:        date,
		Description: description,
	})
	return id, nil
}

// Findings returns a copy of the recorded findings.
func (s *MemorySink) Findings() []domain.RiskFinding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RiskFinding(nil), s.findings...)
}

// KeyDates returns a copy of the recorded key dates.
func (s *MemorySink) KeyDates() []domain.KeyDateEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.KeyDateEvent(nil), s.keyDates...)
}
