package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/conrisk/internal/domain"
)

var errSinkDown = errors.New("sink down")

// countingSink fails the Nth call of each kind when configured.
type countingSink struct {
	failFindingAt int
	failDateAt    int

	findings []domain.RiskCategory
	dates    []string
}

func (s *countingSink) InsertRiskFinding(ctx context.Context, contractID string, level domain.RiskLevel, category domain.RiskCategory, description string) (string, error) {
	if s.failFindingAt > 0 && len(s.findings)+1 == s.failFindingAt {
		return "", errSinkDown
	}
	s.findings = append(s.findings, category)
	return fmt.Sprintf("risk-%d", len(s.findings)), nil
}

func (s *countingSink) InsertKeyDate(ctx context.Context, contractID string, description string, date string) (string, error) {
	if s.failDateAt > 0 && len(s.dates)+1 == s.failDateAt {
		return "", errSinkDown
	}
	s.dates = append(s.dates, date)
	return fmt.Sprintf("date-%d", len(s.dates)), nil
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(Options{})
	require.NoError(t, err)
	return engine
}

const sampleContract = `第五条 违约责任
乙方付款延迟的，应按日支付违约金。
第六条 交付
乙方应于2024-06-15完成交付，验收标准见附件。`

func TestAnalyze(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	t.Run("EmptyContent", func(t *testing.T) {
		for _, content := range []string{"", "   \n\t"} {
			sink := &countingSink{}
			result, err := engine.For(sink).Analyze(ctx, "c-1", content)

			require.NoError(t, err)
			require.NotNil(t, result)
			assert.Empty(t, result.Risks)
			assert.Empty(t, result.KeyDates)
			assert.Empty(t, sink.findings)
			assert.Empty(t, sink.dates)
		}
	})

	t.Run("NonTextContent", func(t *testing.T) {
		sink := &countingSink{}
		result, err := engine.For(sink).Analyze(ctx, "c-1", "\xff\xfe违约金 2024-06-15完成")

		require.NoError(t, err)
		assert.Empty(t, result.Risks)
		assert.Empty(t, result.KeyDates)
		assert.Empty(t, sink.findings)
		assert.Empty(t, sink.dates)
	})

	t.Run("PersistsInCategoryOrder", func(t *testing.T) {
		sink := &countingSink{}
		result, err := engine.For(sink).Analyze(ctx, "c-1", sampleContract)
		require.NoError(t, err)

		require.Len(t, result.Risks, 3)
		assert.Equal(t, []domain.RiskCategory{
			domain.CategoryPayment, domain.CategoryDelivery, domain.CategoryLegal,
		}, sink.findings)

		payment := result.Risks[0]
		assert.Equal(t, "risk-1", payment.ID)
		assert.Equal(t, "c-1", payment.ContractID)
		assert.Equal(t, []string{"付款延迟", "违约金"}, payment.Factors)
		assert.Equal(t, "发现2个风险因素：付款延迟、违约金", payment.Description)
		assert.Equal(t, domain.RiskLow, payment.Level)

		assert.Equal(t, []string{"验收标准"}, result.Risks[1].Factors)
		assert.Equal(t, "发现1个风险因素：违约责任", result.Risks[2].Description)

		require.Len(t, result.KeyDates, 1)
		assert.Equal(t, "date-1", result.KeyDates[0].ID)
		assert.Equal(t, "c-1", result.KeyDates[0].ContractID)
		assert.Equal(t, "2024-06-15", result.KeyDates[0].Date)
		assert.Equal(t, "关键时间节点: 完成", result.KeyDates[0].Description)
	})

	t.Run("NoFindingsStillExtractsDates", func(t *testing.T) {
		sink := &countingSink{}
		result, err := engine.For(sink).Analyze(ctx, "c-2", "2025年1月1日开始")
		require.NoError(t, err)

		assert.Empty(t, result.Risks)
		require.Len(t, result.KeyDates, 1)
		assert.Equal(t, "2025-01-01", result.KeyDates[0].Date)
	})

	t.Run("FindingWriteFailureStopsRun", func(t *testing.T) {
		sink := &countingSink{failFindingAt: 2}
		result, err := engine.For(sink).Analyze(ctx, "c-1", sampleContract)

		require.Error(t, err)
		assert.ErrorIs(t, err, errSinkDown)
		assert.Nil(t, result)
		assert.Equal(t, []domain.RiskCategory{domain.CategoryPayment}, sink.findings)
		assert.Empty(t, sink.dates)
	})

	t.Run("KeyDateWriteFailureStopsRun", func(t *testing.T) {
		sink := &countingSink{failDateAt: 1}
		result, err := engine.For(sink).Analyze(ctx, "c-1", sampleContract)

		assert.ErrorIs(t, err, errSinkDown)
		assert.Nil(t, result)
		assert.Len(t, sink.findings, 3)
		assert.Empty(t, sink.dates)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		sink := &countingSink{}
		result, err := engine.For(sink).Analyze(cctx, "c-1", sampleContract)

		assert.ErrorIs(t, err, context.Canceled)
		assert.Nil(t, result)
		assert.Empty(t, sink.findings)
	})
}

func TestAnalyzeWithOverrides(t *testing.T) {
	table, err := WithOverrides(DefaultPatterns(), map[string][]string{
		"payment": {"late fee"},
	})
	require.NoError(t, err)

	engine, err := NewEngine(Options{Categories: table})
	require.NoError(t, err)

	sink := NewMemorySink()
	result, err := engine.For(sink).Analyze(context.Background(), "c-9", "late fee, late fee")
	require.NoError(t, err)

	require.Len(t, result.Risks, 1)
	assert.InDelta(t, 0.4, result.Risks[0].Score, 1e-9)
	assert.Equal(t, domain.RiskMedium, result.Risks[0].Level)

	stored := sink.Findings()
	require.Len(t, stored, 1)
	assert.Equal(t, result.Risks[0].ID, stored[0].ID)
	assert.Equal(t, domain.CategoryPayment, stored[0].Category)
}

func TestNewEngineLocale(t *testing.T) {
	t.Run("PartialLocaleUsesDefaults", func(t *testing.T) {
		engine, err := NewEngine(Options{Locale: &Locale{
			EventKeywords:  []string{"due"},
			MilestoneLabel: "milestone",
		}})
		require.NoError(t, err)

		sink := NewMemorySink()
		result, err := engine.For(sink).Analyze(context.Background(), "c", "违约金, due 2024年9月1日")
		require.NoError(t, err)

		require.Len(t, result.Risks, 1)
		assert.Equal(t, "发现1个风险因素：违约金", result.Risks[0].Description)
		assert.Equal(t, "发现1个风险因素：违约金", sink.Findings()[0].Description)

		require.Len(t, result.KeyDates, 1)
		assert.Equal(t, "2024-09-01", result.KeyDates[0].Date)
		assert.Equal(t, "milestone: due", result.KeyDates[0].Description)
	})

	t.Run("CustomFindingFormat", func(t *testing.T) {
		engine, err := NewEngine(Options{Locale: &Locale{
			FindingFormat:   "%d risk factors: %s",
			FactorSeparator: ", ",
		}})
		require.NoError(t, err)

		result, err := engine.For(NewMemorySink()).Analyze(context.Background(), "c", "付款延迟 违约金")
		require.NoError(t, err)
		require.Len(t, result.Risks, 1)
		assert.Equal(t, "2 risk factors: 付款延迟, 违约金", result.Risks[0].Description)
	})

	t.Run("RejectsBadFindingFormat", func(t *testing.T) {
		for _, format := range []string{"%s then %d", "found %d", "%d %s %v"} {
			_, err := NewEngine(Options{Locale: &Locale{FindingFormat: format}})
			assert.Error(t, err, format)
		}
	})
}

func TestMemorySinkConcurrentAnalyses(t *testing.T) {
	engine := newTestEngine(t)
	sink := NewMemorySink()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := engine.For(sink).Analyze(context.Background(), fmt.Sprintf("c-%d", i), sampleContract)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, sink.Findings(), 8*3)
	assert.Len(t, sink.KeyDates(), 8)

	seen := make(map[string]bool)
	for _, f := range sink.Findings() {
		assert.False(t, seen[f.ID], "duplicate id %s", f.ID)
		seen[f.ID] = true
	}
}
