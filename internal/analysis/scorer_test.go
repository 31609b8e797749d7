package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/conrisk/internal/domain"
)

func paymentPatterns(t *testing.T) []string {
	t.Helper()
	for _, cp := range DefaultPatterns() {
		if cp.Category == domain.CategoryPayment {
			return cp.Patterns
		}
	}
	t.Fatal("payment category missing from default table")
	return nil
}

func TestScorePatterns(t *testing.T) {
	t.Run("NoMatches", func(t *testing.T) {
		for _, cp := range DefaultPatterns() {
			score := ScorePatterns("本合同由双方友好协商签订。", cp.Patterns)
			assert.Empty(t, score.Factors, cp.Category)
			assert.Zero(t, score.Raw)
			assert.Zero(t, score.Normalized)
		}
	})

	t.Run("SingleOccurrence", func(t *testing.T) {
		for _, cp := range DefaultPatterns() {
			score := ScorePatterns("条款："+cp.Patterns[0], cp.Patterns)
			require.Equal(t, []string{cp.Patterns[0]}, score.Factors, cp.Category)
			assert.InDelta(t, 0.2/float64(len(cp.Patterns)), score.Normalized, 1e-9)
			assert.Equal(t, domain.RiskLow, Classify(score.Normalized))
		}
	})

	t.Run("PaymentScenario", func(t *testing.T) {
		content := "乙方付款延迟的，应按日支付违约金；付款延迟超过三十日的，甲方有权解除合同。"
		patterns := paymentPatterns(t)
		require.Len(t, patterns, 9)

		score := ScorePatterns(content, patterns)

		assert.Equal(t, []string{"付款延迟", "违约金"}, score.Factors)
		assert.InDelta(t, 0.6, score.Raw, 1e-9)
		assert.InDelta(t, 0.6/9, score.Normalized, 1e-9)
		assert.Equal(t, domain.RiskLow, Classify(score.Normalized))
	})

	t.Run("FactorsFollowDeclarationOrder", func(t *testing.T) {
		score := ScorePatterns("汇率风险 预付款 付款延迟", paymentPatterns(t))
		assert.Equal(t, []string{"付款延迟", "预付款", "汇率风险"}, score.Factors)
	})

	t.Run("LiteralMatching", func(t *testing.T) {
		patterns := []string{"a.c", "(x", "[y]"}
		score := ScorePatterns("abc a.c (x y", patterns)

		assert.Equal(t, []string{"a.c", "(x"}, score.Factors)
		assert.InDelta(t, 0.4, score.Raw, 1e-9)
	})

	t.Run("NonOverlapping", func(t *testing.T) {
		assert.InDelta(t, 0.4, ScorePatterns("aaaa", []string{"aa"}).Raw, 1e-9)
		assert.InDelta(t, 0.2, ScorePatterns("aaa", []string{"aa"}).Raw, 1e-9)
	})

	t.Run("EmptyPatternNeverMatches", func(t *testing.T) {
		score := ScorePatterns("anything", []string{""})
		assert.Empty(t, score.Factors)
		assert.Zero(t, score.Normalized)
	})

	t.Run("NoPatterns", func(t *testing.T) {
		score := ScorePatterns("违约金", nil)
		assert.Zero(t, score.Normalized)
	})

	t.Run("MonotonicAndSaturating", func(t *testing.T) {
		patterns := paymentPatterns(t)
		prev := -1.0
		for n := 0; n <= 60; n++ {
			content := strings.Repeat("违约金，", n)
			score := ScorePatterns(content, patterns)
			assert.GreaterOrEqual(t, score.Normalized, prev, "n=%d", n)
			assert.LessOrEqual(t, score.Normalized, 1.0)
			prev = score.Normalized
		}
		assert.Equal(t, 1.0, prev)
		assert.Equal(t, domain.RiskHigh, Classify(prev))
	})

	t.Run("Idempotent", func(t *testing.T) {
		content := "预付款与分期付款，违约金，违约金。"
		patterns := paymentPatterns(t)

		first := ScorePatterns(content, patterns)
		second := ScorePatterns(content, patterns)

		assert.Equal(t, first, second)
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		score float64
		want  domain.RiskLevel
	}{
		{0, domain.RiskLow},
		{0.39999, domain.RiskLow},
		{0.4, domain.RiskMedium},
		{0.55, domain.RiskMedium},
		{0.69999, domain.RiskMedium},
		{0.7, domain.RiskHigh},
		{1.0, domain.RiskHigh},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.score), "score %v", tt.score)
	}
}

func TestWithOverrides(t *testing.T) {
	t.Run("ReplacesPhrasesKeepsOrder", func(t *testing.T) {
		table, err := WithOverrides(DefaultPatterns(), map[string][]string{
			"legal": {"仲裁"},
		})
		require.NoError(t, err)

		require.Len(t, table, 4)
		assert.Equal(t, domain.CategoryPayment, table[0].Category)
		assert.Equal(t, domain.CategoryLegal, table[2].Category)
		assert.Equal(t, []string{"仲裁"}, table[2].Patterns)
		assert.Len(t, DefaultPatterns()[2].Patterns, 8)
	})

	t.Run("UnknownCategory", func(t *testing.T) {
		_, err := WithOverrides(DefaultPatterns(), map[string][]string{"tax": {"税"}})
		assert.Error(t, err)
	})

	t.Run("EmptyPhrases", func(t *testing.T) {
		_, err := WithOverrides(DefaultPatterns(), map[string][]string{"payment": {}})
		assert.Error(t, err)
	})
}
