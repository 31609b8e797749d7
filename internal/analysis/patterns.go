// Package analysis scores contract text against risk trigger phrases and
// extracts key dates from it.
package analysis

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/conrisk/internal/domain"
)

// CategoryPatterns binds a risk category to its trigger phrases.
// Phrase order is significant: matched factors are reported in this order.
type CategoryPatterns struct {
	Category domain.RiskCategory
	Patterns []string
}

// DefaultPatterns returns the built-in trigger phrase table in evaluation order.
func DefaultPatterns() []CategoryPatterns {
	return []CategoryPatterns{
		{
			Category: domain.CategoryPayment,
			Patterns: []string{
				"付款延迟", "违约金", "预付款", "分期付款", "支付条件",
				"付款期限", "支付方式", "货币风险", "汇率风险",
			},
		},
		{
			Category: domain.CategoryDelivery,
			Patterns: []string{
				"交付延迟", "验收标准", "质量要求", "交付时间", "运输风险",
				"不可抗力", "交付地点", "验收程序",
			},
		},
		{
			Category: domain.CategoryLegal,
			Patterns: []string{
				"违约责任", "争议解决", "管辖法院", "适用法律", "知识产权",
				"保密条款", "终止条件", "解除条件",
			},
		},
		{
			Category: domain.CategoryFinancial,
			Patterns: []string{
				"价格调整", "税费承担", "费用分摊", "保证金", "赔偿责任",
				"保险要求", "财务担保",
			},
		},
	}
}

// WithOverrides replaces the phrases of the named categories and keeps the
// evaluation order of base. Unknown category names are rejected.
func WithOverrides(base []CategoryPatterns, overrides map[string][]string) ([]CategoryPatterns, error) {
	out := make([]CategoryPatterns, len(base))
	copy(out, base)

	for name, phrases := range overrides {
		idx := -1
		for i, cp := range out {
			if strings.EqualFold(string(cp.Category), name) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("unknown risk category: %s", name)
		}
		if len(phrases) == 0 {
			return nil, fmt.Errorf("category %s: at least one phrase is required", name)
		}
		out[idx] = CategoryPatterns{
			Category: out[idx].Category,
			Patterns: append([]string(nil), phrases...),
		}
	}

	return out, nil
}

// Locale holds the language-specific tokens used for date extraction and
// for the human-readable descriptions written with each finding.
type Locale struct {
	// Date unit markers, accepted in place of "-" or "/" (day marker is a suffix)
	YearMarker  string
	MonthMarker string
	DayMarker   string

	// EventKeywords mark contract milestones next to a date
	EventKeywords []string

	// MilestoneLabel prefixes every key date description
	MilestoneLabel string

	// FindingFormat receives the factor count and the joined factors
	FindingFormat   string
	FactorSeparator string
}

// DefaultLocale returns the Chinese contract locale.
func DefaultLocale() Locale {
	return Locale{
		YearMarker:      "年",
		MonthMarker:     "月",
		DayMarker:       "日",
		EventKeywords:   []string{"付款", "支付", "交付", "完成", "终止", "解除", "验收", "开始", "结束"},
		MilestoneLabel:  "关键时间节点",
		FindingFormat:   "发现%d个风险因素：%s",
		FactorSeparator: "、",
	}
}

// withDefaults fills every empty field from DefaultLocale.
func (l Locale) withDefaults() Locale {
	d := DefaultLocale()
	if l.YearMarker == "" {
		l.YearMarker = d.YearMarker
	}
	if l.MonthMarker == "" {
		l.MonthMarker = d.MonthMarker
	}
	if l.DayMarker == "" {
		l.DayMarker = d.DayMarker
	}
	if len(l.EventKeywords) == 0 {
		l.EventKeywords = d.EventKeywords
	}
	if l.MilestoneLabel == "" {
		l.MilestoneLabel = d.MilestoneLabel
	}
	if l.FindingFormat == "" {
		l.FindingFormat = d.FindingFormat
	}
	if l.FactorSeparator == "" {
		l.FactorSeparator = d.FactorSeparator
	}
	return l
}

// validate rejects a finding format that does not take the factor count and
// then the joined factors.
func (l Locale) validate() error {
	f := l.FindingFormat
	d, s := strings.Index(f, "%d"), strings.Index(f, "%s")
	if strings.Count(f, "%")-strings.Count(f, "%%")*2 != 2 || d < 0 || s < d {
		return fmt.Errorf("invalid finding format %q: want one %%d followed by one %%s", f)
	}
	return nil
}

func (l Locale) describeFinding(factors []string) string {
	return fmt.Sprintf(l.FindingFormat, len(factors), strings.Join(factors, l.FactorSeparator))
}
