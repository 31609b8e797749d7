package analysis

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/conrisk/internal/domain"
)

var digitRuns = regexp.MustCompile(`\d+`)

// DateExtractor finds dates written next to milestone keywords.
//
// Two passes run over the same text, date-then-keyword and keyword-then-date.
// A phrase that satisfies both orderings is reported twice.
type DateExtractor struct {
	passes []*regexp.Regexp
	label  string
}

// NewDateExtractor compiles the extraction passes for a locale.
func NewDateExtractor(l Locale) (*DateExtractor, error) {
	keywords := alternation(l.EventKeywords...)
	if keywords == "" {
		return nil, errors.New("at least one event keyword is required")
	}

	date := `\d{4}` + alternation("-", "/", l.YearMarker) +
		`\d{1,2}` + alternation("-", "/", l.MonthMarker) +
		`\d{1,2}`
	if l.DayMarker != "" {
		date += `(?:` + regexp.QuoteMeta(l.DayMarker) + `)?`
	}

	dateFirst, err := regexp.Compile(`(` + date + `).*?` + keywords)
	if err != nil {
		return nil, fmt.Errorf("failed to compile date pattern: %w", err)
	}
	keywordFirst, err := regexp.Compile(keywords + `.*?(` + date + `)`)
	if err != nil {
		return nil, fmt.Errorf("failed to compile date pattern: %w", err)
	}

	return &DateExtractor{
		passes: []*regexp.Regexp{dateFirst, keywordFirst},
		label:  l.MilestoneLabel,
	}, nil
}

// Extract returns key date events in scan order: every match of the first
// pass, then every match of the second. ContractID is left empty.
func (x *DateExtractor) Extract(content string) []domain.KeyDateEvent {
	var events []domain.KeyDateEvent

	for _, re := range x.passes {
		for _, m := range re.FindAllStringSubmatch(content, -1) {
			token := m[1]
			date, ok := NormalizeDate(token)
			if !ok {
				continue
			}
			phrase := strings.TrimSpace(strings.Replace(m[0], token, "", 1))
			events = append(events, domain.KeyDateEvent{
				Date:        date,
				Description: x.label + ": " + phrase,
			})
		}
	}

	return events
}

// NormalizeDate converts a matched date token such as "2024年3月5日" or
// "2024/3/5" to "2024-03-05". It fails for tokens that do not hold exactly
// three numbers or that name a day the calendar does not have.
func NormalizeDate(token string) (string, bool) {
	parts := digitRuns.FindAllString(token, -1)
	if len(parts) != 3 || len(parts[0]) != 4 {
		return "", false
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", false
		}
		nums[i] = n
	}
	year, month, day := nums[0], nums[1], nums[2]

	if month < 1 || month > 12 || day < 1 {
		return "", false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return "", false
	}

	return t.Format("2006-01-02"), true
}

func alternation(tokens ...string) string {
	quoted := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			quoted = append(quoted, regexp.QuoteMeta(t))
		}
	}
	if len(quoted) == 0 {
		return ""
	}
	return `(?:` + strings.Join(quoted, "|") + `)`
}
