package transformer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SupportedDateFormats is quoted in rejection messages.
const SupportedDateFormats = "ISO 8601, DD/MM/YY[YY] HH:mm[:ss], DD-MM-YY[YY] HH:mm[:ss], " +
	"YYYY-MM-DD HH:mm[:ss], YYYY/MM/DD[ HH:mm[:ss]], MM/DD/YYYY HH:mm[:ss]"

const (
	minYear = 1900
	maxYear = 2100
)

// isoLayouts are tried first, in order.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

type fieldOrder int

const (
	dayMonthYear fieldOrder = iota
	yearMonthDay
	monthDayYear
)

// dateRule is one numeric date shape. Submatches are the three date parts in
// 'order' followed by optional hour, minute, second.
type dateRule struct {
	re           *regexp.Regexp
	order        fieldOrder
	twoDigitYear bool
}

var dateRules = []dateRule{
	{regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4}|\d{2})\s+(\d{1,2}):(\d{1,2})(?::(\d{1,2}))?$`), dayMonthYear, true},
	{regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{4}|\d{2})\s+(\d{1,2}):(\d{1,2})(?::(\d{1,2}))?$`), dayMonthYear, true},
	{regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})\s+(\d{1,2}):(\d{1,2})(?::(\d{1,2}))?$`), yearMonthDay, false},
	{regexp.MustCompile(`^(\d{4})/(\d{1,2})/(\d{1,2})(?:\s+(\d{1,2}):(\d{1,2})(?::(\d{1,2}))?)?$`), yearMonthDay, false},
	{regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})\s+(\d{1,2}):(\d{1,2})(?::(\d{1,2}))?$`), monthDayYear, false},
}

// ParseTransactionDate parses s with the first supported format that yields a
// real calendar date and returns it in UTC. Years outside 1900..2100 are
// rejected.
func ParseTransactionDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	t, ok := parseISO(s)
	if !ok {
		for _, rule := range dateRules {
			if t, ok = rule.parse(s); ok {
				break
			}
		}
	}
	if !ok {
		return time.Time{}, fmt.Errorf("Invalid date format: %s. Supported formats: %s", s, SupportedDateFormats)
	}
	if y := t.Year(); y < minYear || y > maxYear {
		return time.Time{}, fmt.Errorf("Invalid date year: %d (from: %s)", y, s)
	}
	return t, nil
}

func parseISO(s string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func (r dateRule) parse(s string) (time.Time, bool) {
	m := r.re.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}

	var day, month, year int
	a, b, c := atoi(m[1]), atoi(m[2]), atoi(m[3])
	switch r.order {
	case dayMonthYear:
		day, month, year = a, b, c
	case yearMonthDay:
		year, month, day = a, b, c
	case monthDayYear:
		month, day, year = a, b, c
	}
	if r.twoDigitYear && len(m[3]) == 2 {
		year += 2000
	}
	hour, minute, second := atoi(m[4]), atoi(m[5]), atoi(m[6])

	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	if hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, false
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
	// time.Date normalizes overflow (Feb 30 -> Mar 2); a mismatch means the
	// digits did not name a real date.
	if t.Day() != day || int(t.Month()) != month || t.Year() != year {
		return time.Time{}, false
	}
	return t, true
}

// atoi returns 0 for an empty optional submatch.
func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}
