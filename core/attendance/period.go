package attendance

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Granularity is the size of the period an attendance mark is deduplicated over.
type Granularity string

const (
	Day  Granularity = "day"
	Week Granularity = "week"
)

var ErrInvalidGranularity = errors.New("granularity must be one of: day, week")

func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case Day, Week:
		return g, nil
	default:
		return "", ErrInvalidGranularity
	}
}

func (g Granularity) IsValid() bool {
	return g == Day || g == Week
}

// PeriodKey returns the key of the period holding t. Periods are computed in UTC.
//
//	Day:  "2006-01-02"
//	Week: "{year}-W{n}", weeks run from Saturday to Friday and week 1 holds Jan 1.
//
// Week numbers are not ISO-8601 weeks.
func PeriodKey(t time.Time, g Granularity) (string, error) {
	t = t.UTC()
	switch g {
	case Day:
		return t.Format("2006-01-02"), nil
	case Week:
		return fmt.Sprintf("%d-W%d", t.Year(), weekNumber(t)), nil
	default:
		return "", ErrInvalidGranularity
	}
}

func weekNumber(t time.Time) int {
	jan1 := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	daysSinceJan1 := t.YearDay() - 1
	return (daysSinceJan1+int(jan1.Weekday())+1)/7 + 1
}
