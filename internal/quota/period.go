package quota

import (
	"fmt"
	"strings"
	"time"
)

// Period is the rolling window length of a hard limit.
type Period int

const (
	Minute Period = iota + 1
	Hour
	Day
	Month
	Year
)

// Month and Year use the mean Gregorian lengths.
const (
	yearDuration  = 31556952 * time.Second // 365.2425 days
	monthDuration = yearDuration / 12
)

// Duration returns the fixed length of the period, or zero for an unknown period.
func (p Period) Duration() time.Duration {
	switch p {
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	case Month:
		return monthDuration
	case Year:
		return yearDuration
	default:
		return 0
	}
}

// Valid reports whether p is one of the defined periods.
func (p Period) Valid() bool {
	return p >= Minute && p <= Year
}

func (p Period) String() string {
	switch p {
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case Day:
		return "day"
	case Month:
		return "month"
	case Year:
		return "year"
	default:
		return fmt.Sprintf("period(%d)", int(p))
	}
}

// ParsePeriod accepts the period names case-insensitively.
func ParsePeriod(s string) (Period, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minute":
		return Minute, nil
	case "hour":
		return Hour, nil
	case "day":
		return Day, nil
	case "month":
		return Month, nil
	case "year":
		return Year, nil
	default:
		return 0, fmt.Errorf("unknown period %q, must be one of: minute, hour, day, month, year", s)
	}
}

func (p Period) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid period %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Period) UnmarshalText(text []byte) error {
	parsed, err := ParsePeriod(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
