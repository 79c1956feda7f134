// Package retryafter converts an HTTP Retry-After header value into a wait
// duration suitable for feeding straight into a limiter backoff.
package retryafter

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Fallback is returned for values that are neither delay-seconds nor an
// HTTP-date, including the empty string.
const Fallback = 30 * time.Second

const maxSeconds = uint64(math.MaxInt64 / int64(time.Second))

// Parse interprets value relative to the current wall-clock time.
func Parse(value string) time.Duration {
	return ParseAt(value, time.Now())
}

// ParseAt interprets value relative to now. It never fails: integer seconds
// are returned as-is (saturating at the largest representable duration), a
// date in the past yields zero, and anything unparseable yields Fallback.
func ParseAt(value string, now time.Time) time.Duration {
	v := strings.TrimSpace(value)

	if secs, err := strconv.ParseUint(v, 10, 64); err == nil {
		if secs > maxSeconds {
			secs = maxSeconds
		}
		return time.Duration(secs) * time.Second
	}

	// http.ParseTime accepts IMF-fixdate, RFC 850 and asctime formats.
	if date, err := http.ParseTime(v); err == nil {
		if d := date.Sub(now); d > 0 {
			return d
		}
		return 0
	}

	return Fallback
}
