package helpers

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses a duration string like time.ParseDuration, with an
// additional "d" suffix for days (e.g. "7d", "1.5d"). Config files use day
// granularity for stickiness and lease retention settings.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if strings.HasSuffix(s, "d") && !strings.HasSuffix(s, "nd") {
		days, err := strconv.ParseFloat(strings.TrimSuffix(s, "d"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid day duration %q: %w", s, err)
		}
		return time.Duration(days * float64(24*time.Hour)), nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}
