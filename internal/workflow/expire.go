package workflow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/davarch/ci-orchestrator/internal/domain"
)

const day = 24 * time.Hour

var durationPart = regexp.MustCompile(`(\d+)\s*([a-zA-Z]*)`)

var durationUnits = map[string]time.Duration{
	"": time.Second, "s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": day, "day": day, "days": day,
	"w": 7 * day, "wk": 7 * day, "week": 7 * day, "weeks": 7 * day,
	"mo": 30 * day, "mos": 30 * day, "month": 30 * day, "months": 30 * day,
	"y": 365 * day, "yr": 365 * day, "yrs": 365 * day, "year": 365 * day, "years": 365 * day,
}

// ParseExpireIn parses GitLab duration strings such as "1 year",
// "2 hrs 20 min", "3 weeks and 2 days" or "never". "never" returns
// domain.KeepForever; an empty string returns zero.
func ParseExpireIn(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return 0, nil
	case "never":
		return domain.KeepForever, nil
	}

	rest := strings.ReplaceAll(s, "and", " ")
	matches := durationPart.FindAllStringSubmatchIndex(rest, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	var total time.Duration
	consumed := 0
	for _, m := range matches {
		if strings.TrimSpace(rest[consumed:m[0]]) != "" {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		n, err := strconv.Atoi(rest[m[2]:m[3]])
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		unit, ok := durationUnits[rest[m[4]:m[5]]]
		if !ok {
			return 0, fmt.Errorf("invalid duration %q: unknown unit %q", s, rest[m[4]:m[5]])
		}
		total += time.Duration(n) * unit
		consumed = m[1]
	}
	if strings.TrimSpace(rest[consumed:]) != "" {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return total, nil
}
