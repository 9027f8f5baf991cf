// Package timestamp recognizes timestamps in log text and JSON fields.
package timestamp

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Result is the outcome of ParseFromText.
type Result struct {
	Timestamp time.Time
	Found     bool
	// Remaining is the text after the timestamp, or the input when none was found.
	Remaining string
}

type pattern struct {
	re    *regexp.Regexp
	parse func(match string, now time.Time) (time.Time, bool)
}

// Parser recognizes leading timestamps. It is safe for concurrent use.
type Parser struct {
	patterns []pattern
	now      func() time.Time
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
}

var leadingSeverity = regexp.MustCompile(`(?i)^\[?(TRACE|DEBUG|INFO|WARNING|WARN|ERROR|FATAL|CRITICAL)\b\]?:?\s*`)

// NewParser creates a parser for ISO 8601, syslog, and time-of-day prefixes.
func NewParser() *Parser {
	return &Parser{
		now: time.Now,
		patterns: []pattern{
			{
				re:    regexp.MustCompile(`^\[?(\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}:?\d{2})?)\]?\s*`),
				parse: func(m string, _ time.Time) (time.Time, bool) { return parseISO(m) },
			},
			{
				re: regexp.MustCompile(`^([A-Z][a-z]{2}\s+\d{1,2} \d{2}:\d{2}:\d{2})\s*`),
				parse: func(m string, now time.Time) (time.Time, bool) {
					ts, err := time.Parse("Jan 2 15:04:05", strings.Join(strings.Fields(m), " "))
					if err != nil {
						return time.Time{}, false
					}
					return ts.AddDate(now.Year(), 0, 0), true
				},
			},
			{
				re: regexp.MustCompile(`^(\d{2}:\d{2}:\d{2}(?:[.,]\d+)?)\s+`),
				parse: func(m string, now time.Time) (time.Time, bool) {
					ts, err := time.Parse("15:04:05.999999999", strings.Replace(m, ",", ".", 1))
					if err != nil {
						return time.Time{}, false
					}
					y, mo, d := now.UTC().Date()
					return ts.AddDate(y, int(mo)-1, d-1), true
				},
			},
		},
	}
}

// ParseFromText looks for a timestamp at the start of text.
func (p *Parser) ParseFromText(text string) Result {
	now := p.now()
	for _, pat := range p.patterns {
		loc := pat.re.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		ts, ok := pat.parse(text[loc[2]:loc[3]], now)
		if !ok {
			continue
		}
		return Result{Timestamp: ts, Found: true, Remaining: text[loc[1]:]}
	}
	return Result{Remaining: text}
}

// ExtractLogMessage strips a leading timestamp and severity token.
func (p *Parser) ExtractLogMessage(text string) string {
	rest := p.ParseFromText(text).Remaining
	if msg := leadingSeverity.ReplaceAllString(rest, ""); msg != "" {
		return msg
	}
	return text
}

// ParseTimestamp interprets a JSON field value as a timestamp. Strings may be
// ISO 8601 or numeric; numbers are Unix time in s, ms, us, or ns by magnitude.
func (p *Parser) ParseTimestamp(v any) (time.Time, bool) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		if ts, ok := parseISO(s); ok {
			return ts, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromUnix(f)
		}
		return time.Time{}, false
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromUnix(f)
	case float64:
		return fromUnix(x)
	case int:
		return fromUnix(float64(x))
	case int64:
		return fromUnix(float64(x))
	case time.Time:
		return x, !x.IsZero()
	}
	return time.Time{}, false
}

func parseISO(s string) (time.Time, bool) {
	s = strings.Replace(s, ",", ".", 1)
	if len(s) > 10 && s[10] == ' ' {
		s = s[:10] + "T" + s[11:]
	}
	for _, layout := range isoLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func fromUnix(v float64) (time.Time, bool) {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return time.Time{}, false
	}
	switch {
	case v < 1e11:
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	case v < 1e14:
		return time.UnixMilli(int64(v)).UTC(), true
	case v < 1e17:
		return time.UnixMicro(int64(v)).UTC(), true
	default:
		return time.Unix(0, int64(v)).UTC(), true
	}
}
