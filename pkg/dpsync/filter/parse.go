package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Duration constants for calendar-style suffixes.
const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day
	Year  = 365 * Day
)

// ErrInvalidDuration indicates that the duration string could not be parsed.
var ErrInvalidDuration = errors.New("invalid duration format")

// ErrNegativeValue indicates that a negative value was provided.
var ErrNegativeValue = errors.New("value cannot be negative")

var durationPattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*(d|w|mo|y)\s*$`)

// ParseDuration parses schedule intervals and retention windows. It accepts
// "1d", "2w", "3mo", "1y" and anything time.ParseDuration understands.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidDuration)
	}
	if strings.HasPrefix(s, "-") {
		return 0, ErrNegativeValue
	}

	matches := durationPattern.FindStringSubmatch(s)
	if matches == nil {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		return d, nil
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}

	var unit time.Duration
	switch strings.ToLower(matches[2]) {
	case "d":
		unit = Day
	case "w":
		unit = Week
	case "mo":
		unit = Month
	case "y":
		unit = Year
	}
	return time.Duration(value * float64(unit)), nil
}

// ParseRule parses a compact rule expression such as "rating>=7",
// "genre in drama,comedy", "title glob *star*" or "language exists".
func ParseRule(expr string) (Rule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Rule{}, ErrMissingAttribute
	}

	for _, sym := range []string{">=", "<=", "!=", "==", "=", ">", "<", "~"} {
		if idx := strings.Index(expr, sym); idx > 0 {
			op, _ := ParseOperator(sym)
			r := Rule{
				Attribute: strings.TrimSpace(expr[:idx]),
				Operator:  op,
				Value:     strings.TrimSpace(expr[idx+len(sym):]),
			}
			return r, r.Validate()
		}
	}

	fields := strings.Fields(expr)
	switch {
	case len(fields) == 2 && strings.EqualFold(fields[1], string(OpExists)):
		return Rule{Attribute: fields[0], Operator: OpExists}, nil
	case len(fields) >= 3:
		op, err := ParseOperator(fields[1])
		if err != nil {
			return Rule{}, err
		}
		r := Rule{Attribute: fields[0], Operator: op, Value: strings.Join(fields[2:], " ")}
		return r, r.Validate()
	}
	return Rule{}, fmt.Errorf("%w: %q", ErrInvalidOperator, expr)
}
