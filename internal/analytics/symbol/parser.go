// Package symbol extracts strike, expiry and call/put flag from venue contract symbols
// such as "BTC-27DEC24-100000-C" or "ETH-20250627-3500-P".
package symbol

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"optionsmetrics/internal/domain/options"
)

// Identifier is the parse result. Nil fields could not be resolved.
type Identifier struct {
	Strike *float64
	Expiry *time.Time
	Type   options.OptionType
}

var (
	numberRe  = regexp.MustCompile(`\d+\.?\d*`)
	isoDateRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	compactRe = regexp.MustCompile(`\d{8}`)
	monthRe   = regexp.MustCompile(`(\d{1,2})([A-Za-z]{3})(\d{2,4})`)
	suffixRe  = regexp.MustCompile(`\d([CP])$`)

	months = map[string]time.Month{
		"JAN": time.January, "FEB": time.February, "MAR": time.March,
		"APR": time.April, "MAY": time.May, "JUN": time.June,
		"JUL": time.July, "AUG": time.August, "SEP": time.September,
		"OCT": time.October, "NOV": time.November, "DEC": time.December,
	}
)

// Parse never fails; unresolvable parts are left nil / Unknown
func Parse(sym string) Identifier {
	var id Identifier
	sym = strings.TrimSpace(sym)
	if sym == "" {
		return id
	}

	id.Type = parseType(sym)

	expiry, dateToken := parseExpiry(sym)
	id.Expiry = expiry
	id.Strike = parseStrike(sym, dateToken)

	return id
}

func parseType(sym string) options.OptionType {
	upper := strings.ToUpper(sym)
	for _, seg := range strings.Split(upper, "-") {
		switch seg {
		case "C":
			return options.Call
		case "P":
			return options.Put
		}
	}
	if m := suffixRe.FindStringSubmatch(upper); m != nil {
		return options.OptionType(m[1])
	}
	return options.Unknown
}

// parseExpiry returns the expiry and the raw token it was read from
func parseExpiry(sym string) (*time.Time, string) {
	if tok := isoDateRe.FindString(sym); tok != "" {
		if t, err := time.Parse("2006-01-02", tok); err == nil {
			return &t, tok
		}
	}
	if tok := compactRe.FindString(sym); tok != "" {
		if t, err := time.Parse("20060102", tok); err == nil {
			return &t, tok
		}
	}
	m := monthRe.FindStringSubmatch(sym)
	if m == nil {
		return nil, ""
	}
	month, ok := months[strings.ToUpper(m[2])]
	if !ok {
		return nil, ""
	}
	day, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[3])
	if year < 100 {
		year += 2000
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	// time.Date normalises 31FEB into March; reject instead
	if t.Day() != day || t.Month() != month {
		return nil, ""
	}
	return &t, m[0]
}

// parseStrike prefers the last numeric token that looks like a strike
// (at least 4 digits or above 1000), else the last numeric token.
// Digits belonging to the expiry token are not candidates.
func parseStrike(sym, dateToken string) *float64 {
	if dateToken != "" {
		sym = strings.Replace(sym, dateToken, "-", 1)
	}
	tokens := numberRe.FindAllString(sym, -1)
	if len(tokens) == 0 {
		return nil
	}

	chosen := ""
	for i := len(tokens) - 1; i >= 0; i-- {
		tok := tokens[i]
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			continue
		}
		if len(strings.TrimSuffix(tok, ".")) >= 4 || v > 1000 {
			chosen = tok
			break
		}
	}
	if chosen == "" {
		chosen = tokens[len(tokens)-1]
	}

	v, err := strconv.ParseFloat(strings.TrimSuffix(chosen, "."), 64)
	if err != nil {
		return nil
	}
	return &v
}

// ExpiryFromDeliveryTime reads venue delivery metadata: epoch seconds or
// milliseconds, or an ISO-8601 style timestamp. The result is truncated to the UTC date.
func ExpiryFromDeliveryTime(v string) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}

	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		var t time.Time
		if n > 1e12 {
			t = time.UnixMilli(n).UTC()
		} else {
			t = time.Unix(n, 0).UTC()
		}
		d := truncateDay(t)
		return &d
	}

	s := strings.TrimSuffix(v, "Z")
	for _, layout := range []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			d := truncateDay(t)
			return &d
		}
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		d := truncateDay(t.UTC())
		return &d
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
