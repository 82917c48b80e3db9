package transform

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// numericPrefix matches the leading decimal number of a string, so "1.5m"
// reads as 1.5.
var numericPrefix = regexp.MustCompile(`^[+-]?(?:Infinity|(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?)`)

// ToFloat coerces a raw payload value to float64. Strings are read up to the
// end of their leading number. Missing, null, empty, boolean and non-numeric
// values all become 0, as do infinities.
func ToFloat(v any) float64 {
	switch x := v.(type) {
	case nil, bool:
		return 0
	case string:
		prefix := numericPrefix.FindString(strings.TrimSpace(x))
		if prefix == "" {
			return 0
		}
		v = prefix
	case json.Number:
		v = x.String()
	}

	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// truthy reports whether a payload value counts as present: not null, not
// an empty string, not false and not a zero number.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case json.Number:
		return x.String() != "" && x.String() != "0"
	default:
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return true
		}
		return f != 0
	}
}

// text renders a scalar payload value as a string.
func text(v any) string {
	if v == nil {
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// millisThreshold separates epoch seconds from epoch milliseconds.
const millisThreshold = 1e11

// ParseTimestamp interprets a raw timestamp value: strings in the common
// layouts accepted by cast, or epoch seconds/milliseconds. Zone-less strings
// are read in loc.
func ParseTimestamp(v any, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}

	switch x := v.(type) {
	case nil:
		return time.Time{}, false
	case float64:
		return fromEpoch(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpoch(f)
	case string:
		x = strings.TrimSpace(x)
		if x == "" {
			return time.Time{}, false
		}
		if f, err := cast.ToFloat64E(x); err == nil {
			return fromEpoch(f)
		}
		t, err := cast.ToTimeInDefaultLocationE(x, loc)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}

	t, err := cast.ToTimeInDefaultLocationE(v, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func fromEpoch(f float64) (time.Time, bool) {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	if f >= millisThreshold {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

// isoLayout matches the millisecond UTC form used by the dashboard.
const isoLayout = "2006-01-02T15:04:05.000Z"

// FormatISO renders t as an ISO-8601 UTC timestamp with millisecond precision.
func FormatISO(t time.Time) string {
	return t.UTC().Format(isoLayout)
}
