package evaluator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// maxRegexLength caps str_matches patterns. Longer patterns fail closed, the
// same as a pattern that does not compile.
const maxRegexLength = 1000

// compare applies one operator. Any panic during comparison is swallowed and
// the condition evaluates to false; a malformed targeting rule must never
// take down evaluation.
func compare(op Operator, value, target any) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			result = false
		}
	}()

	switch op {
	case OpGreaterThan:
		return numericCompare(value, target, func(a, b float64) bool { return a > b })
	case OpGreaterThanOrEqual:
		return numericCompare(value, target, func(a, b float64) bool { return a >= b })
	case OpLessThan:
		return numericCompare(value, target, func(a, b float64) bool { return a < b })
	case OpLessThanOrEqual:
		return numericCompare(value, target, func(a, b float64) bool { return a <= b })

	case OpVersionGreaterThan:
		return versionCompare(value, target, func(c int) bool { return c > 0 })
	case OpVersionGreaterThanOrEqual:
		return versionCompare(value, target, func(c int) bool { return c >= 0 })
	case OpVersionLessThan:
		return versionCompare(value, target, func(c int) bool { return c < 0 })
	case OpVersionLessThanOrEqual:
		return versionCompare(value, target, func(c int) bool { return c <= 0 })
	case OpVersionEqual:
		return versionCompare(value, target, func(c int) bool { return c == 0 })
	case OpVersionNotEqual:
		return versionCompare(value, target, func(c int) bool { return c != 0 })

	case OpAny:
		return matchesAny(value, target, false)
	case OpNone:
		return !matchesAny(value, target, false)
	case OpAnyCaseSensitive:
		return matchesAny(value, target, true)
	case OpNoneCaseSensitive:
		return !matchesAny(value, target, true)

	case OpStrStartsWithAny:
		return stringMatchAny(value, target, strings.HasPrefix)
	case OpStrEndsWithAny:
		return stringMatchAny(value, target, strings.HasSuffix)
	case OpStrContainsAny:
		return stringMatchAny(value, target, strings.Contains)
	case OpStrContainsNone:
		return !stringMatchAny(value, target, strings.Contains)

	case OpStrMatches:
		return regexMatch(value, target)

	case OpEqual:
		return looseEqual(value, target)
	case OpNotEqual:
		return !looseEqual(value, target)

	case OpBefore:
		return timeCompare(value, target, func(a, b time.Time) bool { return a.Before(b) })
	case OpAfter:
		return timeCompare(value, target, func(a, b time.Time) bool { return a.After(b) })
	case OpOnDate:
		return timeCompare(value, target, func(a, b time.Time) bool {
			ay, am, ad := a.UTC().Date()
			by, bm, bd := b.UTC().Date()
			return ay == by && am == bm && ad == bd
		})

	default:
		return false
	}
}

// toNumber coerces JSON-decoded values to float64. Non-numeric operands
// report false, which makes numeric operators fail closed.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func numericCompare(value, target any, cmp func(a, b float64) bool) bool {
	a, ok := toNumber(value)
	if !ok {
		return false
	}
	b, ok := toNumber(target)
	if !ok {
		return false
	}
	return cmp(a, b)
}

// versionCompare compares dotted versions segment by segment. A trailing
// "-suffix" (pre-release tag) is ignored; missing segments count as zero.
func versionCompare(value, target any, cmp func(c int) bool) bool {
	a, ok := versionParts(value)
	if !ok {
		return false
	}
	b, ok := versionParts(target)
	if !ok {
		return false
	}
	n := max(len(a), len(b))
	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		if av != bv {
			if av > bv {
				return cmp(1)
			}
			return cmp(-1)
		}
	}
	return cmp(0)
}

func versionParts(v any) ([]int, bool) {
	s := toString(v)
	if s == "" {
		return nil, false
	}
	if idx := strings.IndexByte(s, '-'); idx >= 0 {
		s = s[:idx]
	}
	segs := strings.Split(s, ".")
	parts := make([]int, 0, len(segs))
	for _, seg := range segs {
		n, err := strconv.Atoi(strings.TrimSpace(seg))
		if err != nil {
			return nil, false
		}
		parts = append(parts, n)
	}
	return parts, true
}

// matchesAny reports whether value equals any element of the target array.
// Numbers compare numerically so 2 matches 2.0; strings compare
// case-insensitively unless caseSensitive is set.
func matchesAny(value, target any, caseSensitive bool) bool {
	for _, t := range targetSlice(target) {
		if av, ok := toNumber(value); ok {
			if bv, ok := toNumber(t); ok && av == bv {
				return true
			}
			continue
		}
		a, b := toString(value), toString(t)
		if caseSensitive {
			if a == b {
				return true
			}
		} else if strings.EqualFold(a, b) {
			return true
		}
	}
	return false
}

func stringMatchAny(value, target any, match func(s, sub string) bool) bool {
	s := strings.ToLower(toString(value))
	if s == "" {
		return false
	}
	for _, t := range targetSlice(target) {
		sub := strings.ToLower(toString(t))
		if sub != "" && match(s, sub) {
			return true
		}
	}
	return false
}

func regexMatch(value, target any) bool {
	pattern := toString(target)
	if pattern == "" || len(pattern) > maxRegexLength {
		return false
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(toString(value))
}

func looseEqual(value, target any) bool {
	if value == nil || target == nil {
		return value == nil && target == nil
	}
	if av, ok := toNumber(value); ok {
		if bv, ok := toNumber(target); ok {
			return av == bv
		}
	}
	return toString(value) == toString(target)
}

// timeCompare accepts either ISO-8601 strings or epoch numbers (seconds or
// milliseconds) on both sides.
func timeCompare(value, target any, cmp func(a, b time.Time) bool) bool {
	a, ok := toTime(value)
	if !ok {
		return false
	}
	b, ok := toTime(target)
	if !ok {
		return false
	}
	return cmp(a, b)
}

func toTime(v any) (time.Time, bool) {
	if n, ok := toNumber(v); ok {
		// Heuristic: epoch values past the year 33658 in seconds are
		// actually milliseconds.
		if n > 1e12 {
			return time.UnixMilli(int64(n)), true
		}
		return time.Unix(int64(n), 0), true
	}
	s := toString(v)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func targetSlice(target any) []any {
	switch t := target.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case nil:
		return nil
	default:
		return []any{t}
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func nowEpochMillis() float64 {
	return float64(time.Now().UnixMilli())
}
