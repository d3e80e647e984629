package evaluator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumericOperators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		op     Operator
		value  any
		target any
		want   bool
	}{
		{name: "GtPass", op: OpGreaterThan, value: 5.0, target: 3.0, want: true},
		{name: "GtFail", op: OpGreaterThan, value: 3.0, target: 5.0, want: false},
		{name: "GtEqualFails", op: OpGreaterThan, value: 5.0, target: 5.0, want: false},
		{name: "GtePassOnEqual", op: OpGreaterThanOrEqual, value: 5.0, target: 5.0, want: true},
		{name: "LtPass", op: OpLessThan, value: 3.0, target: 5.0, want: true},
		{name: "LtePassOnEqual", op: OpLessThanOrEqual, value: 5.0, target: 5.0, want: true},
		{name: "StringOperandCoerced", op: OpGreaterThan, value: "10", target: "9", want: true},
		{name: "NonNumericFailsClosed", op: OpGreaterThan, value: "abc", target: 1.0, want: false},
		{name: "NilFailsClosed", op: OpLessThan, value: nil, target: 1.0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, compare(tt.op, tt.value, tt.target))
		})
	}
}

func TestVersionOperators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		op     Operator
		value  any
		target any
		want   bool
	}{
		{name: "Greater", op: OpVersionGreaterThan, value: "1.2.3", target: "1.2.2", want: true},
		{name: "MissingSegmentsAreZero", op: OpVersionEqual, value: "1.2", target: "1.2.0", want: true},
		{name: "SuffixStripped", op: OpVersionEqual, value: "1.2.3-beta.1", target: "1.2.3", want: true},
		{name: "LessAcrossSegmentCount", op: OpVersionLessThan, value: "1.2", target: "1.2.1", want: true},
		{name: "NotEqual", op: OpVersionNotEqual, value: "2.0.0", target: "1.9.9", want: true},
		{name: "MalformedFailsClosed", op: OpVersionGreaterThan, value: "abc", target: "1.0", want: false},
		{name: "EmptyFailsClosed", op: OpVersionEqual, value: "", target: "1.0", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, compare(tt.op, tt.value, tt.target))
		})
	}
}

func TestMembershipOperators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		op     Operator
		value  any
		target any
		want   bool
	}{
		{name: "AnyCaseInsensitive", op: OpAny, value: "US", target: []any{"us", "de"}, want: true},
		{name: "AnyMiss", op: OpAny, value: "FR", target: []any{"us", "de"}, want: false},
		{name: "AnyNumeric", op: OpAny, value: 2.0, target: []any{1.0, 2.0}, want: true},
		{name: "AnyScalarTarget", op: OpAny, value: "de", target: "DE", want: true},
		{name: "NoneInverts", op: OpNone, value: "FR", target: []any{"us", "de"}, want: true},
		{name: "AnyCaseSensitiveExact", op: OpAnyCaseSensitive, value: "US", target: []any{"US"}, want: true},
		{name: "AnyCaseSensitiveMiss", op: OpAnyCaseSensitive, value: "US", target: []any{"us"}, want: false},
		{name: "NilTarget", op: OpAny, value: "US", target: nil, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, compare(tt.op, tt.value, tt.target))
		})
	}
}

func TestStringOperators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		op     Operator
		value  any
		target any
		want   bool
	}{
		{name: "StartsWith", op: OpStrStartsWithAny, value: "prod-eu-1", target: []any{"prod-"}, want: true},
		{name: "StartsWithCaseInsensitive", op: OpStrStartsWithAny, value: "Prod-EU-1", target: []any{"prod-"}, want: true},
		{name: "EndsWith", op: OpStrEndsWithAny, value: "a@corp.com", target: []any{"@corp.com"}, want: true},
		{name: "Contains", op: OpStrContainsAny, value: "abcdef", target: []any{"cde"}, want: true},
		{name: "ContainsNone", op: OpStrContainsNone, value: "abcdef", target: []any{"xyz"}, want: true},
		{name: "EmptyValueFails", op: OpStrContainsAny, value: "", target: []any{"a"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, compare(tt.op, tt.value, tt.target))
		})
	}
}

func TestRegexOperator(t *testing.T) {
	t.Parallel()

	t.Run("Match", func(t *testing.T) {
		t.Parallel()
		assert.True(t, compare(OpStrMatches, "v1.2.3", `^v\d+\.\d+\.\d+$`))
	})

	t.Run("NoMatch", func(t *testing.T) {
		t.Parallel()
		assert.False(t, compare(OpStrMatches, "abc", `^\d+$`))
	})

	t.Run("InvalidPatternFailsClosed", func(t *testing.T) {
		t.Parallel()
		assert.False(t, compare(OpStrMatches, "abc", "("))
	})

	t.Run("OversizedPatternFailsClosed", func(t *testing.T) {
		t.Parallel()
		pattern := strings.Repeat("a", maxRegexLength+1)
		assert.False(t, compare(OpStrMatches, strings.Repeat("a", 10), pattern))
	})
}

func TestEqualityOperators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		op     Operator
		value  any
		target any
		want   bool
	}{
		{name: "StringEqual", op: OpEqual, value: "a", target: "a", want: true},
		{name: "NumericCrossType", op: OpEqual, value: 2.0, target: "2", want: true},
		{name: "BothNil", op: OpEqual, value: nil, target: nil, want: true},
		{name: "OneNil", op: OpEqual, value: "a", target: nil, want: false},
		{name: "NotEqual", op: OpNotEqual, value: "a", target: "b", want: true},
		{name: "BoolStringified", op: OpEqual, value: true, target: "true", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, compare(tt.op, tt.value, tt.target))
		})
	}
}

func TestTimeOperators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		op     Operator
		value  any
		target any
		want   bool
	}{
		{name: "BeforeEpochSeconds", op: OpBefore, value: 1000.0, target: 2000.0, want: true},
		{name: "AfterEpochMillis", op: OpAfter, value: 1.7e15, target: 1.6e15, want: true},
		{name: "BeforeISO", op: OpBefore, value: "2024-01-01", target: "2025-01-01", want: true},
		{name: "OnSameDate", op: OpOnDate, value: "2024-06-15T10:00:00Z", target: "2024-06-15T23:00:00Z", want: true},
		{name: "OnDifferentDate", op: OpOnDate, value: "2024-06-15", target: "2024-06-16", want: false},
		{name: "UnparseableFailsClosed", op: OpBefore, value: "yesterday", target: "2025-01-01", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, compare(tt.op, tt.value, tt.target))
		})
	}
}

func TestUnknownOperatorFailsClosed(t *testing.T) {
	t.Parallel()
	assert.False(t, compare(OpUnknown, "a", "a"))
	assert.False(t, compare(parseOperator("brand_new_op"), "a", "a"))
}
