package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		err  error
	}{
		{in: "750", want: 75000},
		{in: "12.5", want: 1250},
		{in: "0.01", want: 1},
		{in: " 1000.00 ", want: 100000},
		{in: "1.005", err: ErrTooManyDecimals},
		{in: "abc", err: ErrInvalidAmount},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if tc.err != nil {
			assert.ErrorIs(t, err, tc.err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "750.00", Format(75000))
	assert.Equal(t, "-0.50", Format(-50))
}

func TestApplyRate(t *testing.T) {
	assert.Equal(t, int64(11000), ApplyRate(100000, decimal.RequireFromString("0.11")))
	// 333 * 0.15 = 49.95 -> 50
	assert.Equal(t, int64(50), ApplyRate(333, decimal.RequireFromString("0.15")))
	assert.Equal(t, int64(0), ApplyRate(100000, decimal.Zero))
}

func TestParseRate(t *testing.T) {
	rate, err := ParseRate("0.11")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.11")))

	rate, err = ParseRate("")
	require.NoError(t, err)
	assert.True(t, rate.IsZero())

	_, err = ParseRate("1")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = ParseRate("-0.1")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
