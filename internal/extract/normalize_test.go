package extract

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/competitor-price-intel/internal/pricing"
)

func TestNormalizeAccepts(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "£1,299.50", want: "1299.50"},
		{raw: "GBP 29.99", want: "29.99"},
		{raw: "1.299,50 €", want: "1299.50"},
		{raw: "29,99", want: "29.99"},
		{raw: "1,299", want: "1299.00"},
		{raw: "0,500", want: "0.50"},
		{raw: "$ 1 299.00", want: "1299.00"},
		{raw: "1'299.95 Fr.", want: "1299.95"},
		{raw: "12.3456", want: "12.35"},
		{raw: "4.5", want: "4.50"},
		{raw: "0.01", want: "0.01"},
		{raw: "999999.99", want: "999999.99"},
		{raw: "Rs.1,299", want: "1299.00"},
		{raw: "12,50 kr.", want: "12.50"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Normalize(tt.raw)
			require.NoError(t, err)
			require.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

func TestNormalizeRejects(t *testing.T) {
	for _, raw := range []string{
		"",
		"abc",
		"0.00",
		"0.004",
		"0.005",
		"0.009",
		"999999.991",
		"1000000.00",
		"-5.00",
		"£-5",
		"−12.00",
		"1.2.3,4,5",
	} {
		t.Run(raw, func(t *testing.T) {
			_, err := Normalize(raw)
			require.Error(t, err)
			require.True(t, errors.Is(err, pricing.ErrValidationRejected))
		})
	}
}

func TestNormalizeRoundTrip(t *testing.T) {
	for _, s := range []string{"0.01", "8.50", "10.00", "29.99", "1299.50", "999999.99"} {
		v := decimal.RequireFromString(s)
		got, err := Normalize(v.StringFixed(2))
		require.NoError(t, err)
		require.True(t, v.Equal(got), "round trip of %s gave %s", s, got)
	}
}

func TestNormalizerCustomBounds(t *testing.T) {
	n := Normalizer{Min: decimal.NewFromInt(1), Max: decimal.NewFromInt(100)}

	_, err := n.Normalize("0.50")
	require.ErrorIs(t, err, pricing.ErrValidationRejected)
	_, err = n.Normalize("150")
	require.ErrorIs(t, err, pricing.ErrValidationRejected)

	got, err := n.Normalize("£100")
	require.NoError(t, err)
	require.Equal(t, "100.00", got.StringFixed(2))

	wide := Normalizer{Min: DefaultMinPrice, Max: decimal.NewFromInt(10_000_000)}
	got, err = wide.Normalize("1.234.567")
	require.NoError(t, err)
	require.Equal(t, "1234567.00", got.StringFixed(2))
}

func TestNormalizerValidate(t *testing.T) {
	valid, rejected := DefaultNormalizer().Validate([]pricing.PriceCandidate{
		{Raw: "£10.00", Strategy: "markup"},
		{Raw: "£0.00", Strategy: "markup"},
		{Raw: "call us", Strategy: "markup"},
	})

	require.Len(t, valid, 1)
	require.Equal(t, "10.00", valid[0].Value.StringFixed(2))
	require.Equal(t, "markup", valid[0].Strategy)
	require.Len(t, rejected, 2)
	require.Equal(t, "£0.00", rejected[0].Candidate.Raw)
	require.ErrorIs(t, rejected[1].Err, pricing.ErrValidationRejected)
}
