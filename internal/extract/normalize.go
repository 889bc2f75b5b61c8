package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JakeFAU/competitor-price-intel/internal/pricing"
)

var (
	// DefaultMinPrice is the smallest accepted price.
	DefaultMinPrice = decimal.RequireFromString("0.01")
	// DefaultMaxPrice is the largest accepted price.
	DefaultMaxPrice = decimal.RequireFromString("999999.99")

	canonicalRe = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

// Normalizer converts raw price text into a two-place decimal and rejects
// values outside [Min, Max].
type Normalizer struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// DefaultNormalizer accepts prices between 0.01 and 999999.99 inclusive.
func DefaultNormalizer() Normalizer {
	return Normalizer{Min: DefaultMinPrice, Max: DefaultMaxPrice}
}

// Normalize parses raw with the default bounds.
func Normalize(raw string) (decimal.Decimal, error) {
	return DefaultNormalizer().Normalize(raw)
}

// Normalize strips currency markers and whitespace from raw, resolves the
// decimal separator and validates the result. Every failure wraps
// pricing.ErrValidationRejected.
func (n Normalizer) Normalize(raw string) (decimal.Decimal, error) {
	firstDigit := strings.IndexFunc(raw, isDigit)
	if firstDigit < 0 {
		return decimal.Zero, reject(raw, "no digits")
	}
	if strings.ContainsAny(raw[:firstDigit], "-−") {
		return decimal.Zero, reject(raw, "negative")
	}

	var b strings.Builder
	for _, r := range raw {
		if isDigit(r) || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	s := strings.Trim(b.String(), ".,")

	s, err := resolveSeparators(s)
	if err != nil {
		return decimal.Zero, reject(raw, err.Error())
	}
	if !canonicalRe.MatchString(s) {
		return decimal.Zero, reject(raw, "not a number")
	}
	value, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, reject(raw, err.Error())
	}
	// Bounds apply to the parsed value, so sub-cent amounts cannot round into range.
	if value.LessThan(n.min()) || value.GreaterThan(n.max()) {
		return decimal.Zero, reject(raw, fmt.Sprintf("outside [%s, %s]", n.min().StringFixed(2), n.max().StringFixed(2)))
	}
	return value.Round(2), nil
}

func (n Normalizer) min() decimal.Decimal {
	if n.Min.IsZero() {
		return DefaultMinPrice
	}
	return n.Min
}

func (n Normalizer) max() decimal.Decimal {
	if n.Max.IsZero() {
		return DefaultMaxPrice
	}
	return n.Max
}

// resolveSeparators rewrites s so that "." is the only separator and marks
// the decimal point.
func resolveSeparators(s string) (string, error) {
	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")

	switch {
	case dots > 0 && commas > 0:
		decimalSep, groupSep := ".", ","
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			decimalSep, groupSep = ",", "."
		}
		if strings.Count(s, decimalSep) > 1 {
			return "", errors.New("ambiguous separators")
		}
		s = strings.ReplaceAll(s, groupSep, "")
		return strings.Replace(s, decimalSep, ".", 1), nil
	case dots+commas > 1:
		// Repeated single separator: grouping only.
		return strings.NewReplacer(".", "", ",", "").Replace(s), nil
	case dots+commas == 1:
		idx := strings.IndexAny(s, ".,")
		intPart, frac := s[:idx], s[idx+1:]
		if len(frac) == 3 && intPart != "" && intPart != "0" {
			return intPart + frac, nil
		}
		return intPart + "." + frac, nil
	default:
		return s, nil
	}
}

func reject(raw, reason string) error {
	return fmt.Errorf("%w: %q: %s", pricing.ErrValidationRejected, raw, reason)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// Rejection records a candidate the normalizer refused.
type Rejection struct {
	Candidate pricing.PriceCandidate
	Err       error
}

// Validate normalizes every candidate, returning the accepted ones with
// Value populated and the rejected ones with their reason.
func (n Normalizer) Validate(candidates []pricing.PriceCandidate) ([]pricing.PriceCandidate, []Rejection) {
	valid := make([]pricing.PriceCandidate, 0, len(candidates))
	var rejected []Rejection
	for _, c := range candidates {
		value, err := n.Normalize(c.Raw)
		if err != nil {
			rejected = append(rejected, Rejection{Candidate: c, Err: err})
			continue
		}
		c.Value = value
		valid = append(valid, c)
	}
	return valid, rejected
}
