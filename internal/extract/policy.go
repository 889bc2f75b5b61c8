package extract

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/competitor-price-intel/internal/pricing"
)

// SelectionPolicy picks the page price among validated candidates. It
// reports false when there is nothing to choose from.
type SelectionPolicy func(candidates []pricing.PriceCandidate) (pricing.PriceCandidate, bool)

// Lowest picks the smallest value; ties keep the earliest candidate.
func Lowest(candidates []pricing.PriceCandidate) (pricing.PriceCandidate, bool) {
	return pick(candidates, func(a, b pricing.PriceCandidate) bool { return a.Value.LessThan(b.Value) })
}

// Highest picks the largest value; ties keep the earliest candidate.
func Highest(candidates []pricing.PriceCandidate) (pricing.PriceCandidate, bool) {
	return pick(candidates, func(a, b pricing.PriceCandidate) bool { return a.Value.GreaterThan(b.Value) })
}

// First picks the first candidate in document order.
func First(candidates []pricing.PriceCandidate) (pricing.PriceCandidate, bool) {
	if len(candidates) == 0 {
		return pricing.PriceCandidate{}, false
	}
	return candidates[0], true
}

func pick(candidates []pricing.PriceCandidate, better func(a, b pricing.PriceCandidate) bool) (pricing.PriceCandidate, bool) {
	if len(candidates) == 0 {
		return pricing.PriceCandidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if better(c, best) {
			best = c
		}
	}
	return best, true
}

// PolicyByName resolves the scrape.selection_policy setting. An empty name
// selects Lowest.
func PolicyByName(name string) (SelectionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "lowest":
		return Lowest, nil
	case "highest":
		return Highest, nil
	case "first":
		return First, nil
	default:
		return nil, fmt.Errorf("unknown selection policy %q: %w", name, pricing.ErrConfiguration)
	}
}
