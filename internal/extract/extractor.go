// Package extract finds and validates prices in fetched product pages.
package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/competitor-price-intel/internal/pricing"
)

// Strategy extracts price candidates from a parsed document. Implementations
// must not modify doc.
type Strategy interface {
	Name() string
	Extract(doc *goquery.Document, currency string) []pricing.PriceCandidate
}

// Extractor runs its strategies in order and returns the candidates of the
// first one that finds any.
type Extractor struct {
	strategies []Strategy
}

// New builds an Extractor over the given strategies.
func New(strategies ...Strategy) *Extractor {
	return &Extractor{strategies: strategies}
}

// NewDefault returns the structured, markup, pattern chain.
func NewDefault() *Extractor {
	return New(Structured{}, Markup{}, Pattern{})
}

// Strategies reports the strategy names in evaluation order.
func (e *Extractor) Strategies() []string {
	names := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		names[i] = s.Name()
	}
	return names
}

// Extract parses content once and returns the candidates of the first
// strategy that yields a candidate in currency. The result is empty when no
// strategy matches or the content cannot be parsed.
func (e *Extractor) Extract(content []byte, currency string) []pricing.PriceCandidate {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = pricing.DefaultCurrency
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil
	}
	for _, s := range e.strategies {
		found := filterCandidates(s.Extract(doc, currency), s.Name(), currency)
		if len(found) > 0 {
			return found
		}
	}
	return nil
}

// filterCandidates drops foreign-currency and duplicate candidates and stamps
// the strategy name.
func filterCandidates(in []pricing.PriceCandidate, strategy, currency string) []pricing.PriceCandidate {
	if len(in) == 0 {
		return nil
	}
	out := make([]pricing.PriceCandidate, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, c := range in {
		c.Raw = strings.TrimSpace(c.Raw)
		if c.Raw == "" {
			continue
		}
		if c.Currency != "" && !strings.EqualFold(c.Currency, currency) {
			continue
		}
		if _, dup := seen[c.Raw]; dup {
			continue
		}
		seen[c.Raw] = struct{}{}
		c.Currency = currency
		c.Strategy = strategy
		out = append(out, c)
	}
	return out
}
