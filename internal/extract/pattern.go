package extract

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/competitor-price-intel/internal/pricing"
)

// Pattern scans the visible page text for money expressions in the request
// currency: symbol or code before the number, then after it.
type Pattern struct{}

// Name implements Strategy.
func (Pattern) Name() string { return "pattern" }

// Extract implements Strategy.
func (Pattern) Extract(doc *goquery.Document, currency string) []pricing.PriceCandidate {
	text := visibleText(doc.Find("body"))
	if text == "" {
		return nil
	}
	raws := matcherFor(currency).FindAll(text)
	out := make([]pricing.PriceCandidate, 0, len(raws))
	for _, raw := range raws {
		out = append(out, pricing.PriceCandidate{Raw: raw, Currency: resolveCurrency(raw, currency)})
	}
	return out
}
