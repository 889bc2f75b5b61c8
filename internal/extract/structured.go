package extract

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/JakeFAU/competitor-price-intel/internal/pricing"
)

// priceKeys are the schema.org offer fields read from JSON-LD, in the order
// they are reported for a single offer.
var priceKeys = []string{"price", "lowPrice", "highPrice"}

// Structured reads machine-readable prices: JSON-LD offers, microdata and
// Open Graph product meta tags.
type Structured struct{}

// Name implements Strategy.
func (Structured) Name() string { return "structured" }

// Extract implements Strategy.
func (Structured) Extract(doc *goquery.Document, _ string) []pricing.PriceCandidate {
	var out []pricing.PriceCandidate

	doc.Find("script[type='application/ld+json']").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(text)))
		dec.UseNumber()
		var data any
		if err := dec.Decode(&data); err != nil {
			return
		}
		out = append(out, walkJSONLD(data, "")...)
	})

	doc.Find("[itemprop='price']").Each(func(_ int, s *goquery.Selection) {
		raw, ok := s.Attr("content")
		if !ok {
			raw = visibleText(s)
		}
		currency := ""
		if scope := s.Closest("[itemscope]"); scope.Length() > 0 {
			cur := scope.Find("[itemprop='priceCurrency']").First()
			if v, ok := cur.Attr("content"); ok {
				currency = v
			} else {
				currency = visibleText(cur)
			}
		}
		out = append(out, structuredCandidate(raw, currency))
	})

	metaCurrency := ""
	doc.Find("meta[property='product:price:currency'], meta[property='og:price:currency']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		metaCurrency, _ = s.Attr("content")
		return metaCurrency == ""
	})
	doc.Find("meta[property='product:price:amount'], meta[property='og:price:amount']").Each(func(_ int, s *goquery.Selection) {
		if raw, ok := s.Attr("content"); ok {
			out = append(out, structuredCandidate(raw, metaCurrency))
		}
	})

	return out
}

// walkJSONLD collects offer prices from any depth of a decoded JSON-LD value,
// which covers @graph arrays and nested offers. Object keys are visited in
// sorted order so the result is deterministic.
func walkJSONLD(v any, inherited string) []pricing.PriceCandidate {
	var out []pricing.PriceCandidate
	switch node := v.(type) {
	case []any:
		for _, item := range node {
			out = append(out, walkJSONLD(item, inherited)...)
		}
	case map[string]any:
		currency := inherited
		if c, ok := node["priceCurrency"].(string); ok && c != "" {
			currency = c
		}
		for _, key := range priceKeys {
			if raw, ok := scalarString(node[key]); ok {
				out = append(out, structuredCandidate(raw, currency))
			}
		}
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch node[k].(type) {
			case map[string]any, []any:
				out = append(out, walkJSONLD(node[k], currency)...)
			}
		}
	}
	return out
}

func scalarString(v any) (string, bool) {
	switch val := v.(type) {
	case json.Number:
		return val.String(), true
	case string:
		return val, strings.TrimSpace(val) != ""
	default:
		return "", false
	}
}

// structuredCandidate canonicalizes machine-readable numbers, which always
// use "." as the decimal point, so "12.345" is not read as twelve thousand.
func structuredCandidate(raw, currency string) pricing.PriceCandidate {
	raw = strings.TrimSpace(raw)
	if d, err := decimal.NewFromString(raw); err == nil && !d.IsNegative() {
		places := int32(2)
		// Over two fractional digits keep every digit plus one more, so a
		// three digit fraction is never read back as digit grouping.
		if frac := -d.Exponent(); frac > places {
			places = frac + 1
		}
		raw = d.StringFixed(places)
	}
	return pricing.PriceCandidate{Raw: raw, Currency: strings.ToUpper(strings.TrimSpace(currency))}
}
