package extract

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/competitor-price-intel/internal/pricing"
)

const maxMarkupTextLen = 64

var (
	priceVocabulary = []string{"price", "cost", "amount"}
	// Name segments for figures that sit next to a price but are not one.
	excludedVocabulary = []string{"save", "saving", "shipping", "delivery", "unit", "qty", "quantity"}
	// Sale markers disqualify a name only when no segment of it is a price:
	// "discounted-price" is the price to read, "discount-amount" is not.
	saleVocabulary = []string{"discount"}
)

// Markup reads prices from elements whose class or id names a price.
type Markup struct{}

// Name implements Strategy.
func (Markup) Name() string { return "markup" }

// Extract implements Strategy. Only the innermost matching elements are read.
func (Markup) Extract(doc *goquery.Document, currency string) []pricing.PriceCandidate {
	var out []pricing.PriceCandidate
	matcher := matcherFor(currency)

	doc.Find("body [class], body [id]").Each(func(_ int, s *goquery.Selection) {
		if hiddenElements[goquery.NodeName(s)] || !namesPrice(s) {
			return
		}
		if s.Find("[class], [id]").FilterFunction(func(_ int, d *goquery.Selection) bool {
			return namesPrice(d)
		}).Length() > 0 {
			return
		}
		text := visibleText(s)
		if text == "" || len(text) > maxMarkupTextLen || strings.IndexFunc(text, isDigit) < 0 {
			return
		}
		if raws := matcher.FindAll(text); len(raws) > 0 {
			for _, raw := range raws {
				out = append(out, pricing.PriceCandidate{Raw: raw, Currency: resolveCurrency(raw, currency)})
			}
			return
		}
		// Unmarked numbers only count when they look like money, and take the
		// currency of the surrounding text.
		textCurrency := resolveCurrency(text, currency)
		for _, raw := range decimalNumberRe.FindAllString(text, -1) {
			out = append(out, pricing.PriceCandidate{Raw: raw, Currency: textCurrency})
		}
	})
	return out
}

func namesPrice(s *goquery.Selection) bool {
	var tokens []string
	if class, ok := s.Attr("class"); ok {
		tokens = append(tokens, strings.Fields(class)...)
	}
	if id, ok := s.Attr("id"); ok && id != "" {
		tokens = append(tokens, id)
	}
	for _, tok := range tokens {
		if !containsAny(strings.ToLower(tok), priceVocabulary) {
			continue
		}
		segments := nameSegments(tok)
		if segmentHasPrefix(segments, excludedVocabulary) {
			continue
		}
		if segmentHasPrefix(segments, saleVocabulary) && !segmentHasPrefix(segments, []string{"price"}) {
			continue
		}
		return true
	}
	return false
}

// nameSegments splits a class or id into lower-cased words at punctuation
// and camelCase boundaries: "price--discount" and "discountPrice" both give
// two words.
func nameSegments(name string) []string {
	var (
		segments []string
		cur      strings.Builder
		prev     rune
	)
	flush := func() {
		if cur.Len() > 0 {
			segments = append(segments, cur.String())
			cur.Reset()
		}
	}
	for _, r := range name {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r) && unicode.IsLower(prev):
			flush()
			cur.WriteRune(unicode.ToLower(r))
		default:
			cur.WriteRune(unicode.ToLower(r))
		}
		prev = r
	}
	flush()
	return segments
}

func segmentHasPrefix(segments, prefixes []string) bool {
	for _, seg := range segments {
		for _, p := range prefixes {
			if strings.HasPrefix(seg, p) {
				return true
			}
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
