package extract

import (
	"regexp"
	"sort"
	"strings"
)

// currencySymbols lists the printed symbols recognized for each ISO code.
// Longer symbols come first so "US$" wins over "$".
var currencySymbols = map[string][]string{
	"GBP": {"£"},
	"USD": {"US$", "$"},
	"EUR": {"€"},
	"JPY": {"¥", "円"},
	"INR": {"₹", "Rs."},
	"CAD": {"CA$", "C$", "$"},
	"AUD": {"AU$", "A$", "$"},
	"NZD": {"NZ$", "$"},
	"CHF": {"Fr."},
	"SEK": {"kr"},
	"NOK": {"kr"},
	"DKK": {"kr."},
	"PLN": {"zł"},
}

// numberPattern matches a run of digits with embedded grouping or decimal
// separators. Separator interpretation is left to the normalizer.
const numberPattern = `\d[\d.,'\x{00A0}\x{202F}]*\d|\d`

var (
	numberRe        = regexp.MustCompile(numberPattern)
	decimalNumberRe = regexp.MustCompile(`\d[\d.,'\x{00A0}\x{202F}]*[.,]\d{2}\b`)
	currencyCodeRe  = regexp.MustCompile(`\b[A-Z]{3}\b`)
	moneyMatchers   = buildMoneyMatchers()
)

// moneyMatcher holds the ordered, locale-aware patterns for one currency.
type moneyMatcher struct {
	patterns []*regexp.Regexp
}

func buildMoneyMatchers() map[string]*moneyMatcher {
	out := make(map[string]*moneyMatcher, len(currencySymbols))
	for code := range currencySymbols {
		out[code] = newMoneyMatcher(code)
	}
	return out
}

func newMoneyMatcher(code string) *moneyMatcher {
	code = regexp.QuoteMeta(code)
	var patterns []*regexp.Regexp
	if syms := symbolAlternation(code); syms != "" {
		patterns = append(patterns, regexp.MustCompile(`(?:`+syms+`)\s?(?:`+numberPattern+`)`))
	}
	patterns = append(patterns,
		regexp.MustCompile(`\b`+code+`\s?(?:`+numberPattern+`)`),
		regexp.MustCompile(`(?:`+numberPattern+`)\s?`+code+`\b`),
	)
	if syms := symbolAlternation(code); syms != "" {
		patterns = append(patterns, regexp.MustCompile(`(?:`+numberPattern+`)\s?(?:`+syms+`)`))
	}
	return &moneyMatcher{patterns: patterns}
}

func symbolAlternation(code string) string {
	syms := currencySymbols[code]
	if len(syms) == 0 {
		return ""
	}
	quoted := make([]string, len(syms))
	for i, s := range syms {
		quoted[i] = regexp.QuoteMeta(s)
	}
	return strings.Join(quoted, "|")
}

// matcherFor returns the matcher for code, compiling one on demand for codes
// without a known symbol.
func matcherFor(code string) *moneyMatcher {
	if m, ok := moneyMatchers[code]; ok {
		return m
	}
	return newMoneyMatcher(code)
}

// FindAll returns every money expression in text, pattern by pattern, in
// order of appearance, without duplicates.
func (m *moneyMatcher) FindAll(text string) []string {
	type hit struct {
		start int
		raw   string
	}
	var out []string
	seen := make(map[string]struct{})
	for _, re := range m.patterns {
		locs := re.FindAllStringIndex(text, -1)
		hits := make([]hit, 0, len(locs))
		for _, loc := range locs {
			hits = append(hits, hit{start: loc[0], raw: strings.TrimSpace(text[loc[0]:loc[1]])})
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].start < hits[j].start })
		for _, h := range hits {
			if _, dup := seen[h.raw]; dup {
				continue
			}
			seen[h.raw] = struct{}{}
			out = append(out, h.raw)
		}
	}
	return out
}

// resolveCurrency returns the ISO code that text is marked with. When the
// marker is shared by several currencies (a bare "$") and want is one of them,
// want is returned. Unmarked text yields "".
func resolveCurrency(text, want string) string {
	var codes []string
	for _, code := range currencyCodeRe.FindAllString(strings.ToUpper(text), -1) {
		if _, ok := currencySymbols[code]; ok {
			codes = append(codes, code)
		}
	}
	if len(codes) == 0 {
		for code, syms := range currencySymbols {
			for _, s := range syms {
				if strings.Contains(text, s) {
					codes = append(codes, code)
					break
				}
			}
		}
		sort.Strings(codes)
	}
	for _, code := range codes {
		if code == want {
			return want
		}
	}
	if len(codes) > 0 {
		return codes[0]
	}
	return ""
}
