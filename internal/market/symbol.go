// Package market handles market symbol parsing and validation.
//
// Symbols follow the quote-base convention of the upstream price service,
// e.g. KRW-BTC: the quote currency the price is expressed in, then the
// traded asset.
package market

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// symbolRegex matches: {QUOTE}-{BASE}
// Example: KRW-BTC
var symbolRegex = regexp.MustCompile(`^([A-Z]{2,10})-([A-Z0-9]{1,15})$`)

var ErrInvalidSymbol = errors.New("market: invalid symbol format")

// Symbol is a parsed market symbol.
type Symbol struct {
	Code  string `json:"code"`
	Quote string `json:"quote"`
	Base  string `json:"base"`
}

// Parse validates a market symbol. Surrounding whitespace is trimmed and the
// symbol is upper-cased, so "krw-btc" and "KRW-BTC" are the same market.
func Parse(raw string) (Symbol, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	matches := symbolRegex.FindStringSubmatch(code)
	if matches == nil {
		return Symbol{}, fmt.Errorf("%w: %q (expected QUOTE-BASE, e.g. KRW-BTC)", ErrInvalidSymbol, raw)
	}
	return Symbol{Code: code, Quote: matches[1], Base: matches[2]}, nil
}

// Normalize returns the canonical form of every symbol, deduplicated and in
// first-seen order. Invalid symbols are dropped.
func Normalize(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		s, err := Parse(r)
		if err != nil {
			continue
		}
		if _, ok := seen[s.Code]; ok {
			continue
		}
		seen[s.Code] = struct{}{}
		out = append(out, s.Code)
	}
	return out
}

// InQuote reports whether the symbol is priced in the given quote currency.
func (s Symbol) InQuote(quote string) bool {
	return s.Quote == strings.ToUpper(quote)
}
