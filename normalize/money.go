package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// maxMoney bounds the monetary values kept per document.
const maxMoney = 50

const defaultCurrency = "USD"

// moneyRe captures an optional symbol or ISO code, the amount, and an
// optional magnitude or trailing code. A match must carry at least one
// currency marker, so bare numbers are not money. A single-letter magnitude
// counts as a marker only when it touches the digits ("2.5M", not "2.5 M").
var moneyRe = regexp.MustCompile(`(?i)(?:([$€£¥₹])\s?|\b(USD|EUR|GBP|JPY|CAD|AUD|CHF|CNY|INR)\s?)?` +
	`(\d{1,3}(?:,\d{3})+(?:\.\d{1,4})?|\d+(?:\.\d{1,4})?)` +
	`(?:\s?(thousand|million|billion|trillion|[KMBT])\b)?` +
	`(?:\s?\b(USD|EUR|GBP|JPY|CAD|AUD|CHF|CNY|INR)\b)?`)

var symbolCurrency = map[string]string{
	"$": "USD", "€": "EUR", "£": "GBP", "¥": "JPY", "₹": "INR",
}

var magnitude = map[string]float64{
	"k": 1e3, "thousand": 1e3,
	"m": 1e6, "million": 1e6,
	"b": 1e9, "billion": 1e9,
	"t": 1e12, "trillion": 1e12,
}

var moneyPrinter = message.NewPrinter(language.English)

type moneyMatch struct {
	Money
	start, end int
}

// extractMoney returns at most maxMoney amounts in text order. The symbol
// wins over a code when both are present; USD is assumed when only a
// magnitude marks the amount. Matches starting inside a longer number are
// dropped.
func extractMoney(text string) []moneyMatch {
	var out []moneyMatch
	for _, loc := range moneyRe.FindAllStringSubmatchIndex(text, -1) {
		if len(out) >= maxMoney {
			break
		}
		group := func(g int) string {
			if loc[2*g] < 0 {
				return ""
			}
			return text[loc[2*g]:loc[2*g+1]]
		}
		if loc[6] > 0 && strings.IndexByte("0123456789.,", text[loc[6]-1]) >= 0 {
			continue
		}
		sym, pre, amt, mag, suf := group(1), group(2), group(3), group(4), group(5)
		tightSuffix := len(mag) == 1 && loc[8] == loc[7]
		if sym == "" && pre == "" && suf == "" && len(mag) <= 1 && !tightSuffix {
			continue
		}
		amount, err := strconv.ParseFloat(strings.ReplaceAll(amt, ",", ""), 64)
		if err != nil {
			continue
		}
		if mag != "" {
			amount *= magnitude[strings.ToLower(mag)]
		}

		currency := symbolCurrency[sym]
		if currency == "" {
			currency = strings.ToUpper(pre)
		}
		if currency == "" {
			currency = strings.ToUpper(suf)
		}
		if currency == "" {
			currency = defaultCurrency
		}
		out = append(out, moneyMatch{
			Money: Money{
				Amount:    amount,
				Currency:  currency,
				Formatted: currency + " " + moneyPrinter.Sprintf("%.2f", amount),
				Raw:       strings.TrimSpace(text[loc[0]:loc[1]]),
			},
			start: loc[0],
			end:   loc[1],
		})
	}
	return out
}
