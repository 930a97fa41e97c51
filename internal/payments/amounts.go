package payments

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies are charged in whole units by card processors.
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true, "KRW": true, "MGA": true,
	"PYG": true, "RWF": true, "UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// ToMinorUnits converts a major unit amount to the smallest currency unit, rounding half away from zero.
func ToMinorUnits(amount float64, currency string) int64 {
	value := decimal.NewFromFloat(amount)
	if !zeroDecimalCurrencies[strings.ToUpper(strings.TrimSpace(currency))] {
		value = value.Shift(2)
	}
	return value.Round(0).IntPart()
}
