// internal/utils/money.go
package utils

import (
	"math"
	"strings"
)

// AmountEpsilon is the tolerance used when comparing provider amounts to order totals.
const AmountEpsilon = 0.01

type DiscountType string

const (
	DiscountPercent DiscountType = "PERCENT"
	DiscountFixed   DiscountType = "FIXED"
)

func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

func AmountsMatch(a, b float64) bool {
	return math.Abs(a-b) <= AmountEpsilon+1e-9
}

func CurrenciesMatch(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// ComputeDiscount returns the discount and the final price for base. Percent
// values are capped at 100 and the discount never exceeds base.
func ComputeDiscount(base float64, kind DiscountType, value float64) (discount, final float64) {
	base = RoundMoney(base)
	value = math.Max(0, value)

	switch kind {
	case DiscountFixed:
		discount = value
	case DiscountPercent:
		discount = base * math.Min(100, value) / 100
	}

	discount = math.Min(base, RoundMoney(discount))
	final = math.Max(0, RoundMoney(base-discount))
	return discount, final
}

// ConvertToRUB converts amount using the fixed rate table. Unknown currencies
// report ok=false.
func ConvertToRUB(amount float64, currency string, rates map[string]float64) (float64, bool) {
	rate, ok := rates[strings.ToUpper(currency)]
	if !ok || rate <= 0 {
		return 0, false
	}
	return RoundMoney(amount * rate), true
}
