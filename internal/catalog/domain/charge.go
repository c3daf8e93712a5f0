package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Currencies the processor charges in whole units or thousandths rather than cents.
var (
	zeroDecimalCurrencies = map[string]struct{}{
		"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {}, "krw": {}, "mga": {},
		"pyg": {}, "rwf": {}, "ugx": {}, "vnd": {}, "vuv": {}, "xaf": {}, "xof": {}, "xpf": {},
	}
	threeDecimalCurrencies = map[string]struct{}{
		"bhd": {}, "jod": {}, "kwd": {}, "omr": {}, "tnd": {},
	}
)

// MinorUnitExponent is the number of decimals between a currency's major and
// minor unit. currency must already be lower case.
func MinorUnitExponent(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[currency]; ok {
		return 0
	}
	if _, ok := threeDecimalCurrencies[currency]; ok {
		return 3
	}
	return 2
}

// Charge is the amount a learner pays for a course at a point in time.
type Charge struct {
	Amount   decimal.Decimal
	Minor    int64
	Currency string
}

// ComputeCharge applies the discount percent to the list price, rounds half
// up to the currency's minor unit (two decimals for most) and converts to
// minor units.
func ComputeCharge(price, discount decimal.Decimal, currency string) (Charge, error) {
	if price.IsNegative() || price.IsZero() {
		return Charge{}, ErrInvalidPrice
	}
	if discount.IsNegative() || discount.GreaterThan(hundred) {
		return Charge{}, ErrInvalidDiscount
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return Charge{}, ErrInvalidCurrency
	}

	exponent := MinorUnitExponent(currency)
	amount := price.Sub(discount.Mul(price).Div(hundred)).Round(exponent)
	minor := amount.Shift(exponent).IntPart()
	if minor <= 0 {
		return Charge{}, ErrInvalidPrice
	}
	return Charge{Amount: amount, Minor: minor, Currency: currency}, nil
}

// Charge prices the course as listed right now.
func (c Course) Charge() (Charge, error) {
	return ComputeCharge(c.Price, c.Discount, c.Currency)
}
