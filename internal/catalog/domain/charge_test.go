package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestComputeCharge(t *testing.T) {
	cases := []struct {
		name     string
		price    string
		discount string
		minor    int64
		amount   string
	}{
		{name: "ten percent off", price: "100", discount: "10", minor: 9000, amount: "90"},
		{name: "no discount", price: "49.99", discount: "0", minor: 4999, amount: "49.99"},
		{name: "half up rounding", price: "19.99", discount: "15", minor: 1699, amount: "16.99"},
		{name: "rounds third decimal up", price: "10.05", discount: "50", minor: 503, amount: "5.03"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			charge, err := ComputeCharge(decimal.RequireFromString(tc.price), decimal.RequireFromString(tc.discount), "USD")
			require.NoError(t, err)
			require.Equal(t, tc.minor, charge.Minor)
			require.True(t, decimal.RequireFromString(tc.amount).Equal(charge.Amount), charge.Amount.String())
			require.Equal(t, "usd", charge.Currency)
		})
	}
}

func TestComputeChargeUsesCurrencyMinorUnit(t *testing.T) {
	cases := []struct {
		name     string
		currency string
		price    string
		discount string
		minor    int64
		amount   string
	}{
		{name: "yen has no minor unit", currency: "JPY", price: "1000", discount: "10", minor: 900, amount: "900"},
		{name: "yen rounds to whole units", currency: "jpy", price: "999", discount: "15", minor: 849, amount: "849"},
		{name: "won", currency: "krw", price: "15000", discount: "0", minor: 15000, amount: "15000"},
		{name: "dinar has three decimals", currency: "kwd", price: "10.5", discount: "10", minor: 9450, amount: "9.45"},
		{name: "euro keeps cents", currency: "eur", price: "100", discount: "10", minor: 9000, amount: "90"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			charge, err := ComputeCharge(decimal.RequireFromString(tc.price), decimal.RequireFromString(tc.discount), tc.currency)
			require.NoError(t, err)
			require.Equal(t, tc.minor, charge.Minor)
			require.True(t, decimal.RequireFromString(tc.amount).Equal(charge.Amount), charge.Amount.String())
		})
	}
}

func TestComputeChargeRejectsInvalidInputs(t *testing.T) {
	_, err := ComputeCharge(decimal.Zero, decimal.Zero, "usd")
	require.ErrorIs(t, err, ErrInvalidPrice)

	_, err = ComputeCharge(decimal.NewFromInt(10), decimal.NewFromInt(100), "usd")
	require.ErrorIs(t, err, ErrInvalidPrice)

	_, err = ComputeCharge(decimal.NewFromInt(10), decimal.NewFromInt(101), "usd")
	require.ErrorIs(t, err, ErrInvalidDiscount)

	_, err = ComputeCharge(decimal.NewFromInt(10), decimal.Zero, "dollars")
	require.ErrorIs(t, err, ErrInvalidCurrency)
}
