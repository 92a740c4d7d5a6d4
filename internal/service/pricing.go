package service

import (
	"github.com/shopspring/decimal"
)

// allocateDiscount spreads discount over prices pro rata. Shares are floored
// to whole units and the remainder goes to the last price, spilling backwards
// when a share would exceed its price. Shares always add up to discount as
// long as discount does not exceed the sum of prices.
func allocateDiscount(prices []decimal.Decimal, discount decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(prices))
	for i := range shares {
		shares[i] = decimal.Zero
	}
	if len(prices) == 0 || !discount.IsPositive() {
		return shares
	}

	total := decimal.Zero
	for _, p := range prices {
		total = total.Add(p)
	}
	if !total.IsPositive() {
		return shares
	}

	leftover := discount
	for i, p := range prices {
		shares[i] = discount.Mul(p).Div(total).Floor()
		leftover = leftover.Sub(shares[i])
	}
	for i := len(prices) - 1; i >= 0 && leftover.IsPositive(); i-- {
		take := decimal.Min(prices[i].Sub(shares[i]), leftover)
		if !take.IsPositive() {
			continue
		}
		shares[i] = shares[i].Add(take)
		leftover = leftover.Sub(take)
	}
	return shares
}

// finalPrices applies the allocated discount to each ticket price.
func finalPrices(prices []decimal.Decimal, discount decimal.Decimal) []decimal.Decimal {
	shares := allocateDiscount(prices, discount)
	out := make([]decimal.Decimal, len(prices))
	for i, p := range prices {
		out[i] = decimal.Max(decimal.Zero, p.Sub(shares[i]))
	}
	return out
}
