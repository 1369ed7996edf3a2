// Package proration computes mid-cycle plan switch amounts.
package proration

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrInvalidPeriod = errors.New("period length must be positive")

type Result struct {
	Credit decimal.Decimal `json:"credit"`
	Charge decimal.Decimal `json:"charge"`
	Net    decimal.Decimal `json:"net"`
}

// NetCents returns Net in minor units. A positive value is owed by the member.
func (r Result) NetCents() int64 {
	return r.Net.Shift(2).IntPart()
}

// Prorate credits the unused share of the current plan and charges the same
// share of the new plan. daysRemaining is clamped to [0, periodLengthDays]
// and every amount is rounded to 2 places, halves away from zero.
func Prorate(currentPrice, newPrice decimal.Decimal, periodLengthDays, daysRemaining int) (Result, error) {
	if periodLengthDays <= 0 {
		return Result{}, ErrInvalidPeriod
	}
	if daysRemaining < 0 {
		daysRemaining = 0
	}
	if daysRemaining > periodLengthDays {
		daysRemaining = periodLengthDays
	}

	remaining := decimal.NewFromInt(int64(daysRemaining))
	period := decimal.NewFromInt(int64(periodLengthDays))

	credit := currentPrice.Mul(remaining).Div(period).Round(2)
	charge := newPrice.Mul(remaining).Div(period).Round(2)

	return Result{
		Credit: credit,
		Charge: charge,
		Net:    charge.Sub(credit).Round(2),
	}, nil
}

// FromCents converts minor units to a decimal amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
