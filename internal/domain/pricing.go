package domain

import (
	"github.com/cockroachdb/errors"
)

// Money is an amount in the currency's minor unit (paise for INR).
type Money int64

const (
	PlatformFeeBps = 1000 // 10%
	TaxBps         = 1800 // 18%

	bpsScale = 10000
	// fractions of a minor unit carried between steps
	subunits = 1000

	// MaxBaseCost bounds price per day times days so the carried
	// intermediates stay inside int64.
	MaxBaseCost Money = 1_000_000_000_000
)

// PricingSnapshot is the frozen quote for a booking. It is written once at
// inquiry time and never recomputed from live venue prices.
type PricingSnapshot struct {
	PricePerDay    Money `json:"price_per_day"`
	TotalDays      int   `json:"total_days"`
	BaseCost       Money `json:"base_cost"`
	PlatformFee    Money `json:"platform_fee"`
	Tax            Money `json:"tax"`
	GrandTotal     Money `json:"grand_total"`
	PlatformFeeBps int   `json:"platform_fee_bps"`
	TaxBps         int   `json:"tax_bps"`
}

// ComputePricing itemizes the quote for the requested days. Fee and tax are
// carried exactly in thousandths of a minor unit and rounded half-up once,
// and the grand total is the sum of the rounded parts.
func ComputePricing(pricePerDay Money, timings []DateTiming, today Date) (PricingSnapshot, error) {
	if pricePerDay < 0 {
		return PricingSnapshot{}, errors.Wrapf(ErrInvalidPrice, "price per day %d is negative", pricePerDay)
	}
	if err := ValidateTimings(timings, today); err != nil {
		return PricingSnapshot{}, err
	}

	days := len(timings)
	if pricePerDay > MaxBaseCost/Money(days) {
		return PricingSnapshot{}, errors.Wrapf(ErrInvalidPrice, "price per day %d over %d days exceeds %d", pricePerDay, days, MaxBaseCost)
	}
	base := pricePerDay * Money(days)

	baseSub := int64(base) * subunits
	feeSub := baseSub * PlatformFeeBps / bpsScale
	taxSub := (baseSub + feeSub) * TaxBps / bpsScale

	fee := roundHalfUp(feeSub)
	tax := roundHalfUp(taxSub)

	return PricingSnapshot{
		PricePerDay:    pricePerDay,
		TotalDays:      days,
		BaseCost:       base,
		PlatformFee:    fee,
		Tax:            tax,
		GrandTotal:     base + fee + tax,
		PlatformFeeBps: PlatformFeeBps,
		TaxBps:         TaxBps,
	}, nil
}

func roundHalfUp(sub int64) Money {
	return Money((sub + subunits/2) / subunits)
}

// Consistent reports whether the snapshot satisfies its arithmetic invariants.
func (p PricingSnapshot) Consistent() bool {
	if p.PricePerDay < 0 || p.BaseCost < 0 || p.PlatformFee < 0 || p.Tax < 0 {
		return false
	}
	return p.BaseCost == p.PricePerDay*Money(p.TotalDays) &&
		p.GrandTotal == p.BaseCost+p.PlatformFee+p.Tax
}
