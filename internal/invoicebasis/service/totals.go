package service

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/bygglogg/internal/invoicebasis/domain"
)

var hundred = decimal.NewFromInt(100)

// round2 rounds half away from zero: 30.015 -> 30.02, 7.505 -> 7.51.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// LineAmounts returns the rounded ex-VAT amount and VAT of one line.
func LineAmounts(line domain.Line) (exVAT, vat decimal.Decimal) {
	factor := decimal.NewFromInt(1).Sub(line.DiscountPercent.Div(hundred))
	exVAT = round2(line.Quantity.Mul(line.UnitPrice).Mul(factor))
	vat = round2(exVAT.Mul(line.VATRate).Div(hundred))
	return exVAT, vat
}

func countsTowardTotals(line domain.Line) bool {
	if line.Type == domain.LineTypeDiary {
		return false
	}
	return line.Quantity.IsPositive() && !line.UnitPrice.IsNegative()
}

// ComputeTotals sums lines into per-VAT-rate buckets keyed by the rate's
// string form ("25", "12", "0"). Each line is rounded before it is added and
// every bucket is re-rounded after each addition.
func ComputeTotals(lines []domain.Line, currency string) domain.Totals {
	perRate := make(map[string]domain.RateTotals)
	for _, line := range lines {
		if !countsTowardTotals(line) {
			continue
		}
		exVAT, vat := LineAmounts(line)

		key := line.VATRate.String()
		bucket, ok := perRate[key]
		if !ok {
			bucket = domain.RateTotals{Base: decimal.Zero, VAT: decimal.Zero, Total: decimal.Zero}
		}
		bucket.Base = round2(bucket.Base.Add(exVAT))
		bucket.VAT = round2(bucket.VAT.Add(vat))
		bucket.Total = round2(bucket.Base.Add(bucket.VAT))
		perRate[key] = bucket
	}

	keys := make([]string, 0, len(perRate))
	for key := range perRate {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	totalEx, totalVAT := decimal.Zero, decimal.Zero
	for _, key := range keys {
		totalEx = totalEx.Add(perRate[key].Base)
		totalVAT = totalVAT.Add(perRate[key].VAT)
	}
	totalEx = round2(totalEx)
	totalVAT = round2(totalVAT)

	return domain.Totals{
		Currency:    currency,
		TotalExVAT:  totalEx,
		TotalVAT:    totalVAT,
		TotalIncVAT: round2(totalEx.Add(totalVAT)),
		PerRate:     perRate,
	}
}
