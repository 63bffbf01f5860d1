package services

import "math"

// LineAmounts is the computed monetary breakdown for one order line.
type LineAmounts struct {
	DiscountAmount int64
	LineTotal      int64
}

// SellerTotals is the computed settlement position for one seller order.
type SellerTotals struct {
	Subtotal         int64
	DiscountTotal    int64
	TaxTotal         int64
	CommissionAmount int64
	PlatformFee      int64
	GrandTotal       int64
	NetToSeller      int64
}

// OrderTotals is the aggregate position across every line of an order.
type OrderTotals struct {
	Subtotal      int64
	DiscountTotal int64
	TaxTotal      int64
	PlatformFee   int64
	GrandTotal    int64
}

// CalculateLineAmounts derives the discount amount and line total for a line.
// The line total is the discounted extended price; amounts are cents.
func CalculateLineAmounts(quantity int, unitPrice int64, discountPercent float64) LineAmounts {
	gross := unitPrice * int64(quantity)
	discount := roundCents(float64(gross) * discountPercent / 100)
	return LineAmounts{
		DiscountAmount: discount,
		LineTotal:      gross - discount,
	}
}

// CalculateSellerTotals computes the settlement for one seller's line set.
// Commission and platform fee are charged on the discounted subtotal; the net
// payout is the grand total less both charges.
func CalculateSellerTotals(lines []OrderLine, commissionRate float64, platformFeePercent float64) SellerTotals {
	var totals SellerTotals
	for _, line := range lines {
		totals.Subtotal += line.LineTotal
		totals.DiscountTotal += line.DiscountAmount
		totals.TaxTotal += line.TaxAmount
	}
	totals.CommissionAmount = roundCents(float64(totals.Subtotal) * commissionRate / 100)
	totals.PlatformFee = roundCents(float64(totals.Subtotal) * platformFeePercent / 100)
	totals.GrandTotal = totals.Subtotal + totals.TaxTotal - totals.DiscountTotal
	totals.NetToSeller = totals.GrandTotal - totals.CommissionAmount - totals.PlatformFee
	return totals
}

// CalculateOrderTotals aggregates line amounts into order-level totals. The
// platform fee is the sum of the per-seller fees, so the caller passes the
// already computed seller totals.
func CalculateOrderTotals(lines []OrderLine, sellerTotals []SellerTotals) OrderTotals {
	var totals OrderTotals
	for _, line := range lines {
		totals.Subtotal += line.LineTotal
		totals.DiscountTotal += line.DiscountAmount
		totals.TaxTotal += line.TaxAmount
	}
	for _, st := range sellerTotals {
		totals.PlatformFee += st.PlatformFee
	}
	totals.GrandTotal = totals.Subtotal + totals.TaxTotal - totals.DiscountTotal
	return totals
}

// PlatformFeePercent resolves the effective fee rate for a seller.
func PlatformFeePercent(seller Seller, defaultPercent float64) float64 {
	if seller.PlatformFeePercent != nil {
		return *seller.PlatformFeePercent
	}
	return defaultPercent
}

func roundCents(v float64) int64 {
	return int64(math.Round(v))
}
