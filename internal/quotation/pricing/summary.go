// Package pricing computes quotation line totals, tax breakdowns and financial summaries.
//
// All amounts are float64. Per-line discount and tax are rounded to two decimals before
// aggregation so that the same line items always produce the same summary.
package pricing

import "math"

// DiscountType selects how a discount value is interpreted.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// GSTRate is the rate presented with the "GST" label in tax breakdowns.
const GSTRate = 18.0

// Discount is an optional per-line reduction.
type Discount struct {
	Type  DiscountType `json:"type" validate:"required,oneof=percentage fixed"`
	Value float64      `json:"value" validate:"gte=0"`
}

// Item is the pricing input of a single line.
type Item struct {
	Quantity  float64
	UnitPrice float64
	TaxRate   float64
	Discount  *Discount
}

// LineResult holds the computed amounts of a single line.
type LineResult struct {
	ItemTotal      float64 `json:"item_total"`
	DiscountAmount float64 `json:"discount_amount"`
	TaxableAmount  float64 `json:"taxable_amount"`
	TaxAmount      float64 `json:"tax_amount"`
	LineTotal      float64 `json:"line_total"`
}

// Summary is the derived aggregate of a set of lines.
type Summary struct {
	Subtotal      float64 `json:"subtotal"`
	TotalDiscount float64 `json:"total_discount"`
	TaxableAmount float64 `json:"taxable_amount"`
	TotalTax      float64 `json:"total_tax"`
	GrandTotal    float64 `json:"grand_total"`
	Currency      string  `json:"currency"`
}

// TaxDetail is the tax total of every line sharing one rate.
type TaxDetail struct {
	Label         string  `json:"label"`
	Rate          float64 `json:"rate"`
	TaxableAmount float64 `json:"taxable_amount"`
	TaxAmount     float64 `json:"tax_amount"`
}

// ComputeLine prices a single line. Fixed discounts larger than the item total are capped
// at the item total.
func ComputeLine(item Item) LineResult {
	itemTotal := item.UnitPrice * item.Quantity

	var discount float64
	if item.Discount != nil {
		switch item.Discount.Type {
		case DiscountPercentage:
			discount = Round2(itemTotal * item.Discount.Value / 100)
		case DiscountFixed:
			discount = Round2(item.Discount.Value)
		}
	}
	if discount > itemTotal {
		discount = itemTotal
	}

	taxable := itemTotal - discount
	tax := Round2(taxable * item.TaxRate / 100)

	return LineResult{
		ItemTotal:      itemTotal,
		DiscountAmount: discount,
		TaxableAmount:  taxable,
		TaxAmount:      tax,
		LineTotal:      taxable + tax,
	}
}

// ComputeSummary aggregates items into a Summary for the given currency.
func ComputeSummary(items []Item, currency string) Summary {
	var subtotal, totalDiscount, totalTax float64
	for _, item := range items {
		line := ComputeLine(item)
		subtotal += line.ItemTotal
		totalDiscount += line.DiscountAmount
		totalTax += line.TaxAmount
	}

	subtotal = Round2(subtotal)
	totalDiscount = Round2(totalDiscount)
	taxable := Round2(subtotal - totalDiscount)
	totalTax = Round2(totalTax)

	return Summary{
		Subtotal:      subtotal,
		TotalDiscount: totalDiscount,
		TaxableAmount: taxable,
		TotalTax:      totalTax,
		GrandTotal:    Round2(taxable + totalTax),
		Currency:      currency,
	}
}

// TaxBreakdown groups the items by tax rate in first-occurrence order.
func TaxBreakdown(items []Item) []TaxDetail {
	details := make([]TaxDetail, 0, len(items))
	index := make(map[float64]int, len(items))
	for _, item := range items {
		line := ComputeLine(item)
		pos, ok := index[item.TaxRate]
		if !ok {
			pos = len(details)
			index[item.TaxRate] = pos
			details = append(details, TaxDetail{
				Label: labelFor(item.TaxRate),
				Rate:  item.TaxRate,
			})
		}
		details[pos].TaxableAmount += line.TaxableAmount
		details[pos].TaxAmount += line.TaxAmount
	}
	for i := range details {
		details[i].TaxableAmount = Round2(details[i].TaxableAmount)
		details[i].TaxAmount = Round2(details[i].TaxAmount)
	}
	return details
}

func labelFor(rate float64) string {
	if rate == GSTRate {
		return "GST"
	}
	return "TAX"
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
