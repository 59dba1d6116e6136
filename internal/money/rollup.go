// Package money rolls line items and percentage modifiers up into document totals.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/onemanvan/fsm/internal/shared"
)

// Mode selects how modifiers combine with the subtotal.
type Mode string

const (
	// ModeFlatAdditive computes every modifier from the subtotal and sums them once.
	// Invoices and estimates with line items use it.
	ModeFlatAdditive Mode = "flat_additive"
	// ModeChained multiplies the running total by markup, then tax, then
	// contingency, rounding after each step. Material-list totals use it.
	ModeChained Mode = "chained"
)

var (
	ErrNegativeDiscount = fmt.Errorf("%w: discount must not be negative", shared.ErrValidation)
	ErrNegativeQuantity = fmt.Errorf("%w: quantity must not be negative", shared.ErrValidation)
	ErrNegativePrice    = fmt.Errorf("%w: unit price must not be negative", shared.ErrValidation)
	ErrNegativeRate     = fmt.Errorf("%w: percentage must not be negative", shared.ErrValidation)
	ErrNegativeTotal    = fmt.Errorf("%w: discount exceeds document total", shared.ErrValidation)
	ErrAmbiguousInput   = fmt.Errorf("%w: conflicting modifiers", shared.ErrValidation)
	ErrUnknownMode      = fmt.Errorf("%w: unknown roll-up mode", shared.ErrValidation)
)

var hundred = decimal.NewFromInt(100)

// Line is a single priced quantity.
type Line struct {
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// Input collects everything a roll-up needs.
type Input struct {
	Lines          []Line
	MarkupPct      decimal.Decimal
	MarkupAmount   decimal.Decimal // flat fee; flat-additive mode only
	TaxPct         decimal.Decimal
	ContingencyPct decimal.Decimal
	DiscountAmount decimal.Decimal
	DiscountPct    decimal.Decimal
	TaxIncluded    bool
	Mode           Mode
}

// Totals is the result of a roll-up. Every field is rounded to cents.
type Totals struct {
	Subtotal          decimal.Decimal
	DiscountAmount    decimal.Decimal
	MarkupAmount      decimal.Decimal
	TaxAmount         decimal.Decimal
	ContingencyAmount decimal.Decimal
	AfterMarkup       decimal.Decimal
	AfterTax          decimal.Decimal
	Total             decimal.Decimal
}

// Round2 rounds half away from zero to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// LineTotal returns quantity x unit price rounded to cents.
func LineTotal(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return Round2(quantity.Mul(unitPrice))
}

// Percent returns base x pct / 100 rounded to cents.
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return Round2(base.Mul(pct).Div(hundred))
}

// Subtotal sums quantity x unit price over the lines and rounds the sum once.
// Line totals are display values and are not summed.
func Subtotal(lines []Line) (decimal.Decimal, error) {
	sum := decimal.Zero
	for i, l := range lines {
		if l.Quantity.IsNegative() {
			return decimal.Zero, fmt.Errorf("line %d: %w", i+1, ErrNegativeQuantity)
		}
		if l.UnitPrice.IsNegative() {
			return decimal.Zero, fmt.Errorf("line %d: %w", i+1, ErrNegativePrice)
		}
		sum = sum.Add(l.Quantity.Mul(l.UnitPrice))
	}
	return Round2(sum), nil
}

// ComputeTotals rolls the input up according to its mode.
func ComputeTotals(in Input) (Totals, error) {
	if err := validate(in); err != nil {
		return Totals{}, err
	}
	subtotal, err := Subtotal(in.Lines)
	if err != nil {
		return Totals{}, err
	}
	switch in.Mode {
	case ModeFlatAdditive, "":
		return flatAdditive(in, subtotal)
	case ModeChained:
		return chained(in, subtotal)
	default:
		return Totals{}, fmt.Errorf("%w: %q", ErrUnknownMode, in.Mode)
	}
}

func validate(in Input) error {
	if in.DiscountAmount.IsNegative() || in.DiscountPct.IsNegative() {
		return ErrNegativeDiscount
	}
	if in.MarkupPct.IsNegative() || in.TaxPct.IsNegative() || in.ContingencyPct.IsNegative() || in.MarkupAmount.IsNegative() {
		return ErrNegativeRate
	}
	if !in.DiscountAmount.IsZero() && !in.DiscountPct.IsZero() {
		return fmt.Errorf("%w: discount amount and discount percentage are exclusive", ErrAmbiguousInput)
	}
	if in.Mode == ModeChained && !in.MarkupAmount.IsZero() {
		return fmt.Errorf("%w: flat markup is not applied in chained mode", ErrAmbiguousInput)
	}
	return nil
}

func discountFor(in Input, base decimal.Decimal) decimal.Decimal {
	if !in.DiscountAmount.IsZero() {
		return Round2(in.DiscountAmount)
	}
	return Percent(base, in.DiscountPct)
}

func flatAdditive(in Input, subtotal decimal.Decimal) (Totals, error) {
	markup := Round2(in.MarkupAmount)
	if markup.IsZero() {
		markup = Percent(subtotal, in.MarkupPct)
	}
	tax := decimal.Zero
	if !in.TaxIncluded {
		tax = Percent(subtotal, in.TaxPct)
	}
	contingency := Percent(subtotal, in.ContingencyPct)
	discount := discountFor(in, subtotal)

	total := Round2(subtotal.Add(tax).Add(markup).Add(contingency).Sub(discount))
	if total.IsNegative() {
		return Totals{}, ErrNegativeTotal
	}
	return Totals{
		Subtotal:          subtotal,
		DiscountAmount:    discount,
		MarkupAmount:      markup,
		TaxAmount:         tax,
		ContingencyAmount: contingency,
		AfterMarkup:       Round2(subtotal.Add(markup)),
		AfterTax:          Round2(subtotal.Add(markup).Add(tax)),
		Total:             total,
	}, nil
}

// chained applies the discount to the subtotal, then markup, tax and
// contingency to the running total in that order.
func chained(in Input, subtotal decimal.Decimal) (Totals, error) {
	discount := discountFor(in, subtotal)
	base := subtotal.Sub(discount)
	if base.IsNegative() {
		return Totals{}, ErrNegativeTotal
	}
	afterMarkup := grow(base, in.MarkupPct)
	afterTax := afterMarkup
	if !in.TaxIncluded {
		afterTax = grow(afterMarkup, in.TaxPct)
	}
	total := grow(afterTax, in.ContingencyPct)
	return Totals{
		Subtotal:          subtotal,
		DiscountAmount:    discount,
		MarkupAmount:      afterMarkup.Sub(base),
		TaxAmount:         afterTax.Sub(afterMarkup),
		ContingencyAmount: total.Sub(afterTax),
		AfterMarkup:       afterMarkup,
		AfterTax:          afterTax,
		Total:             total,
	}, nil
}

func grow(amount, pct decimal.Decimal) decimal.Decimal {
	return Round2(amount.Mul(hundred.Add(pct)).Div(hundred))
}
