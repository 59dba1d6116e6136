package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onemanvan/fsm/internal/shared"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, d(want).Equal(got), "want %s, got %s", want, got.StringFixed(2))
}

func TestComputeTotalsFlatAdditive(t *testing.T) {
	totals, err := ComputeTotals(Input{
		Lines: []Line{
			{Quantity: d("2"), UnitPrice: d("100.00")},
			{Quantity: d("1"), UnitPrice: d("50.00")},
		},
		MarkupPct: d("10"),
		TaxPct:    d("8"),
		Mode:      ModeFlatAdditive,
	})
	require.NoError(t, err)
	requireDecimal(t, "250.00", totals.Subtotal)
	requireDecimal(t, "25.00", totals.MarkupAmount)
	requireDecimal(t, "20.00", totals.TaxAmount)
	requireDecimal(t, "295.00", totals.Total)
}

func TestSubtotalRoundsTheSumNotEachLine(t *testing.T) {
	lines := []Line{
		{Quantity: d("0.5"), UnitPrice: d("0.01")},
		{Quantity: d("0.5"), UnitPrice: d("0.01")},
		{Quantity: d("0.5"), UnitPrice: d("0.01")},
	}
	requireDecimal(t, "0.01", LineTotal(lines[0].Quantity, lines[0].UnitPrice))

	subtotal, err := Subtotal(lines)
	require.NoError(t, err)
	requireDecimal(t, "0.02", subtotal)

	totals, err := ComputeTotals(Input{Lines: lines, Mode: ModeFlatAdditive})
	require.NoError(t, err)
	requireDecimal(t, "0.02", totals.Subtotal)
	requireDecimal(t, "0.02", totals.Total)
}

func TestComputeTotalsFlatMarkupAmountWins(t *testing.T) {
	totals, err := ComputeTotals(Input{
		Lines:        []Line{{Quantity: d("2"), UnitPrice: d("100.00")}, {Quantity: d("1"), UnitPrice: d("50.00")}},
		MarkupPct:    d("50"),
		MarkupAmount: d("25.00"),
		TaxPct:       d("8"),
	})
	require.NoError(t, err)
	requireDecimal(t, "25.00", totals.MarkupAmount)
	requireDecimal(t, "295.00", totals.Total)
}

func TestComputeTotalsChained(t *testing.T) {
	totals, err := ComputeTotals(Input{
		Lines:          []Line{{Quantity: d("1"), UnitPrice: d("1000.00")}},
		MarkupPct:      d("10"),
		TaxPct:         d("8"),
		ContingencyPct: d("5"),
		Mode:           ModeChained,
	})
	require.NoError(t, err)
	requireDecimal(t, "1000.00", totals.Subtotal)
	requireDecimal(t, "1100.00", totals.AfterMarkup)
	requireDecimal(t, "1188.00", totals.AfterTax)
	requireDecimal(t, "1247.40", totals.Total)
	requireDecimal(t, "100.00", totals.MarkupAmount)
	requireDecimal(t, "88.00", totals.TaxAmount)
	requireDecimal(t, "59.40", totals.ContingencyAmount)
}

func TestComputeTotalsChainedRoundsEachStep(t *testing.T) {
	// 33.33 * 1.075 = 35.82975 -> 35.83; 35.83 * 1.075 = 38.51725 -> 38.52
	totals, err := ComputeTotals(Input{
		Lines:     []Line{{Quantity: d("1"), UnitPrice: d("33.33")}},
		MarkupPct: d("7.5"),
		TaxPct:    d("7.5"),
		Mode:      ModeChained,
	})
	require.NoError(t, err)
	requireDecimal(t, "35.83", totals.AfterMarkup)
	requireDecimal(t, "38.52", totals.AfterTax)
	requireDecimal(t, "38.52", totals.Total)
}

func TestComputeTotalsModesDiffer(t *testing.T) {
	in := Input{
		Lines:          []Line{{Quantity: d("1"), UnitPrice: d("1000.00")}},
		MarkupPct:      d("10"),
		TaxPct:         d("8"),
		ContingencyPct: d("5"),
	}
	flat, err := ComputeTotals(in)
	require.NoError(t, err)
	in.Mode = ModeChained
	chain, err := ComputeTotals(in)
	require.NoError(t, err)
	requireDecimal(t, "1230.00", flat.Total)
	assert.False(t, flat.Total.Equal(chain.Total))
}

func TestComputeTotalsTaxIncluded(t *testing.T) {
	totals, err := ComputeTotals(Input{
		Lines:       []Line{{Quantity: d("3"), UnitPrice: d("10.00")}},
		TaxPct:      d("8"),
		TaxIncluded: true,
	})
	require.NoError(t, err)
	assert.True(t, totals.TaxAmount.IsZero())
	requireDecimal(t, "30.00", totals.Total)

	totals, err = ComputeTotals(Input{
		Lines:       []Line{{Quantity: d("3"), UnitPrice: d("10.00")}},
		TaxPct:      d("8"),
		MarkupPct:   d("10"),
		TaxIncluded: true,
		Mode:        ModeChained,
	})
	require.NoError(t, err)
	assert.True(t, totals.TaxAmount.IsZero())
	requireDecimal(t, "33.00", totals.Total)
}

func TestComputeTotalsZeroLines(t *testing.T) {
	totals, err := ComputeTotals(Input{MarkupPct: d("10"), TaxPct: d("8"), ContingencyPct: d("5"), Mode: ModeChained})
	require.NoError(t, err)
	assert.True(t, totals.Subtotal.IsZero())
	assert.True(t, totals.Total.IsZero())

	totals, err = ComputeTotals(Input{MarkupAmount: d("45.00"), TaxPct: d("8")})
	require.NoError(t, err)
	requireDecimal(t, "45.00", totals.Total)
}

func TestComputeTotalsDiscount(t *testing.T) {
	totals, err := ComputeTotals(Input{
		Lines:          []Line{{Quantity: d("1"), UnitPrice: d("200.00")}},
		TaxPct:         d("10"),
		DiscountAmount: d("15.00"),
	})
	require.NoError(t, err)
	requireDecimal(t, "205.00", totals.Total)

	totals, err = ComputeTotals(Input{
		Lines:       []Line{{Quantity: d("1"), UnitPrice: d("200.00")}},
		DiscountPct: d("10"),
		MarkupPct:   d("10"),
		Mode:        ModeChained,
	})
	require.NoError(t, err)
	requireDecimal(t, "20.00", totals.DiscountAmount)
	requireDecimal(t, "198.00", totals.Total)
}

func TestComputeTotalsRejectsOutOfDomainInput(t *testing.T) {
	cases := map[string]struct {
		in   Input
		want error
	}{
		"negative discount": {
			in:   Input{Lines: []Line{{Quantity: d("1"), UnitPrice: d("10")}}, DiscountAmount: d("-1")},
			want: ErrNegativeDiscount,
		},
		"negative quantity": {
			in:   Input{Lines: []Line{{Quantity: d("-1"), UnitPrice: d("10")}}},
			want: ErrNegativeQuantity,
		},
		"negative price": {
			in:   Input{Lines: []Line{{Quantity: d("1"), UnitPrice: d("-10")}}},
			want: ErrNegativePrice,
		},
		"negative tax": {
			in:   Input{TaxPct: d("-8")},
			want: ErrNegativeRate,
		},
		"discount above total": {
			in:   Input{Lines: []Line{{Quantity: d("1"), UnitPrice: d("10")}}, DiscountAmount: d("11")},
			want: ErrNegativeTotal,
		},
		"both discounts": {
			in:   Input{DiscountAmount: d("1"), DiscountPct: d("1")},
			want: ErrAmbiguousInput,
		},
		"flat markup in chained mode": {
			in:   Input{MarkupAmount: d("5"), Mode: ModeChained},
			want: ErrAmbiguousInput,
		},
		"unknown mode": {
			in:   Input{Mode: Mode("compound")},
			want: ErrUnknownMode,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ComputeTotals(tc.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want))
			assert.True(t, errors.Is(err, shared.ErrValidation))
		})
	}
}
