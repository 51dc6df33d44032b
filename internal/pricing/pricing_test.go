package pricing

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, d(want).Equal(got), "want %s, got %s", want, got)
}

func TestComputeLineTaxMath(t *testing.T) {
	line := ComputeLine(LineInput{Rate: d("100"), Qty: d("2"), DiscountPercent: d("10"), TaxPercent: d("12")})

	requireDec(t, "200", line.Base)
	requireDec(t, "20", line.Discount)
	requireDec(t, "180", line.Taxable)
	requireDec(t, "21.6", line.Tax)
	requireDec(t, "201.6", line.LineTotal)
}

func TestComputeDocumentSplitsIntraStateTax(t *testing.T) {
	totals := ComputeDocument([]LineInput{{Rate: d("100"), Qty: d("2"), DiscountPercent: d("10"), TaxPercent: d("12")}}, Options{})

	requireDec(t, "200", totals.GrossAmount)
	requireDec(t, "20", totals.TotalDiscount)
	requireDec(t, "180", totals.TaxableAmount)
	requireDec(t, "21.6", totals.TotalTax)
	requireDec(t, "10.8", totals.SGST)
	requireDec(t, "10.8", totals.CGST)
	requireDec(t, "0", totals.IGST)
	requireDec(t, "0", totals.RoundOff)
	requireDec(t, "201.6", totals.GrandTotal)
}

func TestComputeDocumentInterStateUsesIGST(t *testing.T) {
	totals := ComputeDocument([]LineInput{{Rate: d("100"), Qty: d("2"), DiscountPercent: d("10"), TaxPercent: d("12")}}, Options{InterState: true})

	requireDec(t, "21.6", totals.IGST)
	requireDec(t, "0", totals.SGST)
	requireDec(t, "0", totals.CGST)
}

func TestComputeDocumentRoundOff(t *testing.T) {
	// taxable 180.03 + tax 21.60 = 201.63
	totals := ComputeDocument([]LineInput{
		{Rate: d("100"), Qty: d("2"), DiscountPercent: d("10"), TaxPercent: d("12")},
		{Rate: d("0.03"), Qty: d("1"), DiscountPercent: d("0"), TaxPercent: d("0")},
	}, Options{})

	requireDec(t, "201.63", totals.TaxableAmount.Add(totals.TotalTax))
	requireDec(t, "-0.03", totals.RoundOff)
	requireDec(t, "201.60", totals.GrandTotal)
}

func TestComputeDocumentWholeRupeeRounding(t *testing.T) {
	totals := ComputeDocument([]LineInput{{Rate: d("201.5"), Qty: d("1")}}, Options{RoundingUnit: d("1")})

	requireDec(t, "0.5", totals.RoundOff)
	requireDec(t, "202", totals.GrandTotal)
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	unit := d("0.1")
	requireDec(t, "0.1", Round(d("0.05"), unit))
	requireDec(t, "-0.1", Round(d("-0.05"), unit))
	requireDec(t, "201.6", Round(d("201.64"), unit))
	requireDec(t, "0.1", Round(d("0.05"), decimal.Zero))
}

func TestTaxSummaryGroupsByRate(t *testing.T) {
	totals := ComputeDocument([]LineInput{
		{Rate: d("10"), Qty: d("10"), TaxPercent: d("12")},
		{Rate: d("50"), Qty: d("1"), TaxPercent: d("5")},
		{Rate: d("20"), Qty: d("5"), TaxPercent: d("12")},
	}, Options{})

	require.Len(t, totals.TaxSummary, 2)
	requireDec(t, "5", totals.TaxSummary[0].Rate)
	requireDec(t, "50", totals.TaxSummary[0].Taxable)
	requireDec(t, "12", totals.TaxSummary[1].Rate)
	requireDec(t, "200", totals.TaxSummary[1].Taxable)
	requireDec(t, "24", totals.TaxSummary[1].Tax)
	requireDec(t, "12", totals.TaxSummary[1].SGST)
}

func TestSnapshotRoundTrip(t *testing.T) {
	inputs := []LineInput{
		{Rate: d("37.45"), Qty: d("3"), DiscountPercent: d("7.5"), TaxPercent: d("12")},
		{Rate: d("112.10"), Qty: d("11"), DiscountPercent: d("2"), TaxPercent: d("18")},
	}
	snapshot := ComputeDocument(inputs, Options{})

	raw, err := json.Marshal(snapshot)
	require.NoError(t, err)
	var stored Totals
	require.NoError(t, json.Unmarshal(raw, &stored))

	recomputed := ComputeDocument(inputs, Options{})
	assert.Empty(t, stored.Diff(recomputed))
	assert.True(t, stored.Equal(recomputed))
}

func TestDiffReportsDrift(t *testing.T) {
	a := ComputeDocument([]LineInput{{Rate: d("10"), Qty: d("1")}}, Options{})
	b := ComputeDocument([]LineInput{{Rate: d("11"), Qty: d("1")}}, Options{})
	assert.Contains(t, a.Diff(b), "grand_total")
	assert.Contains(t, a.Diff(b), "lines[0].line_total")
}

func TestLineValidate(t *testing.T) {
	require.NoError(t, LineInput{Rate: d("1"), Qty: d("1"), DiscountPercent: d("0"), TaxPercent: d("5")}.Validate())
	require.ErrorIs(t, LineInput{Rate: d("1"), Qty: d("0")}.Validate(), shared.ErrValidation)
	require.ErrorIs(t, LineInput{Rate: d("-1"), Qty: d("1")}.Validate(), ErrInvalidLine)
	require.ErrorIs(t, LineInput{Rate: d("1"), Qty: d("1"), DiscountPercent: d("101")}.Validate(), ErrInvalidLine)
	require.ErrorIs(t, LineInput{Rate: d("1"), Qty: d("1"), TaxPercent: d("-5")}.Validate(), ErrInvalidLine)
}
