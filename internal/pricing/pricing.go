// Package pricing computes line and document totals for bills. Every function is
// pure: totals are always re-derivable from the stored line inputs, and no
// intermediate amount is rounded. Only the grand total is rounded, to the
// configured currency unit.
package pricing

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)

	// DefaultRoundingUnit is the step the grand total is rounded to.
	DefaultRoundingUnit = decimal.New(1, -1)
)

// ErrInvalidLine rejects line inputs outside their domain.
var ErrInvalidLine = fmt.Errorf("pricing: invalid line: %w", shared.ErrValidation)

// LineInput are the raw, persisted pricing fields of a bill line.
type LineInput struct {
	Rate            decimal.Decimal `json:"rate"`
	Qty             decimal.Decimal `json:"qty"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	TaxPercent      decimal.Decimal `json:"tax_percent"`
}

// Validate checks ranges: rate >= 0, qty > 0, percentages within [0, 100].
func (in LineInput) Validate() error {
	switch {
	case in.Rate.IsNegative():
		return fmt.Errorf("%w: rate must not be negative", ErrInvalidLine)
	case !in.Qty.IsPositive():
		return fmt.Errorf("%w: qty must be positive", ErrInvalidLine)
	case in.DiscountPercent.IsNegative() || in.DiscountPercent.GreaterThan(hundred):
		return fmt.Errorf("%w: discount must be within 0..100", ErrInvalidLine)
	case in.TaxPercent.IsNegative() || in.TaxPercent.GreaterThan(hundred):
		return fmt.Errorf("%w: tax must be within 0..100", ErrInvalidLine)
	}
	return nil
}

// Line is the computed breakdown of one line.
type Line struct {
	Base      decimal.Decimal `json:"base"`
	Discount  decimal.Decimal `json:"discount"`
	Taxable   decimal.Decimal `json:"taxable"`
	Tax       decimal.Decimal `json:"tax"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// ComputeLine derives base, discount, taxable value, tax and total for one line.
func ComputeLine(in LineInput) Line {
	base := in.Rate.Mul(in.Qty)
	discount := base.Mul(in.DiscountPercent).Div(hundred)
	taxable := base.Sub(discount)
	tax := taxable.Mul(in.TaxPercent).Div(hundred)
	return Line{
		Base:      base,
		Discount:  discount,
		Taxable:   taxable,
		Tax:       tax,
		LineTotal: taxable.Add(tax),
	}
}

// Options control document level computation.
type Options struct {
	// InterState books the whole tax as IGST instead of splitting SGST/CGST.
	InterState bool
	// RoundingUnit is the currency step of the grand total; zero means DefaultRoundingUnit.
	RoundingUnit decimal.Decimal
}

// TaxBucket aggregates lines sharing a tax rate, as printed on GST invoices.
type TaxBucket struct {
	Rate    decimal.Decimal `json:"rate"`
	Taxable decimal.Decimal `json:"taxable"`
	Tax     decimal.Decimal `json:"tax"`
	SGST    decimal.Decimal `json:"sgst"`
	CGST    decimal.Decimal `json:"cgst"`
	IGST    decimal.Decimal `json:"igst"`
}

// Totals is the document level result and the snapshot stored on finalize.
type Totals struct {
	Lines         []Line          `json:"lines"`
	TaxSummary    []TaxBucket     `json:"tax_summary"`
	GrossAmount   decimal.Decimal `json:"gross_amount"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
	TaxableAmount decimal.Decimal `json:"taxable_amount"`
	TotalTax      decimal.Decimal `json:"total_tax"`
	SGST          decimal.Decimal `json:"sgst"`
	CGST          decimal.Decimal `json:"cgst"`
	IGST          decimal.Decimal `json:"igst"`
	RoundOff      decimal.Decimal `json:"round_off"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
}

// ComputeDocument aggregates all lines and applies the final rounding.
func ComputeDocument(lines []LineInput, opts Options) Totals {
	totals := Totals{Lines: make([]Line, 0, len(lines))}
	buckets := make(map[string]*TaxBucket)
	for _, in := range lines {
		line := ComputeLine(in)
		totals.Lines = append(totals.Lines, line)
		totals.GrossAmount = totals.GrossAmount.Add(line.Base)
		totals.TotalDiscount = totals.TotalDiscount.Add(line.Discount)
		totals.TaxableAmount = totals.TaxableAmount.Add(line.Taxable)
		totals.TotalTax = totals.TotalTax.Add(line.Tax)

		key := in.TaxPercent.String()
		b, ok := buckets[key]
		if !ok {
			b = &TaxBucket{Rate: in.TaxPercent}
			buckets[key] = b
		}
		b.Taxable = b.Taxable.Add(line.Taxable)
		b.Tax = b.Tax.Add(line.Tax)
	}

	totals.SGST, totals.CGST, totals.IGST = split(totals.TotalTax, opts.InterState)
	for _, b := range buckets {
		b.SGST, b.CGST, b.IGST = split(b.Tax, opts.InterState)
		totals.TaxSummary = append(totals.TaxSummary, *b)
	}
	sort.Slice(totals.TaxSummary, func(i, j int) bool {
		return totals.TaxSummary[i].Rate.LessThan(totals.TaxSummary[j].Rate)
	})

	exact := totals.TaxableAmount.Add(totals.TotalTax)
	rounded := Round(exact, opts.RoundingUnit)
	totals.RoundOff = rounded.Sub(exact)
	totals.GrandTotal = exact.Add(totals.RoundOff)
	return totals
}

func split(tax decimal.Decimal, interState bool) (sgst, cgst, igst decimal.Decimal) {
	if interState {
		return decimal.Zero, decimal.Zero, tax
	}
	half := tax.Div(two)
	return half, half, decimal.Zero
}

// Round rounds amount half away from zero to the nearest multiple of unit.
func Round(amount, unit decimal.Decimal) decimal.Decimal {
	if !unit.IsPositive() {
		unit = DefaultRoundingUnit
	}
	return amount.Div(unit).Round(0).Mul(unit)
}

// Diff lists the amount fields that differ between two snapshots. An empty
// result means the totals are identical.
func (t Totals) Diff(other Totals) []string {
	var fields []string
	check := func(name string, a, b decimal.Decimal) {
		if !a.Equal(b) {
			fields = append(fields, name)
		}
	}
	check("gross_amount", t.GrossAmount, other.GrossAmount)
	check("total_discount", t.TotalDiscount, other.TotalDiscount)
	check("taxable_amount", t.TaxableAmount, other.TaxableAmount)
	check("total_tax", t.TotalTax, other.TotalTax)
	check("sgst", t.SGST, other.SGST)
	check("cgst", t.CGST, other.CGST)
	check("igst", t.IGST, other.IGST)
	check("round_off", t.RoundOff, other.RoundOff)
	check("grand_total", t.GrandTotal, other.GrandTotal)
	if len(t.Lines) != len(other.Lines) {
		return append(fields, "lines")
	}
	for i := range t.Lines {
		prefix := fmt.Sprintf("lines[%d].", i)
		check(prefix+"line_total", t.Lines[i].LineTotal, other.Lines[i].LineTotal)
		check(prefix+"tax", t.Lines[i].Tax, other.Lines[i].Tax)
	}
	return fields
}

// Equal reports whether two snapshots carry the same amounts.
func (t Totals) Equal(other Totals) bool {
	return len(t.Diff(other)) == 0
}
