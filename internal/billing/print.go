package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/siddharthggs/mediggs-sub000/internal/inventory"
	"github.com/siddharthggs/mediggs-sub000/internal/masterdata"
	"github.com/siddharthggs/mediggs-sub000/internal/pricing"
	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

// BatchLookup resolves batch numbers for printed sales lines.
type BatchLookup interface {
	GetBatch(ctx context.Context, id int64) (inventory.Batch, error)
}

// WithBatches attaches the batch lookup used by PrintData.
func (s *Service) WithBatches(b BatchLookup) *Service {
	s.batches = b
	return s
}

var printLocale = language.MustParse("en-IN")

// PrintItem is one printed line with amounts already formatted.
type PrintItem struct {
	No         int      `json:"no"`
	ProductID  int64    `json:"product_id"`
	Name       string   `json:"name"`
	HSN        string   `json:"hsn"`
	Batches    []string `json:"batches,omitempty"`
	Expiry     string   `json:"expiry,omitempty"`
	Qty        string   `json:"qty"`
	FreeQty    string   `json:"free_qty"`
	Rate       string   `json:"rate"`
	Discount   string   `json:"discount_percent"`
	Taxable    string   `json:"taxable"`
	TaxPercent string   `json:"tax_percent"`
	Tax        string   `json:"tax"`
	Total      string   `json:"total"`
}

// PrintTax is one row of the GST summary.
type PrintTax struct {
	Rate    string `json:"rate"`
	Taxable string `json:"taxable"`
	SGST    string `json:"sgst"`
	CGST    string `json:"cgst"`
	IGST    string `json:"igst"`
}

// PrintData is what the template renderer needs for a finalized bill. It
// carries no markup.
type PrintData struct {
	Bill          Bill                `json:"bill"`
	Company       *masterdata.Company `json:"company,omitempty"`
	Party         *masterdata.Party   `json:"party,omitempty"`
	Items         []PrintItem         `json:"items"`
	TaxSummary    []PrintTax          `json:"tax_summary"`
	GrossAmount   string              `json:"gross_amount"`
	Discount      string              `json:"discount"`
	Taxable       string              `json:"taxable"`
	SGST          string              `json:"sgst"`
	CGST          string              `json:"cgst"`
	IGST          string              `json:"igst"`
	RoundOff      string              `json:"round_off"`
	GrandTotal    string              `json:"grand_total"`
	AmountInWords string              `json:"amount_in_words"`
	Date          string              `json:"date"`
}

// FormatAmount renders an amount with two decimals and Indian digit grouping.
func FormatAmount(v decimal.Decimal) string {
	p := message.NewPrinter(printLocale)
	return p.Sprint(number.Decimal(v.Round(2).InexactFloat64(), number.Scale(2)))
}

func formatQty(v decimal.Decimal) string {
	return message.NewPrinter(printLocale).Sprint(number.Decimal(v.InexactFloat64()))
}

// PrintData assembles the print view of a finalized or cancelled bill. Totals
// come from the finalize snapshot.
func (s *Service) PrintData(ctx context.Context, id int64) (*PrintData, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Totals == nil {
		return nil, ErrNotFinalized
	}
	totals := *b.Totals
	out := &PrintData{
		Bill:          b,
		GrossAmount:   FormatAmount(totals.GrossAmount),
		Discount:      FormatAmount(totals.TotalDiscount),
		Taxable:       FormatAmount(totals.TaxableAmount),
		SGST:          FormatAmount(totals.SGST),
		CGST:          FormatAmount(totals.CGST),
		IGST:          FormatAmount(totals.IGST),
		RoundOff:      FormatAmount(totals.RoundOff),
		GrandTotal:    FormatAmount(totals.GrandTotal),
		AmountInWords: AmountInWords(totals.GrandTotal),
		Date:          b.Date.Format("02-01-2006"),
	}
	if s.md != nil {
		party, err := s.md.Party(ctx, b.PartyID)
		if err != nil {
			return nil, err
		}
		out.Party = &party
		if b.CompanyID > 0 {
			company, err := s.md.Company(ctx, b.CompanyID)
			if err != nil {
				return nil, err
			}
			out.Company = &company
		}
	}
	for _, t := range totals.TaxSummary {
		out.TaxSummary = append(out.TaxSummary, PrintTax{
			Rate:    t.Rate.String(),
			Taxable: FormatAmount(t.Taxable),
			SGST:    FormatAmount(t.SGST),
			CGST:    FormatAmount(t.CGST),
			IGST:    FormatAmount(t.IGST),
		})
	}
	items, err := s.printItems(ctx, b, totals)
	if err != nil {
		return nil, err
	}
	out.Items = items
	return out, nil
}

func (s *Service) printItems(ctx context.Context, b Bill, totals pricing.Totals) ([]PrintItem, error) {
	lines := b.Lines()
	items := make([]PrintItem, len(lines))
	for i, l := range lines {
		item := PrintItem{
			No:         i + 1,
			ProductID:  l.ProductID,
			Qty:        formatQty(l.Qty),
			FreeQty:    formatQty(l.FreeQty),
			Rate:       FormatAmount(l.Rate),
			Discount:   l.DiscountPercent.String(),
			TaxPercent: l.TaxPercent.String(),
		}
		if i < len(totals.Lines) {
			item.Taxable = FormatAmount(totals.Lines[i].Taxable)
			item.Tax = FormatAmount(totals.Lines[i].Tax)
			item.Total = FormatAmount(totals.Lines[i].LineTotal)
		}
		if s.md != nil {
			p, err := s.md.Product(ctx, l.ProductID)
			if err != nil && !errors.Is(err, shared.ErrNotFound) {
				return nil, err
			}
			item.Name, item.HSN = p.Name, p.HSN
		}
		items[i] = item
	}
	if b.Type == TypePurchase {
		for i, l := range b.PurchaseLines {
			items[i].Batches = []string{l.BatchNumber}
			if !l.Expiry.IsZero() {
				items[i].Expiry = l.Expiry.Format("01/06")
			}
		}
		return items, nil
	}
	if s.batches == nil {
		return items, nil
	}
	for i, l := range b.SalesLines {
		var earliest time.Time
		for _, a := range l.Allocations {
			if a.BatchID == 0 {
				continue
			}
			batch, err := s.batches.GetBatch(ctx, a.BatchID)
			if err != nil {
				return nil, err
			}
			items[i].Batches = append(items[i].Batches, batch.Number)
			if !batch.Expiry.IsZero() && (earliest.IsZero() || batch.Expiry.Before(earliest)) {
				earliest = batch.Expiry
			}
		}
		if !earliest.IsZero() {
			items[i].Expiry = earliest.Format("01/06")
		}
	}
	return items, nil
}

var (
	ones = []string{"Zero", "One", "Two", "Three", "Four", "Five", "Six", "Seven", "Eight", "Nine", "Ten",
		"Eleven", "Twelve", "Thirteen", "Fourteen", "Fifteen", "Sixteen", "Seventeen", "Eighteen", "Nineteen"}
	tens = []string{"", "", "Twenty", "Thirty", "Forty", "Fifty", "Sixty", "Seventy", "Eighty", "Ninety"}
)

// AmountInWords spells an amount in the Indian numbering system, for example
// "Rupees Two Hundred One and Sixty Paise Only".
func AmountInWords(amount decimal.Decimal) string {
	amount = amount.Abs().Round(2)
	rupees := amount.Truncate(0)
	paise := amount.Sub(rupees).Mul(decimal.NewFromInt(100)).IntPart()
	words := "Rupees " + indianWords(rupees.IntPart())
	if paise > 0 {
		words += " and " + belowHundred(paise) + " Paise"
	}
	return words + " Only"
}

func indianWords(n int64) string {
	if n == 0 {
		return ones[0]
	}
	var parts []string
	if n >= 10000000 {
		parts = append(parts, indianWords(n/10000000)+" Crore")
		n %= 10000000
	}
	for _, step := range []struct {
		size int64
		name string
	}{{100000, "Lakh"}, {1000, "Thousand"}, {100, "Hundred"}} {
		if n >= step.size {
			parts = append(parts, belowHundred(n/step.size)+" "+step.name)
			n %= step.size
		}
	}
	if n > 0 {
		parts = append(parts, belowHundred(n))
	}
	return strings.Join(parts, " ")
}

func belowHundred(n int64) string {
	if n < 20 {
		return ones[n]
	}
	if n%10 == 0 {
		return tens[n/10]
	}
	return tens[n/10] + " " + ones[n%10]
}
