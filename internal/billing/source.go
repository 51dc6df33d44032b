package billing

import (
	"context"

	"github.com/siddharthggs/mediggs-sub000/internal/einvoice"
)

// Document renders a bill for IRN submission. It makes Service an
// einvoice.BillSource.
func (s *Service) Document(ctx context.Context, billID int64) (einvoice.Document, error) {
	b, err := s.store.Get(ctx, billID)
	if err != nil {
		return einvoice.Document{}, err
	}
	totals := b.Compute()
	if b.Totals != nil {
		totals = *b.Totals
	}
	doc := einvoice.Document{
		BillID:        b.ID,
		Type:          string(b.Type),
		Number:        b.Number,
		Date:          b.Date,
		Status:        string(b.Status),
		TaxableAmount: totals.TaxableAmount,
		SGST:          totals.SGST,
		CGST:          totals.CGST,
		IGST:          totals.IGST,
		RoundOff:      totals.RoundOff,
		GrandTotal:    totals.GrandTotal,
	}
	if s.md != nil {
		party, err := s.md.Party(ctx, b.PartyID)
		if err != nil {
			return einvoice.Document{}, err
		}
		doc.BuyerName, doc.BuyerGSTIN, doc.PlaceOfSupply = party.Name, party.GSTIN, party.StateCode
		if b.CompanyID > 0 {
			company, err := s.md.Company(ctx, b.CompanyID)
			if err != nil {
				return einvoice.Document{}, err
			}
			doc.SellerName, doc.SellerGSTIN = company.Name, company.GSTIN
		}
	}
	products, err := s.products(ctx, lineProductIDs(b))
	if err != nil {
		return einvoice.Document{}, err
	}
	for i, l := range b.Lines() {
		item := einvoice.DocumentItem{
			ProductID: l.ProductID,
			Name:      products[l.ProductID].Name,
			HSN:       products[l.ProductID].HSN,
			Qty:       l.Qty,
			FreeQty:   l.FreeQty,
			Rate:      l.Rate,
			TaxRate:   l.TaxPercent,
		}
		if i < len(totals.Lines) {
			item.Taxable = totals.Lines[i].Taxable
			item.Tax = totals.Lines[i].Tax
			item.Total = totals.Lines[i].LineTotal
		}
		doc.Items = append(doc.Items, item)
	}
	return doc, nil
}

func lineProductIDs(b Bill) []int64 {
	lines := b.Lines()
	ids := make([]int64, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	return ids
}
