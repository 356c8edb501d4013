package orders

import (
	"context"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joao-fontenele/threadline/internal/domain"
)

const exportSheet = "Orders"

var exportHeader = []any{
	"Order Number", "Placed At", "Customer ID", "Email", "Status", "Payment Status",
	"Items", "Subtotal", "Tax", "Shipping", "Discount", "Total",
	"Carrier", "Tracking Number", "City", "Postal Code",
}

// Export writes the orders matching filter as an XLSX workbook.
func (s *Service) Export(ctx context.Context, filter Filter, w io.Writer) (int, error) {
	orders, err := s.store.List(ctx, filter)
	if err != nil {
		return 0, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return 0, err
	}
	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return 0, err
	}

	for i := range orders {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return 0, err
		}
		row := exportRow(&orders[i])
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return 0, err
		}
	}

	if err := f.SetPanes(exportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return 0, err
	}

	if _, err := f.WriteTo(w); err != nil {
		return 0, err
	}
	return len(orders), nil
}

func exportRow(o *domain.Order) []any {
	itemCount := 0
	for _, item := range o.Items {
		itemCount += item.Quantity
	}
	return []any{
		o.OrderNumber,
		o.CreatedAt.Format(time.RFC3339),
		o.CustomerID,
		o.Email,
		string(o.Status),
		string(o.PaymentStatus),
		itemCount,
		o.Subtotal.InexactFloat64(),
		o.TaxAmount.InexactFloat64(),
		o.ShippingCost.InexactFloat64(),
		o.DiscountAmount.InexactFloat64(),
		o.TotalAmount.InexactFloat64(),
		o.Carrier,
		o.TrackingNumber,
		o.ShippingAddress.City,
		o.ShippingAddress.PostalCode,
	}
}
