// Package export writes invoice reports to spreadsheet files.
package export

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/facturio/factura-cli/internal/model"
)

// sheetName is the single report sheet.
const sheetName = "Facturas"

var headers = []string{
	"ID", "Nº Factura", "Fecha", "Proveedor", "Categoría", "Tipo",
	"Importe", "Moneda", "Consumo", "Unidad", "Precio Unitario",
	"Impuestos", "Periodo", "Observaciones",
}

// WriteInvoices writes the invoice report to an XLSX file at path.
func WriteInvoices(path string, invoices []model.Invoice) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range headers {
		header.AddCell().SetString(h)
	}

	for _, inv := range invoices {
		row := sheet.AddRow()
		row.AddCell().SetInt64(inv.ID)
		row.AddCell().SetString(inv.InvoiceNumber)
		row.AddCell().SetString(inv.Date)
		row.AddCell().SetString(inv.VendorName)
		row.AddCell().SetString(inv.Category)
		row.AddCell().SetString(inv.Type)
		row.AddCell().SetFloatWithFormat(inv.TotalAmount, "0.00")
		row.AddCell().SetString(inv.Currency)
		setOptionalFloat(row.AddCell(), inv.Consumption)
		row.AddCell().SetString(inv.Unit)
		setOptionalFloat(row.AddCell(), inv.UnitPrice)
		setOptionalFloat(row.AddCell(), inv.Taxes)
		row.AddCell().SetString(inv.Period)
		row.AddCell().SetString(inv.Observations)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "export: save file")
	}
	zap.L().Info("export: report written",
		zap.String("path", path),
		zap.Int("invoices", len(invoices)),
	)
	return nil
}

// setOptionalFloat leaves the cell blank when the value is absent, so empty
// and zero stay distinguishable in the report.
func setOptionalFloat(cell *xlsx.Cell, v *float64) {
	if v == nil {
		return
	}
	cell.SetFloat(*v)
}
