package infra

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"
	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
)

// PDFRenderer implementa port.Renderer com go-pdf/fpdf (A4, fontes core).
// As fontes core são cp1252; o tradutor cobre acentos e o símbolo €.
type PDFRenderer struct{}

// NewPDFRenderer cria o renderer.
func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{}
}

const (
	pageMargin  = 15.0
	lineHeight  = 6.0
	colDesc     = 95.0
	colQty      = 20.0
	colUnit     = 32.5
	colTotal    = 32.5
	franchiseNB = "TVA non applicable, art. 293 B du CGI"
)

// Render gera o PDF do devis ou da facture.
func (r *PDFRenderer) Render(ctx context.Context, data *domain.RenderData) ([]byte, error) {
	_, span := tracer.Start(ctx, "PDFRenderer.Render")
	defer span.End()
	span.SetAttributes(attribute.String("document.number", data.Number), attribute.String("document.kind", string(data.Kind)))

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.SetCreationDate(data.Date)
	pdf.SetTitle(documentTitle(data), true)
	pdf.SetAuthor(data.Company.Name, true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()

	r.header(pdf, tr, data)
	r.parties(pdf, tr, data)
	r.lines(pdf, tr, data)
	r.totals(pdf, tr, data)
	r.footer(pdf, tr, data)

	if err := pdf.Error(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("render %s: %w", data.Number, err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("write pdf %s: %w", data.Number, err)
	}
	return buf.Bytes(), nil
}

func documentTitle(data *domain.RenderData) string {
	if data.Kind == domain.KindQuote {
		return "Devis " + data.Number
	}
	return "Facture " + data.Number
}

func (r *PDFRenderer) header(pdf *fpdf.Fpdf, tr func(string) string, data *domain.RenderData) {
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 9, tr(data.Company.Name), "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	for _, l := range companyLines(&data.Company) {
		pdf.CellFormat(0, 5, tr(l), "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	title := "DEVIS"
	if data.Kind == domain.KindInvoice {
		title = "FACTURE"
	}
	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, tr(fmt.Sprintf("%s N° %s", title, data.Number)), "", 1, "R", false, 0, "")

	if data.Kind == domain.KindInvoice && !data.Validated {
		pdf.SetTextColor(200, 0, 0)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 7, "BROUILLON", "", 1, "R", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	}

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, tr("Date : "+data.Date.Format("02/01/2006")), "", 1, "R", false, 0, "")
	if data.Kind == domain.KindQuote && data.ValidityDays > 0 {
		pdf.CellFormat(0, 6, tr(fmt.Sprintf("Validité : %d jours", data.ValidityDays)), "", 1, "R", false, 0, "")
	}
	pdf.Ln(4)
}

func companyLines(c *domain.Company) []string {
	var out []string
	if c.Address != "" {
		out = append(out, c.Address)
	}
	if city := strings.TrimSpace(c.PostalCode + " " + c.City); city != "" {
		out = append(out, city)
	}
	if c.SIREN != "" {
		out = append(out, "SIREN : "+c.SIREN)
	}
	if c.VATNumber != "" {
		out = append(out, "TVA intracommunautaire : "+c.VATNumber)
	}
	return out
}

func (r *PDFRenderer) parties(pdf *fpdf.Fpdf, tr func(string) string, data *domain.RenderData) {
	x := pdf.GetX() + 100
	y := pdf.GetY()
	pdf.SetXY(x, y)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 6, tr("Client"), "", 2, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, tr(data.Client.Name), "", 2, "L", false, 0, "")
	if data.Client.Address != "" {
		pdf.MultiCell(0, 5, tr(data.Client.Address), "", "L", false)
		pdf.SetX(x)
	}
	if data.Client.SIREN != "" {
		pdf.CellFormat(0, 5, tr("SIREN : "+data.Client.SIREN), "", 2, "L", false, 0, "")
	}
	pdf.SetX(pageMargin)
	pdf.Ln(10)
}

func (r *PDFRenderer) lines(pdf *fpdf.Fpdf, tr func(string) string, data *domain.RenderData) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(235, 235, 235)
	pdf.CellFormat(colDesc, 8, tr("Désignation"), "1", 0, "L", true, 0, "")
	pdf.CellFormat(colQty, 8, tr("Qté"), "1", 0, "R", true, 0, "")
	pdf.CellFormat(colUnit, 8, tr("P.U. HT"), "1", 0, "R", true, 0, "")
	pdf.CellFormat(colTotal, 8, tr("Total HT"), "1", 1, "R", true, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	for _, l := range data.Lines {
		pdf.CellFormat(colDesc, lineHeight, tr(fitWidth(pdf, tr, l.Description, colDesc-2)), "1", 0, "L", false, 0, "")
		pdf.CellFormat(colQty, lineHeight, tr(quantity(l.Quantity)), "1", 0, "R", false, 0, "")
		pdf.CellFormat(colUnit, lineHeight, tr(domain.FormatMoney(l.UnitPrice)), "1", 0, "R", false, 0, "")
		pdf.CellFormat(colTotal, lineHeight, tr(domain.FormatMoney(l.Total())), "1", 1, "R", false, 0, "")
	}
	pdf.Ln(4)
}

func (r *PDFRenderer) totals(pdf *fpdf.Fpdf, tr func(string) string, data *domain.RenderData) {
	labelW := colQty + colUnit
	offset := colDesc

	row := func(label, value string, bold bool) {
		style := ""
		if bold {
			style = "B"
		}
		pdf.SetFont("Helvetica", style, 10)
		pdf.SetX(pageMargin + offset)
		pdf.CellFormat(labelW, lineHeight+1, tr(label), "1", 0, "L", false, 0, "")
		pdf.CellFormat(colTotal, lineHeight+1, tr(value), "1", 1, "R", false, 0, "")
	}

	row("Total HT", domain.FormatMoney(data.Totals.HT), false)
	if data.TaxRate > 0 {
		row("TVA "+quantity(data.TaxRate)+" %", domain.FormatMoney(data.Totals.TVA), false)
	}
	row("Total TTC", domain.FormatMoney(data.Totals.TTC), true)
	pdf.Ln(6)
}

func (r *PDFRenderer) footer(pdf *fpdf.Fpdf, tr func(string) string, data *domain.RenderData) {
	pdf.SetFont("Helvetica", "", 9)
	if data.TaxRate == 0 {
		pdf.MultiCell(0, 5, tr(franchiseNB), "", "L", false)
	}
	if data.PaymentTerms != "" {
		pdf.MultiCell(0, 5, tr("Conditions de paiement : "+data.PaymentTerms), "", "L", false)
	}
	if data.Kind == domain.KindInvoice && data.Company.IBAN != "" {
		bank := "IBAN : " + data.Company.IBAN
		if data.Company.BIC != "" {
			bank += "  BIC : " + data.Company.BIC
		}
		pdf.MultiCell(0, 5, tr(bank), "", "L", false)
	}
	if data.Kind == domain.KindQuote {
		pdf.Ln(4)
		pdf.MultiCell(0, 5, tr("Bon pour accord, date et signature du client :"), "", "L", false)
	}
	if data.Company.LegalNotice != "" {
		pdf.Ln(4)
		pdf.MultiCell(0, 4, tr(data.Company.LegalNotice), "", "L", false)
	}
}

func quantity(q float64) string {
	return strings.Replace(strconv.FormatFloat(q, 'f', -1, 64), ".", ",", 1)
}

// fitWidth corta a descrição (UTF-8) com "..." até caber em w mm.
func fitWidth(pdf *fpdf.Fpdf, tr func(string) string, s string, w float64) string {
	if pdf.GetStringWidth(tr(s)) <= w {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && pdf.GetStringWidth(tr(string(runes)+"...")) > w {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}
