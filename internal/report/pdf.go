package report

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"example.com/signalgate/internal/check"
)

// SaveAcceptancePDF renders the given acceptance report into a PDF document.
// A report carrying a manifest digest gets the digest printed next to a QR
// code of it.
func SaveAcceptancePDF(rep check.AcceptanceReport, out string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Signalset Acceptance Report", false)
	pdf.SetAuthor("signalctl", false)
	pdf.SetCreator("signalctl", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, "Signalset Acceptance Report")
	if err := addManifestSection(pdf, rep.ManifestDigest); err != nil {
		return err
	}
	addSummarySection(pdf, rep)
	addGateMatrixSection(pdf, rep.GateMatrix)
	addFindingsSection(pdf, rep.Findings)

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addManifestSection(pdf *gofpdf.Fpdf, digest string) error {
	if strings.TrimSpace(digest) == "" {
		return nil
	}
	png, err := ManifestHashToQR(digest, 256)
	if err != nil {
		return err
	}
	const name = "manifest-qr"
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(png))
	x, y := pdf.GetXY()
	pdf.ImageOptions(name, x, y, 30, 30, false, opts, 0, "")

	pdf.SetXY(x+34, y)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.Cell(0, 6, "Manifest digest")
	pdf.SetXY(x+34, y+7)
	pdf.SetFont("Courier", "", 8)
	pdf.MultiCell(0, 4, sanitizeHash(digest), "", "L", false)
	pdf.SetXY(x, y+34)
	return nil
}

func addSummarySection(pdf *gofpdf.Fpdf, rep check.AcceptanceReport) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Summary")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	items := []struct {
		label string
		value string
	}{
		{label: "Test Cases", value: strconv.Itoa(rep.Summary.Cases)},
		{label: "Passed", value: strconv.Itoa(rep.Summary.PassedCases)},
		{label: "Failed", value: strconv.Itoa(rep.Summary.FailedCases)},
		{label: "Total Findings", value: strconv.Itoa(rep.Summary.Total)},
		{label: "Errors", value: strconv.Itoa(rep.Summary.Errors)},
		{label: "Warnings", value: strconv.Itoa(rep.Summary.Warnings)},
		{label: "Overall", value: passLabel(rep.Summary.Pass)},
	}
	if !rep.GeneratedAt.IsZero() {
		items = append(items, struct {
			label string
			value string
		}{label: "Generated", value: rep.GeneratedAt.Format(time.RFC3339)})
	}
	for _, item := range items {
		pdf.CellFormat(50, 6, item.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, item.value, "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func addGateMatrixSection(pdf *gofpdf.Fpdf, rows []check.GateResult) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Gate Matrix")
	pdf.Ln(9)

	headers := []string{"Model Year", "Files", "Cases", "Passed", "Failed", "Findings", "Gate"}
	widths := []float64{30, 22, 24, 24, 24, 26, 30}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	lineHeight := 5.0
	for _, row := range rows {
		values := []string{
			strconv.Itoa(row.Year),
			strconv.Itoa(row.Files),
			strconv.Itoa(row.Cases),
			strconv.Itoa(row.Passed),
			strconv.Itoa(row.Failed),
			strconv.Itoa(row.Findings),
			passLabel(row.Pass),
		}
		renderTableRow(pdf, widths, values, lineHeight)
	}
	pdf.Ln(4)
}

func addFindingsSection(pdf *gofpdf.Fpdf, findings []check.Diagnostic) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Findings")
	pdf.Ln(9)

	if len(findings) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, "No findings recorded.", "", "L", false)
		return
	}

	for i, d := range findings {
		pdf.SetFont("Helvetica", "B", 10)
		header := fmt.Sprintf("%d. %s (%s)", i+1, emptyFallback(d.Status, "-"), severityLabel(d.Severity))
		if d.Signal != "" {
			header += " " + d.Signal
		}
		pdf.MultiCell(0, 5, header, "", "L", false)

		if msg := strings.TrimSpace(d.Message); msg != "" {
			pdf.SetFont("Helvetica", "", 10)
			pdf.MultiCell(0, 5, msg, "", "L", false)
		}

		if meta := findingMetadata(d); meta != "" {
			pdf.SetFont("Helvetica", "", 9)
			pdf.MultiCell(0, 4, meta, "", "L", false)
		}
		pdf.Ln(2)
	}
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		pdf.MultiCell(widths[i], lineHeight, strings.Join(lines, "\n"), "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func passLabel(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}

func severityLabel(sev check.Severity) string {
	if s := strings.TrimSpace(string(sev)); s != "" {
		return s
	}
	return "UNKNOWN"
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}

func findingMetadata(d check.Diagnostic) string {
	parts := make([]string, 0, 5)
	if d.File != "" {
		parts = append(parts, fmt.Sprintf("%s case %d", d.File, d.Case))
	}
	if d.ModelYear != 0 {
		parts = append(parts, fmt.Sprintf("Model year %d", d.ModelYear))
	}
	if d.Signalset != "" {
		parts = append(parts, "Signalset "+d.Signalset)
	}
	if d.Response != "" {
		parts = append(parts, "Response "+d.Response)
	}
	if d.Expected != nil || d.Actual != nil {
		parts = append(parts, fmt.Sprintf("Expected %v, decoded %v", d.Expected, d.Actual))
	}
	return strings.Join(parts, " | ")
}
