package result

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jung-kurt/gofpdf"
	"golang.org/x/xerrors"
	"wbbaudit/pkg/protocol"
)

const maxFailureRows = 200

// WritePDF renders a printable summary of the run into dir and returns the file path.
func WritePDF(dir string, run *Run) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", xerrors.Errorf("result: creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("REPORT_R_%s.pdf", run.ID))

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Bulletin board audit "+run.ID, true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "Bulletin board audit")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 10)
	status := "VERIFIED"
	if !run.Verified() {
		status = "FAILED"
	}
	for _, line := range [][2]string{
		{"Run", run.ID},
		{"Started", run.Started().UTC().Format("2006-01-02 15:04:05 MST")},
		{"Result", status},
		{"Outcome root", run.RootHex()},
	} {
		pdf.CellFormat(35, 6, line[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, line[1], "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	for i := range run.Reports {
		writeReportSection(pdf, &run.Reports[i])
	}

	if err := pdf.OutputFileAndClose(path); err != nil {
		return "", xerrors.Errorf("result: writing %s: %w", path, err)
	}
	return path, nil
}

func writeReportSection(pdf *gofpdf.Fpdf, r *protocol.Report) {
	failures := r.Failures()

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, r.Name)
	pdf.Ln(9)
	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("%d checked, %d failed", len(r.Outcomes), len(failures)))
	pdf.Ln(7)
	if len(failures) == 0 {
		pdf.Ln(3)
		return
	}

	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	pdf.CellFormat(50, 6, "ID", "1", 0, "L", true, 0, "")
	pdf.CellFormat(25, 6, "Failure", "1", 0, "L", true, 0, "")
	pdf.CellFormat(0, 6, "Message", "1", 1, "L", true, 0, "")

	pdf.SetFont("Helvetica", "", 8)
	for i, o := range failures {
		if i == maxFailureRows {
			pdf.MultiCell(0, 5, fmt.Sprintf("... %d more failures in the outcome CSV", len(failures)-i), "", "L", false)
			break
		}
		pdf.CellFormat(50, 5, o.ID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 5, o.Kind.String(), "1", 0, "L", false, 0, "")
		pdf.MultiCell(0, 5, o.Message, "1", "L", false)
	}
	pdf.Ln(4)
}
