package exam

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-pdf/fpdf"

	"github.com/lklkevin/pear/internal/model"
)

// maxAlternatives caps how many alternative answers are printed.
const maxAlternatives = 3

// FileName is the download name for an exam export.
func FileName(exam *model.Exam) string {
	title := exam.Title
	if title == "" {
		title = "exam"
	}
	return title + ".pdf"
}

// WritePDF renders exam as A4 PDF into w. withAnswers adds each question's
// main answer and up to three alternatives.
func WritePDF(w io.Writer, exam *model.Exam, withAnswers bool) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(exam.Title, true)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	// Core fonts are cp1252.
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	width, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	body := width - left - right

	pdf.SetFont("Helvetica", "B", 22)
	pdf.MultiCell(body, 10, tr(exam.Title), "", "C", false)
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "I", 12)
	pdf.MultiCell(body, 6, tr(exam.Description), "", "C", false)
	pdf.Ln(8)

	const numWidth = 10
	for i, q := range exam.Questions {
		y := pdf.GetY()
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(numWidth, 6, strconv.Itoa(i+1)+".", "", 0, "L", false, 0, "")
		pdf.SetXY(left+numWidth, y)
		pdf.SetFont("Helvetica", "", 12)
		pdf.MultiCell(body-numWidth, 6, tr(q.Question), "", "L", false)

		if !withAnswers {
			pdf.Ln(8)
			continue
		}

		pdf.Ln(2)
		pdf.SetX(left + numWidth)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.SetTextColor(29, 78, 216)
		pdf.MultiCell(body-numWidth, 6, tr(fmt.Sprintf("Answer: %s (%s%% Confidence)", q.MainAnswer, formatConfidence(q.MainAnswerConfidence))), "", "L", false)
		pdf.SetTextColor(0, 0, 0)

		if alts := q.AlternativeAnswers; len(alts) > 0 {
			if len(alts) > maxAlternatives {
				alts = alts[:maxAlternatives]
			}
			pdf.SetX(left + numWidth)
			pdf.SetFont("Helvetica", "", 12)
			pdf.SetTextColor(120, 120, 120)
			pdf.CellFormat(body-numWidth, 6, "Alternative Answers:", "", 1, "L", false, 0, "")
			pdf.SetTextColor(0, 0, 0)
			for _, alt := range alts {
				pdf.SetX(left + numWidth + 5)
				pdf.MultiCell(body-numWidth-5, 6, tr(fmt.Sprintf("- %s (%s%%)", alt.Answer, formatConfidence(alt.Confidence))), "", "L", false)
			}
		}
		pdf.Ln(6)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return pdf.Output(w)
}

func formatConfidence(c float64) string {
	return strconv.FormatFloat(c, 'f', -1, 64)
}
