// Package export writes term reports as Excel workbooks.
package export

import (
	"fmt"
	"io"
	"log"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"rollbook-server-go/models"
)

const (
	SheetSummary      = "Summary"
	SheetAttendance   = "Attendance"
	SheetObservations = "Observations"
)

// ContentType of the workbooks written by WriteTermReport.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// FileName suggests a download name, e.g. "3° A - T1.xlsx".
func FileName(r models.TermReport) string {
	return fmt.Sprintf("%s - %s.xlsx", r.Course.Name, r.TermID)
}

// WriteTermReport renders r into a workbook with a summary sheet (grade and
// attendance per student), an attendance grid (one column per class date)
// and the observations in chronological order.
func WriteTermReport(w io.Writer, r models.TermReport) error {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("Error closing report workbook: %v", err)
		}
	}()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.Wrap(err, "failed to create header style")
	}

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return errors.Wrap(err, "failed to name summary sheet")
	}
	if err := writeSummary(f, r, bold); err != nil {
		return err
	}
	if _, err := f.NewSheet(SheetAttendance); err != nil {
		return errors.Wrap(err, "failed to add attendance sheet")
	}
	if err := writeAttendance(f, r, bold); err != nil {
		return err
	}
	if _, err := f.NewSheet(SheetObservations); err != nil {
		return errors.Wrap(err, "failed to add observations sheet")
	}
	if err := writeObservations(f, r, bold); err != nil {
		return err
	}
	f.SetActiveSheet(0)

	if err := f.Write(w); err != nil {
		return errors.Wrap(err, "failed to write report workbook")
	}
	return nil
}

// sheetWriter appends rows to one sheet and remembers the first error.
type sheetWriter struct {
	f     *excelize.File
	sheet string
	row   int
	err   error
}

func (sw *sheetWriter) append(values ...interface{}) {
	if sw.err != nil {
		return
	}
	sw.row++
	cell, err := excelize.CoordinatesToCellName(1, sw.row)
	if err != nil {
		sw.err = err
		return
	}
	sw.err = sw.f.SetSheetRow(sw.sheet, cell, &values)
}

func (sw *sheetWriter) style(style, cols int) {
	if sw.err != nil || cols < 1 {
		return
	}
	first, _ := excelize.CoordinatesToCellName(1, sw.row)
	last, _ := excelize.CoordinatesToCellName(cols, sw.row)
	sw.err = sw.f.SetCellStyle(sw.sheet, first, last, style)
}

func (sw *sheetWriter) blank() { sw.row++ }

func (sw *sheetWriter) done() error {
	return errors.Wrapf(sw.err, "failed to write sheet %s", sw.sheet)
}

func writeSummary(f *excelize.File, r models.TermReport, bold int) error {
	sw := &sheetWriter{f: f, sheet: SheetSummary}
	sw.append("Course", r.Course.Name)
	sw.append("Term", r.TermID)
	sw.append("Period", r.Period.From+" to "+r.Period.To)
	sw.append("Classes held", r.TotalClasses)
	sw.append("Issued", r.IssuedAt.Format("2006-01-02 15:04"))
	if r.Notes != "" {
		sw.append("Notes", r.Notes)
	}
	sw.blank()

	header := []interface{}{"Student", "DNI", "Grade", "Presents", "Absences", "Attendance %"}
	sw.append(header...)
	sw.style(bold, len(header))
	for _, row := range r.Rows {
		var grade interface{} = "-"
		if row.Grade != nil {
			grade = *row.Grade
		}
		sw.append(row.StudentName, row.DNI, grade, row.Presents, row.Absences, row.Percent)
	}
	if sw.err == nil {
		sw.err = f.SetColWidth(SheetSummary, "A", "A", 32)
	}
	return sw.done()
}

func writeAttendance(f *excelize.File, r models.TermReport, bold int) error {
	sw := &sheetWriter{f: f, sheet: SheetAttendance}
	header := make([]interface{}, 0, len(r.Dates)+1)
	header = append(header, "Student")
	for _, d := range r.Dates {
		header = append(header, d)
	}
	sw.append(header...)
	sw.style(bold, len(header))
	for _, row := range r.Rows {
		values := make([]interface{}, 0, len(row.Marks)+1)
		values = append(values, row.StudentName)
		for _, m := range row.Marks {
			if m.Present {
				values = append(values, "P")
			} else {
				values = append(values, "A")
			}
		}
		sw.append(values...)
	}
	if sw.err == nil {
		sw.err = f.SetColWidth(SheetAttendance, "A", "A", 32)
	}
	return sw.done()
}

func writeObservations(f *excelize.File, r models.TermReport, bold int) error {
	sw := &sheetWriter{f: f, sheet: SheetObservations}
	header := []interface{}{"Student", "Date", "Observation"}
	sw.append(header...)
	sw.style(bold, len(header))
	for _, so := range r.Observations {
		if len(so.Items) == 0 {
			sw.append(so.StudentName, "", "No observations")
			continue
		}
		for _, it := range so.Items {
			sw.append(so.StudentName, it.Date, it.Text)
		}
	}
	if sw.err == nil {
		sw.err = f.SetColWidth(SheetObservations, "A", "A", 32)
	}
	if sw.err == nil {
		sw.err = f.SetColWidth(SheetObservations, "C", "C", 80)
	}
	return sw.done()
}
