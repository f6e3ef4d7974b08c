package db

import (
	"context"
	"io"
	"log"
	"strings"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"rollbook-server-go/models"
)

// Header names accepted for each roster column, compared lower-cased.
var rosterHeaders = map[string][]string{
	"firstName": {"firstname", "first name", "nombre", "nombres"},
	"lastName":  {"lastname", "last name", "apellido", "apellidos"},
	"dni":       {"dni", "documento", "doc"},
}

// ImportResult reports what a roster import did.
type ImportResult struct {
	Imported int              `json:"importedCount"`
	Skipped  []int            `json:"skippedRows,omitempty"` // 1-based sheet rows
	Students []models.Student `json:"students"`
}

// ImportStudentsFromExcel reads the first sheet of an Excel roster and adds
// every complete row to the course in one atomic write. The first row is the
// header; rows missing a first or last name are skipped.
func (s *Service) ImportStudentsFromExcel(ctx context.Context, t models.Teacher, courseID string, file io.Reader) (ImportResult, error) {
	if t.Anonymous() {
		return ImportResult{}, models.ErrNoIdentity
	}
	if err := s.requireCourse(ctx, t, courseID); err != nil {
		return ImportResult{}, err
	}

	f, err := excelize.OpenReader(file)
	if err != nil {
		log.Printf("Error opening Excel reader: %v", err)
		return ImportResult{}, models.NewValidationError(errors.Wrap(err, "failed to open excel file"))
	}
	defer func() {
		// Close the spreadsheet.
		if err := f.Close(); err != nil {
			log.Printf("Error closing excel file: %v", err)
		}
	}()

	// Assuming data is in the first sheet
	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return ImportResult{}, models.NewValidationError(errors.New("excel file does not contain any sheets"))
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		log.Printf("Error getting rows from sheet '%s': %v", sheetName, err)
		return ImportResult{}, models.NewValidationError(errors.Wrapf(err, "failed to get rows from sheet %s", sheetName))
	}
	if len(rows) == 0 {
		return ImportResult{}, models.NewValidationError(errors.New("excel sheet is empty"))
	}

	cols := rosterColumns(rows[0])
	if _, ok := cols["firstName"]; !ok {
		return ImportResult{}, missingColumn("firstName")
	}
	if _, ok := cols["lastName"]; !ok {
		return ImportResult{}, missingColumn("lastName")
	}

	cell := func(row []string, field string) string {
		i, ok := cols[field]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var res ImportResult
	now := s.now().UTC()
	updates := map[string]interface{}{}
	for i, row := range rows[1:] {
		st := models.Student{
			CourseID:  courseID,
			FirstName: titleCase(cell(row, "firstName")),
			LastName:  titleCase(cell(row, "lastName")),
			DNI:       cell(row, "dni"),
			CreatedAt: now,
		}
		if st.FirstName == "" && st.LastName == "" && st.DNI == "" {
			continue // blank line
		}
		if err := models.Validate(st); err != nil {
			log.Printf("Skipping row %d due to missing name (first: '%s', last: '%s')", i+2, st.FirstName, st.LastName)
			res.Skipped = append(res.Skipped, i+2)
			continue
		}
		st.ID = newID()
		fields := studentFields(st)
		fields["createdAt"] = st.CreatedAt
		updates[StudentPath(courseID, st.ID)] = fields
		res.Students = append(res.Students, st)
	}

	log.Printf("Attempting to add %d students from Excel file to course %s", len(res.Students), courseID)
	if len(updates) > 0 {
		if err := s.writeUnder(ctx, t, CoursePath(courseID), "courseId", "course", updates); err != nil {
			return ImportResult{}, persistErr("import students", err)
		}
	}
	res.Imported = len(res.Students)
	log.Printf("Successfully imported %d students into course %s", res.Imported, courseID)
	return res, nil
}

func rosterColumns(header []string) map[string]int {
	cols := map[string]int{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for field, names := range rosterHeaders {
			if _, seen := cols[field]; seen {
				continue
			}
			for _, n := range names {
				if h == n {
					cols[field] = i
				}
			}
		}
	}
	return cols
}

func missingColumn(field string) error {
	return models.NewValidationError(
		errors.New("roster header is missing a column"),
		models.FieldError{Field: field, Error: "column not found in the first row"},
	)
}

// titleCase normalises "pérez GARCÍA" to "Pérez García".
func titleCase(s string) string {
	// A Caser keeps state, so each call gets its own.
	return cases.Title(language.Spanish).String(strings.Join(strings.Fields(s), " "))
}
