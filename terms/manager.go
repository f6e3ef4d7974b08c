// Package terms manages the lifecycle of a course's grading periods:
// nonexistent -> draft on the first write, draft -> closed on close, and the
// explicit closed -> draft reopen.
package terms

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/pkg/errors"

	"rollbook-server-go/db"
	"rollbook-server-go/metrics"
	"rollbook-server-go/models"
)

// Manager owns term writes. Reads go through the entity service.
type Manager struct {
	svc *db.Service
}

func NewManager(svc *db.Service) *Manager {
	return &Manager{svc: svc}
}

// NormalizeID trims a term id and upper-cases the numbered form ("t1" ->
// "T1"). Any other free-text id is kept as typed.
func NormalizeID(termID string) string {
	termID = strings.TrimSpace(termID)
	if len(termID) < 2 || (termID[0] != 't' && termID[0] != 'T') {
		return termID
	}
	for _, r := range termID[1:] {
		if r < '0' || r > '9' {
			return termID
		}
	}
	return strings.ToUpper(termID)
}

func termKeys(courseID, termID string) (string, string, error) {
	termID = NormalizeID(termID)
	var flds []models.FieldError
	if !db.ValidKey(courseID) {
		flds = append(flds, models.FieldError{Field: "courseId", Error: "this field is required"})
	}
	if !db.ValidKey(termID) {
		flds = append(flds, models.FieldError{Field: "termId", Error: "this field is required"})
	}
	if len(flds) > 0 {
		return "", "", models.NewValidationError(errors.New("invalid term"), flds...)
	}
	return courseID, termID, nil
}

func validateGradeKeys(raw map[string]string) error {
	for sid := range raw {
		if !db.ValidKey(sid) {
			return models.NewValidationError(
				errors.Errorf("invalid student id %q", sid),
				models.FieldError{Field: "grades", Error: "invalid student id"},
			)
		}
	}
	return nil
}

func (m *Manager) now() time.Time {
	return m.svc.Now().UTC().Truncate(time.Millisecond)
}

// Get retrieves a term; Stored is false when it was never written.
func (m *Manager) Get(ctx context.Context, t models.Teacher, courseID, termID string) (models.Term, error) {
	courseID, termID, err := termKeys(courseID, termID)
	if err != nil {
		return models.Term{}, err
	}
	return m.svc.GetTerm(ctx, t, courseID, termID)
}

// List retrieves every term of a course.
func (m *Manager) List(ctx context.Context, t models.Teacher, courseID string) ([]models.Term, error) {
	return m.svc.ListTerms(ctx, t, courseID)
}

// SavePeriod stores the date range of the term. Both bounds are required and
// from must not be after to.
func (m *Manager) SavePeriod(ctx context.Context, t models.Teacher, courseID, termID string, p models.Period) error {
	courseID, termID, err := termKeys(courseID, termID)
	if err != nil {
		return err
	}
	if err := p.ValidateComplete(); err != nil {
		return err
	}
	return m.savePeriod(ctx, t, courseID, termID, p, m.now())
}

func (m *Manager) savePeriod(ctx context.Context, t models.Teacher, courseID, termID string, p models.Period, now time.Time) error {
	err := m.svc.Store().Update(ctx, t.ID, db.TermPath(courseID, termID), map[string]interface{}{
		"period":    map[string]interface{}{"from": p.From, "to": p.To},
		"updatedAt": now,
	})
	if err != nil {
		return wrapStep("save period", err)
	}
	return nil
}

// SaveGrades stores the cleaned grades, replacing what was stored, and
// returns them.
func (m *Manager) SaveGrades(ctx context.Context, t models.Teacher, courseID, termID string, raw map[string]string) (map[string]int, error) {
	courseID, termID, err := termKeys(courseID, termID)
	if err != nil {
		return nil, err
	}
	if err := validateGradeKeys(raw); err != nil {
		return nil, err
	}
	grades := CleanGrades(raw)
	if err := m.saveGrades(ctx, t, courseID, termID, grades, m.now()); err != nil {
		return nil, err
	}
	return grades, nil
}

func (m *Manager) saveGrades(ctx context.Context, t models.Teacher, courseID, termID string, grades map[string]int, now time.Time) error {
	var value interface{}
	if len(grades) > 0 {
		value = grades
	}
	err := m.svc.Store().Update(ctx, t.ID, db.TermPath(courseID, termID), map[string]interface{}{
		"grades":    value,
		"updatedAt": now,
	})
	if err != nil {
		return wrapStep("save grades", err)
	}
	return nil
}

// SaveNotes stores the free-text notes of the term.
func (m *Manager) SaveNotes(ctx context.Context, t models.Teacher, courseID, termID, notes string) error {
	courseID, termID, err := termKeys(courseID, termID)
	if err != nil {
		return err
	}
	err = m.svc.Store().Update(ctx, t.ID, db.TermPath(courseID, termID), map[string]interface{}{
		"notes":     nullable(notes),
		"updatedAt": m.now(),
	})
	if err != nil {
		return wrapStep("save notes", err)
	}
	return nil
}

// CloseRequest carries the values in effect when the teacher closes a term.
type CloseRequest struct {
	Period models.Period
	Grades map[string]string
	Notes  string
	// MirrorToStudents copies each grade onto the student record under
	// students/{courseId}/{studentId}/terms/{termId}.
	MirrorToStudents bool
	// ConfirmReclose must be set to close a term that is already closed.
	ConfirmReclose bool
}

// Close persists, in order, the period, the cleaned grades, the optional
// per-student copies and finally the closed flag with notes and closedAt.
// A failing step stops the sequence; the steps already written stay written.
func (m *Manager) Close(ctx context.Context, t models.Teacher, courseID, termID string, req CloseRequest) (models.Term, error) {
	courseID, termID, err := termKeys(courseID, termID)
	if err != nil {
		return models.Term{}, err
	}
	if t.Anonymous() {
		return models.Term{}, models.ErrNoIdentity
	}
	if err := req.Period.ValidateComplete(); err != nil {
		return models.Term{}, err
	}
	if err := validateGradeKeys(req.Grades); err != nil {
		return models.Term{}, err
	}

	term, err := m.svc.GetTerm(ctx, t, courseID, termID)
	if err != nil {
		return models.Term{}, err
	}
	reclose := term.State() == models.TermClosed
	if reclose && !req.ConfirmReclose {
		return models.Term{}, models.ErrTermClosed
	}

	now := m.now()
	grades := CleanGrades(req.Grades)
	notes := strings.TrimSpace(req.Notes)

	fail := func(err error) (models.Term, error) {
		metrics.TermCloses.WithLabelValues("failed").Inc()
		log.Printf("Error closing term %s of course %s for teacher %s: %v", termID, courseID, t.ID, err)
		return models.Term{}, err
	}

	if err := m.savePeriod(ctx, t, courseID, termID, req.Period, now); err != nil {
		return fail(err)
	}
	if err := m.saveGrades(ctx, t, courseID, termID, grades, now); err != nil {
		return fail(err)
	}
	if req.MirrorToStudents {
		if err := m.mirrorGrades(ctx, t, courseID, termID, grades, now); err != nil {
			return fail(err)
		}
	}
	err = m.svc.Store().Update(ctx, t.ID, db.TermPath(courseID, termID), map[string]interface{}{
		"closed":    true,
		"notes":     nullable(notes),
		"closedAt":  now,
		"updatedAt": now,
	})
	if err != nil {
		return fail(wrapStep("mark closed", err))
	}

	result := "closed"
	if reclose {
		result = "reclosed"
	}
	metrics.TermCloses.WithLabelValues(result).Inc()
	log.Printf("Term %s of course %s %s for teacher %s (%d grades)", termID, courseID, result, t.ID, len(grades))

	term.Stored = true
	term.Period = req.Period
	term.Grades = grades
	term.Notes = notes
	term.Closed = true
	term.ClosedAt = now
	term.UpdatedAt = now
	return term, nil
}

// mirrorGrades copies grades onto the records of students still on the
// roster, in one write. Grades of removed students are not copied, so no
// nameless student record is created.
func (m *Manager) mirrorGrades(ctx context.Context, t models.Teacher, courseID, termID string, grades map[string]int, now time.Time) error {
	roster, err := m.svc.Roster(ctx, t, courseID)
	if err != nil {
		return wrapStep("copy grades to students", err)
	}
	updates := map[string]interface{}{}
	for sid, g := range grades {
		if _, ok := roster[sid]; !ok {
			continue
		}
		updates[db.StudentTermPath(courseID, sid, termID)] = map[string]interface{}{
			"grade":     g,
			"updatedAt": now,
		}
	}
	if len(updates) == 0 {
		return nil
	}
	if err := m.svc.Store().MultiUpdate(ctx, t.ID, updates); err != nil {
		return wrapStep("copy grades to students", err)
	}
	return nil
}

// Reopen moves a closed term back to draft.
func (m *Manager) Reopen(ctx context.Context, t models.Teacher, courseID, termID string) (models.Term, error) {
	courseID, termID, err := termKeys(courseID, termID)
	if err != nil {
		return models.Term{}, err
	}
	term, err := m.svc.GetTerm(ctx, t, courseID, termID)
	if err != nil {
		return models.Term{}, err
	}
	if term.State() != models.TermClosed {
		return models.Term{}, models.NewValidationError(
			errors.New("term is not closed"),
			models.FieldError{Field: "termId", Error: "only a closed term can be reopened"},
		)
	}
	now := m.now()
	err = m.svc.Store().Update(ctx, t.ID, db.TermPath(courseID, termID), map[string]interface{}{
		"closed":     false,
		"reopenedAt": now,
		"updatedAt":  now,
	})
	if err != nil {
		return models.Term{}, wrapStep("reopen", err)
	}
	log.Printf("Term %s of course %s reopened for teacher %s", termID, courseID, t.ID)
	term.Closed = false
	term.ReopenedAt = now
	term.UpdatedAt = now
	return term, nil
}

func nullable(s string) interface{} {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return s
}

func wrapStep(step string, err error) error {
	if models.IsValidation(err) || errors.Is(err, models.ErrNoIdentity) {
		return err
	}
	return models.NewPersistenceError("term "+step, err)
}
