// Package cascade deletes a school or a course together with every record
// that depends on it, in a single multi-path write.
package cascade

import (
	"context"
	"log"
	"sort"

	"github.com/pkg/errors"

	"rollbook-server-go/db"
	"rollbook-server-go/metrics"
	"rollbook-server-go/models"
)

// Kind names a parent entity that can be deleted in cascade.
type Kind string

const (
	KindSchool Kind = "school"
	KindCourse Kind = "course"
)

// courseDependents are the collections keyed by course id. A new
// course-scoped collection is registered here and nowhere else.
var courseDependents = []func(courseID string) string{
	db.StudentsPath,
	db.AttendancePath,
	db.ObservationsPath,
	db.TermsPath,
}

// Plan is the set of paths one cascade removes.
type Plan struct {
	Kind      Kind     `json:"kind"`
	ID        string   `json:"id"`
	CourseIDs []string `json:"courseIds"`
	Paths     []string `json:"paths"`
}

// Updates maps every planned path to nil, the delete marker of MultiUpdate.
func (p Plan) Updates() map[string]interface{} {
	out := make(map[string]interface{}, len(p.Paths))
	for _, path := range p.Paths {
		out[path] = nil
	}
	return out
}

// Engine plans and runs cascades against a store.
type Engine struct {
	store db.Store
}

func NewEngine(store db.Store) *Engine {
	return &Engine{store: store}
}

func requireID(kind Kind, id string) error {
	if !db.ValidKey(id) {
		return models.NewValidationError(
			errors.Errorf("invalid %s id", kind),
			models.FieldError{Field: string(kind) + "Id", Error: "this field is required"},
		)
	}
	return nil
}

func coursePaths(courseID string) []string {
	paths := []string{db.CoursePath(courseID)}
	for _, dep := range courseDependents {
		paths = append(paths, dep(courseID))
	}
	return paths
}

// PlanCourse lists the course record and its course-scoped collections.
func (e *Engine) PlanCourse(courseID string) (Plan, error) {
	if err := requireID(KindCourse, courseID); err != nil {
		return Plan{}, err
	}
	return Plan{
		Kind:      KindCourse,
		ID:        courseID,
		CourseIDs: []string{courseID},
		Paths:     coursePaths(courseID),
	}, nil
}

// PlanSchool lists the school record, then every course whose schoolId
// matches with all of its dependents. Courses are found by scanning the
// whole courses collection.
func (e *Engine) PlanSchool(ctx context.Context, t models.Teacher, schoolID string) (Plan, error) {
	if err := requireID(KindSchool, schoolID); err != nil {
		return Plan{}, err
	}
	courses, err := e.store.Get(ctx, t.ID, db.CollCourses)
	if err != nil {
		return Plan{}, models.NewPersistenceError("read courses for cascade", err)
	}
	return schoolPlan(schoolID, courses), nil
}

func schoolPlan(schoolID string, courses interface{}) Plan {
	plan := Plan{
		Kind:      KindSchool,
		ID:        schoolID,
		CourseIDs: []string{},
		Paths:     []string{db.SchoolPath(schoolID)},
	}
	all, _ := courses.(map[string]interface{})
	ids := make([]string, 0, len(all))
	for id, raw := range all {
		rec, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if sid, _ := rec["schoolId"].(string); sid == schoolID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		plan.CourseIDs = append(plan.CourseIDs, id)
		plan.Paths = append(plan.Paths, coursePaths(id)...)
	}
	return plan
}

// DeleteCourse removes a course and everything it owns in one write.
func (e *Engine) DeleteCourse(ctx context.Context, t models.Teacher, courseID string) (Plan, error) {
	plan, err := e.PlanCourse(courseID)
	if err != nil {
		return Plan{}, err
	}
	return plan, e.run(ctx, t, plan)
}

// DeleteSchool removes a school, its courses and everything they own in one
// write. The course scan runs in the same transaction as the deletes, so a
// course added for the school meanwhile is planned and removed too.
func (e *Engine) DeleteSchool(ctx context.Context, t models.Teacher, schoolID string) (Plan, error) {
	if t.Anonymous() {
		return Plan{}, models.ErrNoIdentity
	}
	if err := requireID(KindSchool, schoolID); err != nil {
		return Plan{}, err
	}
	plan := Plan{Kind: KindSchool, ID: schoolID}
	err := e.store.Transact(ctx, t.ID, func(get db.GetFunc) (map[string]interface{}, error) {
		courses, err := get(db.CollCourses)
		if err != nil {
			return nil, err
		}
		plan = schoolPlan(schoolID, courses)
		return plan.Updates(), nil
	})
	return plan, e.done(t, plan, err)
}

func (e *Engine) run(ctx context.Context, t models.Teacher, plan Plan) error {
	if t.Anonymous() {
		return models.ErrNoIdentity
	}
	return e.done(t, plan, e.store.MultiUpdate(ctx, t.ID, plan.Updates()))
}

// done logs and counts a finished cascade write and tags store failures.
func (e *Engine) done(t models.Teacher, plan Plan, err error) error {
	if err != nil {
		log.Printf("Error deleting %s %s in cascade for teacher %s: %v", plan.Kind, plan.ID, t.ID, err)
		if models.IsValidation(err) || errors.Is(err, models.ErrNoIdentity) {
			return err
		}
		return models.NewPersistenceError("delete "+string(plan.Kind), err)
	}
	metrics.CascadeDeletes.WithLabelValues(string(plan.Kind)).Inc()
	log.Printf("Deleted %s %s (%d courses, %d paths) for teacher %s", plan.Kind, plan.ID, len(plan.CourseIDs), len(plan.Paths), t.ID)
	return nil
}
