package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"rollbook-server-go/cascade"
	"rollbook-server-go/db"
	"rollbook-server-go/models"
	"rollbook-server-go/terms"
)

// APIHandler holds the dependencies for API handlers
type APIHandler struct {
	Service  *db.Service
	Terms    *terms.Manager
	Cascade  *cascade.Engine
	Location *time.Location
}

// NewAPIHandler creates a new APIHandler over service. Date keys such as
// "today" are computed in loc.
func NewAPIHandler(service *db.Service, loc *time.Location) *APIHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &APIHandler{
		Service:  service,
		Terms:    terms.NewManager(service),
		Cascade:  cascade.NewEngine(service.Store()),
		Location: loc,
	}
}

// respondError maps an error to its status. Only unexpected errors are
// logged; the client is told the action did not complete.
func respondError(c *gin.Context, action string, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "fields": verr.Fields})
	case errors.Is(err, models.ErrNoIdentity):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Sign in to " + action})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrTermClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "Term is already closed, confirm to close it again"})
	default:
		log.Printf("Error in %s handler: %v", action, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + action + ", the action did not complete"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
}

// --- School Handlers ---

type schoolRequest struct {
	Name string `json:"name"`
}

// GetAllSchools handles GET /api/schools
func (h *APIHandler) GetAllSchools(c *gin.Context) {
	schools, err := h.Service.ListSchools(c.Request.Context(), teacher(c))
	if err != nil {
		respondError(c, "retrieve schools", err)
		return
	}
	if schools == nil {
		// Return empty list instead of null for JSON consistency
		schools = []models.School{}
	}
	c.JSON(http.StatusOK, schools)
}

// GetSchoolByID handles GET /api/schools/:schoolId
func (h *APIHandler) GetSchoolByID(c *gin.Context) {
	school, err := h.Service.GetSchool(c.Request.Context(), teacher(c), c.Param("schoolId"))
	if err != nil {
		respondError(c, "retrieve school", err)
		return
	}
	c.JSON(http.StatusOK, school)
}

// AddSchool handles POST /api/schools
func (h *APIHandler) AddSchool(c *gin.Context) {
	var req schoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	school, err := h.Service.AddSchool(c.Request.Context(), teacher(c), req.Name)
	if err != nil {
		respondError(c, "add school", err)
		return
	}
	c.JSON(http.StatusCreated, school)
}

// UpdateSchool handles PUT /api/schools/:schoolId
func (h *APIHandler) UpdateSchool(c *gin.Context) {
	var req schoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	t := teacher(c)
	if err := h.Service.UpdateSchool(ctx, t, c.Param("schoolId"), req.Name); err != nil {
		respondError(c, "update school", err)
		return
	}
	school, err := h.Service.GetSchool(ctx, t, c.Param("schoolId"))
	if err != nil {
		respondError(c, "retrieve school", err)
		return
	}
	c.JSON(http.StatusOK, school)
}

// DeleteSchool handles DELETE /api/schools/:schoolId. With ?dryRun=true it
// only reports what would be removed.
func (h *APIHandler) DeleteSchool(c *gin.Context) {
	ctx := c.Request.Context()
	t := teacher(c)
	schoolID := c.Param("schoolId")
	if c.Query("dryRun") == "true" {
		plan, err := h.Cascade.PlanSchool(ctx, t, schoolID)
		if err != nil {
			respondError(c, "plan school delete", err)
			return
		}
		c.JSON(http.StatusOK, plan)
		return
	}
	if _, err := h.Service.GetSchool(ctx, t, schoolID); err != nil {
		respondError(c, "delete school", err)
		return
	}
	plan, err := h.Cascade.DeleteSchool(ctx, t, schoolID)
	if err != nil {
		respondError(c, "delete school", err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// --- Course Handlers ---

type courseRequest struct {
	SchoolID string `json:"schoolId"`
	Year     string `json:"year"`
	Division string `json:"division"`
}

// GetAllCourses handles GET /api/courses
func (h *APIHandler) GetAllCourses(c *gin.Context) {
	courses, err := h.Service.ListCourses(c.Request.Context(), teacher(c))
	if err != nil {
		respondError(c, "retrieve courses", err)
		return
	}
	if courses == nil {
		courses = []models.Course{}
	}
	c.JSON(http.StatusOK, courses)
}

// GetCoursesBySchool handles GET /api/schools/:schoolId/courses
func (h *APIHandler) GetCoursesBySchool(c *gin.Context) {
	courses, err := h.Service.ListCoursesBySchool(c.Request.Context(), teacher(c), c.Param("schoolId"))
	if err != nil {
		respondError(c, "retrieve courses", err)
		return
	}
	c.JSON(http.StatusOK, courses)
}

// GetCourseByID handles GET /api/courses/:courseId
func (h *APIHandler) GetCourseByID(c *gin.Context) {
	course, err := h.Service.GetCourse(c.Request.Context(), teacher(c), c.Param("courseId"))
	if err != nil {
		respondError(c, "retrieve course", err)
		return
	}
	c.JSON(http.StatusOK, course)
}

// AddCourse handles POST /api/courses
func (h *APIHandler) AddCourse(c *gin.Context) {
	var req courseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	course, err := h.Service.AddCourse(c.Request.Context(), teacher(c), models.Course{
		SchoolID: req.SchoolID,
		Year:     req.Year,
		Division: req.Division,
	})
	if err != nil {
		respondError(c, "add course", err)
		return
	}
	c.JSON(http.StatusCreated, course)
}

// UpdateCourse handles PUT /api/courses/:courseId
func (h *APIHandler) UpdateCourse(c *gin.Context) {
	var req courseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	course, err := h.Service.UpdateCourse(c.Request.Context(), teacher(c), c.Param("courseId"), req.Year, req.Division)
	if err != nil {
		respondError(c, "update course", err)
		return
	}
	c.JSON(http.StatusOK, course)
}

// DeleteCourse handles DELETE /api/courses/:courseId (?dryRun=true to plan only)
func (h *APIHandler) DeleteCourse(c *gin.Context) {
	ctx := c.Request.Context()
	t := teacher(c)
	courseID := c.Param("courseId")
	if c.Query("dryRun") == "true" {
		plan, err := h.Cascade.PlanCourse(courseID)
		if err != nil {
			respondError(c, "plan course delete", err)
			return
		}
		c.JSON(http.StatusOK, plan)
		return
	}
	if _, err := h.Service.GetCourse(ctx, t, courseID); err != nil {
		respondError(c, "delete course", err)
		return
	}
	plan, err := h.Cascade.DeleteCourse(ctx, t, courseID)
	if err != nil {
		respondError(c, "delete course", err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// --- Student Handlers ---

type studentRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	DNI       string `json:"dni"`
}

func (r studentRequest) student() models.Student {
	return models.Student{FirstName: r.FirstName, LastName: r.LastName, DNI: r.DNI}
}

// GetStudentsByCourse handles GET /api/courses/:courseId/students
func (h *APIHandler) GetStudentsByCourse(c *gin.Context) {
	students, err := h.Service.ListStudents(c.Request.Context(), teacher(c), c.Param("courseId"))
	if err != nil {
		respondError(c, "retrieve students for the course", err)
		return
	}
	c.JSON(http.StatusOK, students)
}

// AddStudent handles POST /api/courses/:courseId/students
func (h *APIHandler) AddStudent(c *gin.Context) {
	var req studentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := h.Service.AddStudent(c.Request.Context(), teacher(c), c.Param("courseId"), req.student())
	if err != nil {
		respondError(c, "add student", err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

// UpdateStudent handles PUT /api/courses/:courseId/students/:studentId
func (h *APIHandler) UpdateStudent(c *gin.Context) {
	var req studentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := h.Service.UpdateStudent(c.Request.Context(), teacher(c), c.Param("courseId"), c.Param("studentId"), req.student())
	if err != nil {
		respondError(c, "update student", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// RemoveStudent handles DELETE /api/courses/:courseId/students/:studentId
func (h *APIHandler) RemoveStudent(c *gin.Context) {
	if err := h.Service.RemoveStudent(c.Request.Context(), teacher(c), c.Param("courseId"), c.Param("studentId")); err != nil {
		respondError(c, "remove student", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetRandomStudent handles GET /api/courses/:courseId/random-student
func (h *APIHandler) GetRandomStudent(c *gin.Context) {
	ctx := c.Request.Context()
	t := teacher(c)
	courseID := c.Param("courseId")

	student, err := h.Service.RandomStudent(ctx, t, courseID)
	if err != nil {
		respondError(c, "get random student", err)
		return
	}
	if student == nil {
		if _, err := h.Service.GetCourse(ctx, t, courseID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"message": "Course not found"})
		} else {
			c.JSON(http.StatusNotFound, gin.H{"message": "No students found in this course"})
		}
		return
	}
	c.JSON(http.StatusOK, student)
}

// --- Import Handler ---

// ImportStudents handles POST /api/courses/:courseId/students/import
func (h *APIHandler) ImportStudents(c *gin.Context) {
	courseID := c.Param("courseId")

	// "file" is the name attribute in the form
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Error retrieving uploaded file: " + err.Error()})
		return
	}
	defer file.Close()

	log.Printf("Received file upload: %s for course: %s", header.Filename, courseID)

	res, err := h.Service.ImportStudentsFromExcel(c.Request.Context(), teacher(c), courseID, file)
	if err != nil {
		respondError(c, "import students", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       "Import successful",
		"importedCount": res.Imported,
		"skippedRows":   res.Skipped,
		"courseId":      courseID,
		"students":      res.Students,
	})
}

// --- Ping Handler ---

// PingHandler handles GET /api/ping
func PingHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Pong!"})
}
