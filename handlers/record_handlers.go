package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rollbook-server-go/attendance"
	"rollbook-server-go/db"
	"rollbook-server-go/models"
	"rollbook-server-go/observations"
)

// periodQuery reads ?from=&to=. set is false when neither bound was given.
func periodQuery(c *gin.Context) (p models.Period, set bool, err error) {
	p = models.Period{From: c.Query("from"), To: c.Query("to")}
	if err := p.Validate(); err != nil {
		return models.Period{}, false, err
	}
	return p, p.From != "" || p.To != "", nil
}

// dateParam reads :date; "today" is the current date in the configured zone.
func (h *APIHandler) dateParam(c *gin.Context) string {
	date := c.Param("date")
	if date == "today" {
		return models.DateKey(h.Service.Now(), h.Location)
	}
	return date
}

// --- Attendance Handlers ---

type attendanceRequest struct {
	Marks map[string]bool `json:"marks" binding:"required"`
}

// SaveAttendance handles PUT /api/courses/:courseId/attendance/:date
func (h *APIHandler) SaveAttendance(c *gin.Context) {
	var req attendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	date := h.dateParam(c)
	if err := h.Service.SaveAttendance(c.Request.Context(), teacher(c), c.Param("courseId"), date, req.Marks); err != nil {
		respondError(c, "save attendance", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "marks": req.Marks})
}

// GetAttendance handles GET /api/courses/:courseId/attendance?from=&to=
func (h *APIHandler) GetAttendance(c *gin.Context) {
	period, _, err := periodQuery(c)
	if err != nil {
		respondError(c, "retrieve attendance", err)
		return
	}
	att, err := h.Service.GetAttendance(c.Request.Context(), teacher(c), c.Param("courseId"))
	if err != nil {
		respondError(c, "retrieve attendance", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"dates":      attendance.Dates(att, period),
		"attendance": attendance.FilterDates(att, period),
	})
}

type summaryRow struct {
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
	models.StudentSummary
}

// GetAttendanceSummary handles GET /api/courses/:courseId/attendance/summary?from=&to=
func (h *APIHandler) GetAttendanceSummary(c *gin.Context) {
	period, _, err := periodQuery(c)
	if err != nil {
		respondError(c, "summarize attendance", err)
		return
	}
	ctx := c.Request.Context()
	t := teacher(c)
	courseID := c.Param("courseId")

	roster, err := h.Service.Roster(ctx, t, courseID)
	if err != nil {
		respondError(c, "summarize attendance", err)
		return
	}
	att, err := h.Service.GetAttendance(ctx, t, courseID)
	if err != nil {
		respondError(c, "summarize attendance", err)
		return
	}

	summary := attendance.Summarize(att, roster, period)
	rows := make([]summaryRow, 0, len(roster))
	for _, st := range db.SortedStudents(roster) {
		rows = append(rows, summaryRow{
			StudentID:      st.ID,
			StudentName:    st.DisplayName(),
			StudentSummary: summary.ByStudent[st.ID],
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"period":       period,
		"dates":        summary.Dates,
		"totalClasses": summary.TotalClasses,
		"students":     rows,
	})
}

// --- Observation Handlers ---

type observationRequest struct {
	Text string `json:"text"`
}

// SaveObservation handles PUT /api/courses/:courseId/observations/:date/:studentId.
// Blank text clears the note.
func (h *APIHandler) SaveObservation(c *gin.Context) {
	var req observationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	date := h.dateParam(c)
	err := h.Service.SaveObservation(c.Request.Context(), teacher(c), c.Param("courseId"), date, c.Param("studentId"), req.Text)
	if err != nil {
		respondError(c, "save observation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "studentId": c.Param("studentId"), "text": req.Text})
}

// GetObservations handles GET /api/courses/:courseId/observations?from=&to=&order=
func (h *APIHandler) GetObservations(c *gin.Context) {
	period, _, err := periodQuery(c)
	if err != nil {
		respondError(c, "retrieve observations", err)
		return
	}
	obs, err := h.Service.GetObservations(c.Request.Context(), teacher(c), c.Param("courseId"))
	if err != nil {
		respondError(c, "retrieve observations", err)
		return
	}
	c.JSON(http.StatusOK, observations.ByStudent(obs, period, observations.ParseOrder(c.Query("order"))))
}

// GetStudentHistory handles GET /api/courses/:courseId/students/:studentId/observations.
// Without from/to it covers the last 90 days, newest first.
func (h *APIHandler) GetStudentHistory(c *gin.Context) {
	period, set, err := periodQuery(c)
	if err != nil {
		respondError(c, "retrieve observation history", err)
		return
	}
	if !set {
		period = observations.DefaultHistoryPeriod(h.Service.Now(), h.Location)
	}
	ctx := c.Request.Context()
	t := teacher(c)
	st, err := h.Service.GetStudent(ctx, t, c.Param("courseId"), c.Param("studentId"))
	if err != nil {
		respondError(c, "retrieve observation history", err)
		return
	}
	obs, err := h.Service.GetObservations(ctx, t, st.CourseID)
	if err != nil {
		respondError(c, "retrieve observation history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"studentId":   st.ID,
		"studentName": st.DisplayName(),
		"period":      period,
		"items":       observations.History(obs, st.ID, period, observations.ParseOrder(c.Query("order"))),
	})
}
