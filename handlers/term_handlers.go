package handlers

import (
	"bytes"
	"math"
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rollbook-server-go/export"
	"rollbook-server-go/models"
	"rollbook-server-go/terms"
)

// gradeInputs accepts grades typed as strings or numbers; null clears.
func gradeInputs(raw map[string]interface{}) map[string]string {
	out := make(map[string]string, len(raw))
	for sid, v := range raw {
		switch x := v.(type) {
		case string:
			out[sid] = x
		case float64:
			out[sid] = strconv.Itoa(int(math.Round(x)))
		default:
			out[sid] = ""
		}
	}
	return out
}

// GetTerms handles GET /api/courses/:courseId/terms
func (h *APIHandler) GetTerms(c *gin.Context) {
	list, err := h.Terms.List(c.Request.Context(), teacher(c), c.Param("courseId"))
	if err != nil {
		respondError(c, "retrieve terms", err)
		return
	}
	if list == nil {
		list = []models.Term{}
	}
	c.JSON(http.StatusOK, list)
}

// GetTerm handles GET /api/courses/:courseId/terms/:termId. A term never
// written comes back in the nonexistent state, not as 404.
func (h *APIHandler) GetTerm(c *gin.Context) {
	term, err := h.Terms.Get(c.Request.Context(), teacher(c), c.Param("courseId"), c.Param("termId"))
	if err != nil {
		respondError(c, "retrieve term", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"term": term, "state": term.State().String()})
}

// SaveTermPeriod handles PUT /api/courses/:courseId/terms/:termId/period
func (h *APIHandler) SaveTermPeriod(c *gin.Context) {
	var p models.Period
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Terms.SavePeriod(c.Request.Context(), teacher(c), c.Param("courseId"), c.Param("termId"), p); err != nil {
		respondError(c, "save term period", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"period": p})
}

type gradesRequest struct {
	Grades map[string]interface{} `json:"grades"`
}

// SaveTermGrades handles PUT /api/courses/:courseId/terms/:termId/grades
func (h *APIHandler) SaveTermGrades(c *gin.Context) {
	var req gradesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	grades, err := h.Terms.SaveGrades(c.Request.Context(), teacher(c), c.Param("courseId"), c.Param("termId"), gradeInputs(req.Grades))
	if err != nil {
		respondError(c, "save grades", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"grades": grades})
}

type notesRequest struct {
	Notes string `json:"notes"`
}

// SaveTermNotes handles PUT /api/courses/:courseId/terms/:termId/notes
func (h *APIHandler) SaveTermNotes(c *gin.Context) {
	var req notesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Terms.SaveNotes(c.Request.Context(), teacher(c), c.Param("courseId"), c.Param("termId"), req.Notes); err != nil {
		respondError(c, "save notes", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": req.Notes})
}

type closeTermRequest struct {
	Period           models.Period          `json:"period"`
	Grades           map[string]interface{} `json:"grades"`
	Notes            string                 `json:"notes"`
	MirrorToStudents bool                   `json:"mirrorToStudents"`
	ConfirmReclose   bool                   `json:"confirmReclose"`
}

// CloseTerm handles POST /api/courses/:courseId/terms/:termId/close.
// Closing an already closed term needs "confirmReclose": true.
func (h *APIHandler) CloseTerm(c *gin.Context) {
	var req closeTermRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	term, err := h.Terms.Close(c.Request.Context(), teacher(c), c.Param("courseId"), c.Param("termId"), terms.CloseRequest{
		Period:           req.Period,
		Grades:           gradeInputs(req.Grades),
		Notes:            req.Notes,
		MirrorToStudents: req.MirrorToStudents,
		ConfirmReclose:   req.ConfirmReclose,
	})
	if err != nil {
		respondError(c, "close term", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"term": term, "state": term.State().String()})
}

// ReopenTerm handles POST /api/courses/:courseId/terms/:termId/reopen
func (h *APIHandler) ReopenTerm(c *gin.Context) {
	term, err := h.Terms.Reopen(c.Request.Context(), teacher(c), c.Param("courseId"), c.Param("termId"))
	if err != nil {
		respondError(c, "reopen term", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"term": term, "state": term.State().String()})
}

type reportRequest struct {
	Period    *models.Period         `json:"period"`
	Edits     map[string]interface{} `json:"edits"`
	StudentID string                 `json:"studentId"`
	Format    string                 `json:"format"`
}

// TermReport handles GET and POST /api/courses/:courseId/terms/:termId/report.
// GET takes from, to, studentId and format from the query; POST also accepts
// unsaved grade edits. format=xlsx downloads a workbook instead of JSON.
func (h *APIHandler) TermReport(c *gin.Context) {
	var req reportRequest
	if c.Request.Method == http.MethodPost {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	} else {
		period, set, err := periodQuery(c)
		if err != nil {
			respondError(c, "build term report", err)
			return
		}
		if set {
			req.Period = &period
		}
		req.StudentID = c.Query("studentId")
		req.Format = c.Query("format")
	}

	report, err := h.Terms.Report(c.Request.Context(), teacher(c), c.Param("courseId"), c.Param("termId"), terms.ReportRequest{
		Period:    req.Period,
		Edits:     gradeInputs(req.Edits),
		StudentID: req.StudentID,
	})
	if err != nil {
		respondError(c, "build term report", err)
		return
	}

	if req.Format != "xlsx" {
		c.JSON(http.StatusOK, report)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteTermReport(&buf, report); err != nil {
		respondError(c, "export term report", err)
		return
	}
	c.Header("Content-Disposition", attachment(export.FileName(report)))
	c.Data(http.StatusOK, export.ContentType, buf.Bytes())
}

// attachment builds a Content-Disposition value; non-ASCII names are
// encoded as RFC 2231 parameters.
func attachment(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}
