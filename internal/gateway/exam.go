package gateway

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lklkevin/pear/internal/exam"
	"github.com/lklkevin/pear/internal/model"
)

// SavedExam returns a stored exam. Signed-in users can see their private
// exams.
func (h *Handler) SavedExam(c *gin.Context) {
	e, err := h.viewer.Saved(c.Request.Context(), h.optionalToken(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// SavedExamPDF exports a stored exam. ?answers=true includes the answers.
func (h *Handler) SavedExamPDF(c *gin.Context) {
	e, err := h.viewer.Saved(c.Request.Context(), h.optionalToken(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	writePDF(c, e)
}

// GeneratedExam returns the latest unsaved exam of this browsing session.
func (h *Handler) GeneratedExam(c *gin.Context) {
	e, err := h.viewer.Unsaved(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// GeneratedExamPDF exports the latest unsaved exam.
func (h *Handler) GeneratedExamPDF(c *gin.Context) {
	e, err := h.viewer.Unsaved(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	writePDF(c, e)
}

func writePDF(c *gin.Context, e *model.Exam) {
	var buf bytes.Buffer
	if err := exam.WritePDF(&buf, e, c.Query("answers") == "true"); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exam.FileName(e)))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

// ─────────────────────────────────────────────
// Answer reveal for the exam on screen
// ─────────────────────────────────────────────

type RevealRequest struct {
	Index *int  `json:"index"`
	All   *bool `json:"all"`
}

type RevealResponse struct {
	Revealed    []bool `json:"revealed"`
	AllRevealed bool   `json:"allRevealed"`
}

func (h *Handler) revealState() RevealResponse {
	r := h.viewer.Reveal()
	return RevealResponse{Revealed: r.Flags(), AllRevealed: r.AllRevealed()}
}

// RevealState returns which answers are shown.
func (h *Handler) RevealState(c *gin.Context) {
	c.JSON(http.StatusOK, h.revealState())
}

// Reveal toggles one answer ({"index": n}) or shows/hides all ({"all": b}).
func (h *Handler) Reveal(c *gin.Context) {
	var req RevealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r := h.viewer.Reveal()
	switch {
	case req.All != nil:
		r.SetAll(*req.All)
	case req.Index != nil:
		if *req.Index < 0 || *req.Index >= len(r.Flags()) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "index out of range"})
			return
		}
		r.Toggle(*req.Index)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "index or all is required"})
		return
	}
	c.JSON(http.StatusOK, h.revealState())
}
