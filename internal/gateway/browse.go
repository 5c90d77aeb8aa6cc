package gateway

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lklkevin/pear/internal/backend"
	"github.com/lklkevin/pear/internal/browse"
)

// Browse fetches one gallery page. The source query parameter ("public" or
// "personal") picks the searcher; a search replaced by a newer one of the
// same source answers 204.
func (h *Handler) Browse(c *gin.Context) {
	source := c.DefaultQuery("source", "public")
	if source != "public" && source != "personal" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source must be public or personal"})
		return
	}

	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	q := backend.BrowseQuery{
		Personal: source == "personal",
		Title:    c.Query("title"),
		Page:     page,
		Limit:    limit,
		Sorting:  c.Query("sorting"),
		Filter:   c.Query("filter"),
	}

	result, err := h.search.For(source).Search(c.Request.Context(), h.optionalToken(c), q)
	if err != nil {
		if errors.Is(err, browse.ErrSuperseded) {
			c.Status(http.StatusNoContent)
			return
		}
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type FavouriteRequest struct {
	ExamID    string `json:"exam_id" binding:"required"`
	Favourite bool   `json:"favourite"` // status before the toggle
}

// ToggleFavourite flips an exam's favourite status.
func (h *Handler) ToggleFavourite(c *gin.Context) {
	var req FavouriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fav, err := h.favs.Toggle(c.Request.Context(), mustToken(c), req.ExamID, req.Favourite)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, browse.ErrToggleInFlight) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error(), "favourite": fav})
		return
	}
	c.JSON(http.StatusOK, gin.H{"favourite": fav})
}

// CheckFavourite reports whether an exam is a favourite.
func (h *Handler) CheckFavourite(c *gin.Context) {
	fav, err := h.favs.Check(c.Request.Context(), mustToken(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"favourite": fav})
}
