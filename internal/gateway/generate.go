package gateway

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lklkevin/pear/internal/model"
)

// Upload limits for the generate form.
const (
	maxFormMemory = 32 << 20
	maxFiles      = 10
)

// ─────────────────────────────────────────────
// POST /api/v1/generate
// ─────────────────────────────────────────────

// Generate submits the multipart generate form (title, description,
// num_questions, privacy, color, files). With ?wait=true it blocks until the
// submission finishes, otherwise it replies 202 at once and progress is
// streamed over /ws.
func (h *Handler) Generate(c *gin.Context) {
	draft, err := parseDraft(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	sub := h.gen.Submit(ctx, *draft, h.sess.Current(ctx))

	if c.Query("wait") != "true" {
		c.JSON(http.StatusAccepted, gin.H{"phase": sub.State()})
		return
	}

	res, err := sub.Wait(ctx)
	if err != nil {
		// The client went away; the submission keeps running.
		return
	}
	c.JSON(http.StatusOK, res)
}

// GenerateStatus reports the latest submission.
func (h *Handler) GenerateStatus(c *gin.Context) {
	sub := h.gen.Current()
	if sub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "nothing submitted yet"})
		return
	}
	if res, ok := sub.Result(); ok {
		c.JSON(http.StatusOK, res)
		return
	}
	c.JSON(http.StatusOK, gin.H{"phase": sub.State()})
}

// CancelGenerate aborts the latest submission.
func (h *Handler) CancelGenerate(c *gin.Context) {
	h.gen.Cancel()
	c.Status(http.StatusNoContent)
}

func parseDraft(c *gin.Context) (*model.ExamDraft, error) {
	if err := c.Request.ParseMultipartForm(maxFormMemory); err != nil && err != http.ErrNotMultipart {
		return nil, fmt.Errorf("parse form: %w", err)
	}

	draft := &model.ExamDraft{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
	}

	if v := c.PostForm("num_questions"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("num_questions must be a non-negative integer (0 uses the default)")
		}
		draft.QuestionCount = n
	}

	vis, err := model.ParseVisibility(c.PostForm("privacy"))
	if err != nil {
		return nil, err
	}
	draft.Visibility = vis

	color, err := model.ParseColor(c.PostForm("color"))
	if err != nil {
		return nil, err
	}
	draft.Color = color

	if form := c.Request.MultipartForm; form != nil {
		headers := form.File["files"]
		if len(headers) > maxFiles {
			return nil, fmt.Errorf("at most %d files can be uploaded", maxFiles)
		}
		for _, fh := range headers {
			att, err := readAttachment(fh)
			if err != nil {
				return nil, err
			}
			draft.Files = append(draft.Files, att)
		}
	}
	return draft, nil
}

func readAttachment(fh *multipart.FileHeader) (model.Attachment, error) {
	f, err := fh.Open()
	if err != nil {
		return model.Attachment{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return model.Attachment{
		Name:        fh.Filename,
		Size:        fh.Size,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
