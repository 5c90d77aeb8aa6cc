package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ─────────────────────────────────────────────
// Task State Machine (backend side)
// ─────────────────────────────────────────────

// TaskState is the job state reported by GET /api/task/{id}.
type TaskState string

const (
	TaskStatePending  TaskState = "PENDING"
	TaskStateProgress TaskState = "PROGRESS"
	TaskStateSuccess  TaskState = "SUCCESS"
	TaskStateFailure  TaskState = "FAILURE"
)

// Task is the latest poll response for a backend job.
type Task struct {
	ID     string          `json:"-"`
	State  TaskState       `json:"state"`
	Status string          `json:"status,omitempty"` // free-form progress text
	Result json.RawMessage `json:"result,omitempty"` // opaque on SUCCESS, meta on PROGRESS
}

// TaskMeta is the progress meta a running job reports in place of a result.
type TaskMeta struct {
	Status  string `json:"status"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Stage   string `json:"stage"`
}

// ProgressMessage returns the human readable progress text, if any.
func (t *Task) ProgressMessage() string {
	if meta, ok := t.meta(); ok && meta.Status != "" {
		return meta.Status
	}
	return t.Status
}

// ProgressPercent converts current/total meta into 0..100. The second return
// is false when the task carries no usable counters.
func (t *Task) ProgressPercent() (int, bool) {
	meta, ok := t.meta()
	if !ok || meta.Total <= 0 {
		return 0, false
	}
	pct := meta.Current * 100 / meta.Total
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

// ErrorDetail extracts result.error from a FAILURE response.
func (t *Task) ErrorDetail() string {
	if len(t.Result) == 0 {
		return ""
	}
	var detail struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(t.Result, &detail); err == nil {
		return detail.Error
	}
	// Some workers report the exception text as a bare string.
	var text string
	if err := json.Unmarshal(t.Result, &text); err == nil {
		return text
	}
	return ""
}

func (t *Task) meta() (TaskMeta, bool) {
	var meta TaskMeta
	if len(t.Result) == 0 {
		return meta, false
	}
	if err := json.Unmarshal(t.Result, &meta); err != nil {
		return meta, false
	}
	return meta, true
}

// ─────────────────────────────────────────────
// Exam Draft (client only, never persisted)
// ─────────────────────────────────────────────

// Visibility is the sharing scope the user picks for a generated exam.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
	VisibilityUnsaved Visibility = "unsaved"
)

// ParseVisibility accepts the form values, case-insensitively.
func ParseVisibility(s string) (Visibility, error) {
	switch v := Visibility(strings.ToLower(strings.TrimSpace(s))); v {
	case VisibilityPrivate, VisibilityPublic, VisibilityUnsaved:
		return v, nil
	case "":
		return VisibilityUnsaved, nil
	default:
		return "", fmt.Errorf("unknown visibility %q", s)
	}
}

// Color is the exam card theme color.
type Color string

const (
	ColorTeal   Color = "teal"
	ColorCyan   Color = "cyan"
	ColorSky    Color = "sky"
	ColorBlue   Color = "blue"
	ColorIndigo Color = "indigo"
	ColorViolet Color = "violet"
	ColorPurple Color = "purple"
)

// DefaultColor is preselected in the styling options.
const DefaultColor = ColorTeal

var colorHex = map[Color]string{
	ColorTeal:   "#0f766e",
	ColorCyan:   "#0e7490",
	ColorSky:    "#0369a1",
	ColorBlue:   "#1d4ed8",
	ColorIndigo: "#4338ca",
	ColorViolet: "#6d28d9",
	ColorPurple: "#7e22ce",
}

// ParseColor validates a theme color; empty selects DefaultColor.
func ParseColor(s string) (Color, error) {
	if s == "" {
		return DefaultColor, nil
	}
	c := Color(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := colorHex[c]; !ok {
		return "", fmt.Errorf("unknown color %q", s)
	}
	return c, nil
}

// Hex returns the color's hex code.
func (c Color) Hex() string {
	return colorHex[c]
}

// Attachment is one uploaded past-exam file.
type Attachment struct {
	Name        string
	Size        int64
	ContentType string
	Data        []byte
}

// ExamDraft is the generate form's state at submission time.
type ExamDraft struct {
	Title         string
	Description   string
	Files         []Attachment
	QuestionCount int
	Visibility    Visibility
	Color         Color
}

// ─────────────────────────────────────────────
// HTTP Request / Response (backend API)
// ─────────────────────────────────────────────

// ID is a backend identifier. The backend emits some ids as JSON numbers and
// others as strings; both decode to the same textual form.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// GenerateResponse is returned by POST /api/exam/generate. Either TaskID is
// set, or the body is a finished exam.
type GenerateResponse struct {
	TaskID string          `json:"task_id"`
	Raw    json.RawMessage `json:"-"`
}

// SaveResponse is returned by POST /api/exam/generate/save.
type SaveResponse struct {
	ExamID  ID     `json:"exam_id"`
	Message string `json:"message,omitempty"`
}

// Profile is GET /api/user/profile.
type Profile struct {
	ID           ID     `json:"id"`
	Email        string `json:"email"`
	Username     string `json:"username"`
	AuthProvider string `json:"auth_provider"`
}

// Tokens is the login / refresh response.
type Tokens struct {
	ID           ID     `json:"id"`
	Email        string `json:"email"`
	Username     string `json:"username"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// FavouriteAction is the toggle verb sent to POST /api/favourite.
type FavouriteAction string

const (
	FavouriteAdd    FavouriteAction = "fav"
	FavouriteRemove FavouriteAction = "unfav"
)

// FavouriteRequest is the body of POST /api/favourite.
type FavouriteRequest struct {
	ExamID string          `json:"exam_id"`
	Action FavouriteAction `json:"action"`
}

// ExamSummary is one card in the browse gallery.
type ExamSummary struct {
	ID        ID     `json:"id"`
	Title     string `json:"title"`
	Username  string `json:"username"`
	Color     string `json:"color"`
	Privacy   string `json:"privacy,omitempty"`
	Favourite bool   `json:"favourite"`
}

// BrowsePage is one page of GET /api/browse.
type BrowsePage struct {
	Exams      []ExamSummary `json:"exams"`
	Page       int           `json:"page"`
	TotalPages int           `json:"total_pages"`
}
