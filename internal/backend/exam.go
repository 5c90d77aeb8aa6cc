package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"github.com/lklkevin/pear/internal/model"
)

// GenerateForm is the multipart payload shared by both generate endpoints.
// Privacy and Color are only sent when non-empty.
type GenerateForm struct {
	Title        string
	Description  string
	NumQuestions int
	Files        []model.Attachment
	Privacy      string
	Color        string
}

// encode writes the form as multipart/form-data and returns the body and its
// content type.
func (f *GenerateForm) encode() (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	for _, file := range f.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, escapeQuotes(file.Name)))
		ct := file.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create file part: %w", err)
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", fmt.Errorf("write file part: %w", err)
		}
	}

	fields := [][2]string{
		{"title", f.Title},
		{"description", f.Description},
		{"num_questions", strconv.Itoa(f.NumQuestions)},
	}
	if f.Privacy != "" {
		fields = append(fields, [2]string{"privacy", f.Privacy})
	}
	if f.Color != "" {
		fields = append(fields, [2]string{"color", f.Color})
	}
	for _, kv := range fields {
		if err := w.WriteField(kv[0], kv[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", kv[0], err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// GenerateExam submits an anonymous (or unsaved) generation job.
// The reply normally carries a task id; Raw always holds the full body so
// callers can fall back to a direct exam payload.
func (c *Client) GenerateExam(ctx context.Context, form *GenerateForm) (*model.GenerateResponse, error) {
	body, contentType, err := form.encode()
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/exam/generate", nil, "", contentType, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, data)
	}

	out := &model.GenerateResponse{Raw: json.RawMessage(data)}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("decode generate response: %w", err)
	}
	return out, nil
}

// GenerateAndSave generates and stores an exam in one call. A 2xx reply
// without an exam id is reported as an APIError carrying the server message.
func (c *Client) GenerateAndSave(ctx context.Context, token string, form *GenerateForm) (*model.SaveResponse, error) {
	body, contentType, err := form.encode()
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/exam/generate/save", nil, token, contentType, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, data)
	}

	var out model.SaveResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode save response: %w", err)
	}
	if out.ExamID == "" {
		return nil, &APIError{Status: resp.StatusCode, Message: out.Message}
	}
	return &out, nil
}

// GetTask fetches the current state of a generation job.
func (c *Client) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	var task model.Task
	if err := c.doJSON(ctx, http.MethodGet, "/api/task/"+url.PathEscape(taskID), nil, "", nil, &task); err != nil {
		return nil, err
	}
	task.ID = taskID
	return &task, nil
}

// GetExam fetches a saved exam. token may be empty for public exams.
// A body that only carries a message is reported as an APIError.
func (c *Client) GetExam(ctx context.Context, token, examID string) (*model.RawExam, error) {
	var raw model.RawExam
	if err := c.doJSON(ctx, http.MethodGet, "/api/exam/"+url.PathEscape(examID), nil, token, nil, &raw); err != nil {
		return nil, err
	}
	if !raw.IsExam() && raw.Message != "" {
		return nil, &APIError{Status: http.StatusOK, Message: raw.Message}
	}
	return &raw, nil
}
