package backend

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/lklkevin/pear/internal/model"
)

// BrowseQuery selects one page of the public or personal gallery.
type BrowseQuery struct {
	Personal bool
	Title    string
	Page     int
	Limit    int
	// Sorting applies to the public gallery, Filter to the personal one.
	Sorting string
	Filter  string
}

func (q *BrowseQuery) values() url.Values {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Title != "" {
		v.Set("title", q.Title)
	}
	if q.Personal {
		if q.Filter != "" {
			v.Set("filter", q.Filter)
		}
	} else if q.Sorting != "" {
		v.Set("sorting", q.Sorting)
	}
	return v
}

// Browse fetches a page of exam summaries. The personal gallery requires a
// token; the public one sends it when present so favourites are marked.
func (c *Client) Browse(ctx context.Context, token string, q *BrowseQuery) (*model.BrowsePage, error) {
	path := "/api/browse"
	if q.Personal {
		path = "/api/browse/personal"
	}
	var out model.BrowsePage
	if err := c.doJSON(ctx, http.MethodGet, path, q.values(), token, nil, &out); err != nil {
		return nil, err
	}
	if out.Exams == nil {
		out.Exams = []model.ExamSummary{}
	}
	return &out, nil
}

// Favourite adds or removes an exam from the user's favourites. A 2xx reply
// whose body carries an error is returned as an APIError with that status.
func (c *Client) Favourite(ctx context.Context, token string, req *model.FavouriteRequest) error {
	var out struct {
		Error string `json:"error"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/favourite", nil, token, req, &out); err != nil {
		return err
	}
	if out.Error != "" {
		return &APIError{Status: http.StatusOK, Message: out.Error}
	}
	return nil
}

// CheckFavourite reports whether the user has favourited examID.
func (c *Client) CheckFavourite(ctx context.Context, token, examID string) (bool, error) {
	in := map[string]string{"exam_id": examID}
	var out struct {
		IsFavourite bool `json:"is_favourite"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/favourite/check", nil, token, in, &out); err != nil {
		return false, err
	}
	return out.IsFavourite, nil
}
