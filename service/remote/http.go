package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/SplitFi/go-threads/env"
	"github.com/SplitFi/go-threads/service/auth"
	"github.com/SplitFi/go-threads/service/logger"
	"github.com/SplitFi/go-threads/service/persist"
	"github.com/SplitFi/go-threads/service/thread"
)

// Error is a non-2xx answer from the comment API. Message is what the API said
// and is fit to show the user.
type Error struct {
	Status  int
	Message string
}

// HTTPStatus is the status code the comment API answered with.
func (e *Error) HTTPStatus() int { return e.Status }

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("comment service returned %d %s", e.Status, http.StatusText(e.Status))
}

// CreateCommentRequest is the body of POST /comments.
type CreateCommentRequest struct {
	TargetType persist.TargetType `json:"target_type"`
	TargetID   int64              `json:"target_id"`
	Content    string             `json:"content"`
	ParentID   *persist.CommentID `json:"parent_id,omitempty"`
}

// UpdateCommentRequest is the body of PATCH /comments/:id.
type UpdateCommentRequest struct {
	Content string `json:"content"`
}

// ErrorBody is the JSON shape of an error answer.
type ErrorBody struct {
	Message string `json:"message"`
}

var _ thread.Remote = (*HTTPClient)(nil)

// HTTPClient talks JSON to the upstream comment API. The viewer and their bearer
// token are taken from the request context.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a client for the API at COMMENT_API_URL.
func NewHTTPClient(httpClient *http.Client) *HTTPClient {
	return NewHTTPClientWithURL(env.GetString("COMMENT_API_URL"), httpClient)
}

func NewHTTPClientWithURL(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{baseURL: baseURL, httpClient: httpClient}
}

// FetchThread gets the direct children of parentID, or the top-level comments of
// target when parentID is nil.
func (h *HTTPClient) FetchThread(ctx context.Context, target persist.Target, parentID *persist.CommentID) ([]persist.Comment, error) {
	q := url.Values{}
	q.Set("target_type", target.Type.String())
	q.Set("target_id", strconv.FormatInt(target.ID, 10))
	if parentID != nil {
		q.Set("parent_id", parentID.String())
	}

	var comments []persist.Comment
	if err := h.do(ctx, http.MethodGet, "/comments?"+q.Encode(), nil, &comments); err != nil {
		return nil, err
	}
	for i := range comments {
		if comments[i].Target.Type == "" {
			comments[i].Target = target
		}
	}
	return comments, nil
}

func (h *HTTPClient) CreateComment(ctx context.Context, input persist.CommentInput) (persist.Comment, error) {
	body := CreateCommentRequest{
		TargetType: input.Target.Type,
		TargetID:   input.Target.ID,
		Content:    input.Content,
		ParentID:   input.ParentID,
	}
	var comment persist.Comment
	if err := h.do(ctx, http.MethodPost, "/comments", body, &comment); err != nil {
		return persist.Comment{}, err
	}
	return comment, nil
}

func (h *HTTPClient) UpdateComment(ctx context.Context, id persist.CommentID, content string) error {
	return h.do(ctx, http.MethodPatch, "/comments/"+id.String(), UpdateCommentRequest{Content: content}, nil)
}

func (h *HTTPClient) DeleteComment(ctx context.Context, id persist.CommentID) error {
	return h.do(ctx, http.MethodDelete, "/comments/"+id.String(), nil, nil)
}

func (h *HTTPClient) LikeComment(ctx context.Context, id persist.CommentID) error {
	return h.do(ctx, http.MethodPost, "/comments/"+id.String()+"/like", nil, nil)
}

func (h *HTTPClient) UnlikeComment(ctx context.Context, id persist.CommentID) error {
	return h.do(ctx, http.MethodDelete, "/comments/"+id.String()+"/like", nil, nil)
}

func (h *HTTPClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := auth.TokenFromContext(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if viewer, ok := auth.ViewerFromContext(ctx); ok && viewer.ID != 0 {
		req.Header.Set(auth.UserIDHeader, strconv.FormatInt(viewer.ID, 10))
		req.Header.Set(auth.UsernameHeader, viewer.Username)
	}

	start := time.Now()
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	logger.For(ctx).Debugf("%s %s -> %d in %v", method, path, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb ErrorBody
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &eb) != nil || eb.Message == "" {
			eb.Message = string(bytes.TrimSpace(raw))
		}
		return &Error{Status: resp.StatusCode, Message: eb.Message}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode comment service response: %w", err)
	}
	return nil
}
