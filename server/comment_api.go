package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/SplitFi/go-threads/middleware"
	"github.com/SplitFi/go-threads/service/auth"
	"github.com/SplitFi/go-threads/service/persist"
	"github.com/SplitFi/go-threads/service/remote"
	"github.com/SplitFi/go-threads/service/thread"
	"github.com/SplitFi/go-threads/validate"
)

// CommentAPIHandlersInit serves the authoritative comment API under /comments.
// Errors are answered with remote.ErrorBody so remote.HTTPClient can surface the
// message unchanged.
func CommentAPIHandlersInit(router *gin.Engine, backend thread.Remote) {
	v := validate.WithCustomValidators()

	comments := router.Group("/comments", middleware.Viewer())
	comments.GET("", listComments(backend, v))
	comments.POST("", requireViewer(), createComment(backend, v))
	comments.PATCH("/:commentID", requireViewer(), updateComment(backend, v))
	comments.DELETE("/:commentID", requireViewer(), deleteComment(backend))
	comments.POST("/:commentID/like", requireViewer(), likeComment(backend))
	comments.DELETE("/:commentID/like", requireViewer(), unlikeComment(backend))
}

func listComments(backend thread.Remote, v *validator.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		targetID, err := strconv.ParseInt(c.Query("target_id"), 10, 64)
		if err != nil {
			apiErrResponse(c, http.StatusBadRequest, errInvalidTarget)
			return
		}
		target := persist.Target{ID: targetID, Type: persist.TargetType(c.Query("target_type"))}
		if err := validateTarget(v, target); err != nil {
			apiErrResponse(c, http.StatusBadRequest, err)
			return
		}

		var parentID *persist.CommentID
		if raw := c.Query("parent_id"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || n <= 0 {
				apiErrResponse(c, http.StatusBadRequest, errInvalidCommentID)
				return
			}
			parentID = persist.CommentIDPtr(persist.ConfirmedID(n))
		}

		comments, err := backend.FetchThread(c, target, parentID)
		if err != nil {
			apiErrResponse(c, apiErrorStatus(err), err)
			return
		}
		c.JSON(http.StatusOK, nonNil(comments))
	}
}

func createComment(backend thread.Remote, v *validator.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req remote.CreateCommentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apiErrResponse(c, http.StatusBadRequest, err)
			return
		}
		target := persist.Target{ID: req.TargetID, Type: req.TargetType}
		content := validate.SanitizeContent(req.Content)
		if err := validateTarget(v, target); err != nil {
			apiErrResponse(c, http.StatusBadRequest, err)
			return
		}
		if err := validate.ValidateFields(v, validate.ValidationMap{
			"content": {Value: content, Tag: "comment_content"},
		}); err != nil {
			apiErrResponse(c, http.StatusBadRequest, err)
			return
		}
		if req.ParentID != nil && req.ParentID.IsPending() {
			apiErrResponse(c, http.StatusBadRequest, errInvalidCommentID)
			return
		}

		comment, err := backend.CreateComment(c, persist.CommentInput{Content: content, Target: target, ParentID: req.ParentID})
		if err != nil {
			apiErrResponse(c, apiErrorStatus(err), err)
			return
		}
		c.JSON(http.StatusCreated, comment)
	}
}

func updateComment(backend thread.Remote, v *validator.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := confirmedIDParam(c)
		if !ok {
			return
		}
		var req remote.UpdateCommentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apiErrResponse(c, http.StatusBadRequest, err)
			return
		}
		content := validate.SanitizeContent(req.Content)
		if err := validate.ValidateFields(v, validate.ValidationMap{
			"content": {Value: content, Tag: "comment_content"},
		}); err != nil {
			apiErrResponse(c, http.StatusBadRequest, err)
			return
		}

		if err := backend.UpdateComment(c, id, content); err != nil {
			apiErrResponse(c, apiErrorStatus(err), err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func deleteComment(backend thread.Remote) gin.HandlerFunc {
	return commentAction(backend.DeleteComment)
}

func likeComment(backend thread.Remote) gin.HandlerFunc {
	return commentAction(backend.LikeComment)
}

func unlikeComment(backend thread.Remote) gin.HandlerFunc {
	return commentAction(backend.UnlikeComment)
}

func commentAction(action func(ctx context.Context, id persist.CommentID) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := confirmedIDParam(c)
		if !ok {
			return
		}
		if err := action(c, id); err != nil {
			apiErrResponse(c, apiErrorStatus(err), err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// requireViewer is AuthRequired answering in the comment API's error shape.
func requireViewer() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.GetAuthErrorFromCtx(c); err != nil {
			apiErrResponse(c, http.StatusUnauthorized, err)
			return
		}
		c.Next()
	}
}

func confirmedIDParam(c *gin.Context) (persist.CommentID, bool) {
	n, err := strconv.ParseInt(c.Param("commentID"), 10, 64)
	if err != nil || n <= 0 || n > persist.ProvisionalIDFloor {
		apiErrResponse(c, http.StatusBadRequest, errInvalidCommentID)
		return persist.CommentID{}, false
	}
	return persist.ConfirmedID(n), true
}

func apiErrorStatus(err error) int {
	switch {
	case errors.Is(err, persist.ErrCommentNotFound):
		return http.StatusNotFound
	case errors.As(err, new(persist.ErrNotCommentAuthor)):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrNoViewer):
		return http.StatusUnauthorized
	case errors.As(err, new(persist.ErrUserNotFound)):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func apiErrResponse(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		c.Error(err)
	}
	c.AbortWithStatusJSON(status, remote.ErrorBody{Message: err.Error()})
}

func validateTarget(v *validator.Validate, target persist.Target) error {
	return validate.ValidateFields(v, validate.ValidationMap{
		"target_type": {Value: target.Type, Tag: "required,target_type"},
		"target_id":   {Value: target.ID, Tag: "required,gt=0"},
	})
}
