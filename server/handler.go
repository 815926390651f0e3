package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/SplitFi/go-threads/middleware"
	"github.com/SplitFi/go-threads/publicapi"
	"github.com/SplitFi/go-threads/service/auth"
	"github.com/SplitFi/go-threads/service/persist"
	"github.com/SplitFi/go-threads/service/remote"
	"github.com/SplitFi/go-threads/service/thread"
	"github.com/SplitFi/go-threads/util"
	"github.com/SplitFi/go-threads/validate"
)

var errInvalidTarget = errors.New("target id must be a positive integer")
var errInvalidCommentID = errors.New("comment id must be a positive integer")

// PostCommentInput is the body of POST /threads/:targetType/:targetID/comments.
type PostCommentInput struct {
	Content  string             `json:"content"`
	ParentID *persist.CommentID `json:"parent_id"`
}

// EditCommentInput is the body of PATCH /threads/:targetType/:targetID/comments/:commentID.
type EditCommentInput struct {
	Content string `json:"content"`
}

// HandlersInit registers the thread routes. upstream, when set, is also served as the
// comment API that remote.HTTPClient speaks.
func HandlersInit(router *gin.Engine, api *publicapi.PublicAPI, upstream thread.Remote) *gin.Engine {
	router.GET("/alive", util.HealthCheckHandler())

	threads := router.Group("/threads/:targetType/:targetID", middleware.Session(), middleware.Viewer(), addAPI(api))
	threads.GET("", getThread())
	threads.POST("/refresh", refreshThread())
	threads.POST("/comments", middleware.AuthRequired(), postComment())
	threads.PATCH("/comments/:commentID", middleware.AuthRequired(), editComment())
	threads.DELETE("/comments/:commentID", middleware.AuthRequired(), removeComment())
	threads.POST("/comments/:commentID/like", middleware.AuthRequired(), toggleLike())
	threads.POST("/comments/:commentID/expand", expandReplies())
	threads.POST("/comments/:commentID/collapse", collapseReplies())
	threads.GET("/comments/:commentID/replies", getReplies())

	if upstream != nil {
		CommentAPIHandlersInit(router, upstream)
	}
	return router
}

func addAPI(api *publicapi.PublicAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		publicapi.AddTo(c, api)
		c.Next()
	}
}

func getThread() gin.HandlerFunc {
	return func(c *gin.Context) {
		target, ok := targetParam(c)
		if !ok {
			return
		}
		view, err := publicapi.For(c).Thread.GetThread(c, target)
		if err != nil {
			threadErrResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func refreshThread() gin.HandlerFunc {
	return func(c *gin.Context) {
		target, ok := targetParam(c)
		if !ok {
			return
		}
		view, err := publicapi.For(c).Thread.RefreshThread(c, target)
		if err != nil {
			threadErrResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func postComment() gin.HandlerFunc {
	return func(c *gin.Context) {
		target, ok := targetParam(c)
		if !ok {
			return
		}
		var input PostCommentInput
		if err := c.ShouldBindJSON(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}
		comment, err := publicapi.For(c).Thread.PostComment(c, target, input.Content, input.ParentID)
		if err != nil {
			threadErrResponse(c, err)
			return
		}
		c.JSON(http.StatusCreated, comment)
	}
}

func editComment() gin.HandlerFunc {
	return func(c *gin.Context) {
		target, commentID, ok := commentParams(c)
		if !ok {
			return
		}
		var input EditCommentInput
		if err := c.ShouldBindJSON(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}
		if err := publicapi.For(c).Thread.EditComment(c, target, commentID, input.Content); err != nil {
			threadErrResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, util.SuccessResponse{Success: true})
	}
}

func removeComment() gin.HandlerFunc {
	return func(c *gin.Context) {
		target, commentID, ok := commentParams(c)
		if !ok {
			return
		}
		if err := publicapi.For(c).Thread.RemoveComment(c, target, commentID); err != nil {
			threadErrResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, util.SuccessResponse{Success: true})
	}
}

func toggleLike() gin.HandlerFunc {
	return func(c *gin.Context) {
		target, commentID, ok := commentParams(c)
		if !ok {
			return
		}
		comment, err := publicapi.For(c).Thread.ToggleLike(c, target, commentID)
		if err != nil {
			threadErrResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, comment)
	}
}

func expandReplies() gin.HandlerFunc {
	return func(c *gin.Context) {
		target, commentID, ok := commentParams(c)
		if !ok {
			return
		}
		replies, err := publicapi.For(c).Thread.ExpandReplies(c, target, commentID)
		if err != nil {
			threadErrResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, nonNil(replies))
	}
}

func collapseReplies() gin.HandlerFunc {
	return func(c *gin.Context) {
		target, commentID, ok := commentParams(c)
		if !ok {
			return
		}
		if err := publicapi.For(c).Thread.CollapseReplies(c, target, commentID); err != nil {
			threadErrResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, util.SuccessResponse{Success: true})
	}
}

func getReplies() gin.HandlerFunc {
	return func(c *gin.Context) {
		target, commentID, ok := commentParams(c)
		if !ok {
			return
		}
		replies, err := publicapi.For(c).Thread.GetReplies(c, target, commentID)
		if err != nil {
			threadErrResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, nonNil(replies))
	}
}

// targetParam reads the target from the path, answering 400 when it is malformed.
func targetParam(c *gin.Context) (persist.Target, bool) {
	id, err := strconv.ParseInt(c.Param("targetID"), 10, 64)
	if err != nil || id <= 0 {
		util.ErrResponse(c, http.StatusBadRequest, errInvalidTarget)
		return persist.Target{}, false
	}
	return persist.Target{ID: id, Type: persist.TargetType(c.Param("targetType"))}, true
}

func commentParams(c *gin.Context) (persist.Target, persist.CommentID, bool) {
	target, ok := targetParam(c)
	if !ok {
		return persist.Target{}, persist.CommentID{}, false
	}
	id, ok := commentIDParam(c)
	return target, id, ok
}

func commentIDParam(c *gin.Context) (persist.CommentID, bool) {
	n, err := strconv.ParseInt(c.Param("commentID"), 10, 64)
	if err != nil || n <= 0 {
		util.ErrResponse(c, http.StatusBadRequest, errInvalidCommentID)
		return persist.CommentID{}, false
	}
	return persist.ParseCommentID(n), true
}

// threadErrResponse maps an intent failure to a status. Failed commits answer 502
// with the message of the comment service, except 401 and 403 which pass through.
func threadErrResponse(c *gin.Context, err error) {
	var commitErr *thread.CommitError
	if errors.As(err, &commitErr) {
		status := http.StatusBadGateway
		var remoteErr *remote.Error
		switch {
		case errors.Is(commitErr.Err, auth.ErrNoViewer):
			status = http.StatusUnauthorized
		case errors.As(commitErr.Err, new(persist.ErrNotCommentAuthor)):
			status = http.StatusForbidden
		case errors.As(commitErr.Err, &remoteErr) && (remoteErr.Status == http.StatusUnauthorized || remoteErr.Status == http.StatusForbidden):
			status = remoteErr.Status
		}
		c.Error(err)
		util.ErrResponse(c, status, commitErr.Err)
		return
	}
	util.ErrResponse(c, errorStatus(err), err)
}

func errorStatus(err error) int {
	var invalid validate.ErrInvalidInput
	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.Is(err, persist.ErrCommentNotFound):
		return http.StatusNotFound
	case errors.As(err, new(persist.ErrNotCommentAuthor)):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrNoViewer), errors.Is(err, auth.ErrInvalidJWT):
		return http.StatusUnauthorized
	case errors.Is(err, publicapi.ErrNoSession), thread.IsValidationError(err):
		return http.StatusBadRequest
	}
	var remoteErr *remote.Error
	if errors.As(err, &remoteErr) {
		return remoteErr.Status
	}
	return http.StatusInternalServerError
}

func nonNil(comments []persist.Comment) []persist.Comment {
	if comments == nil {
		return []persist.Comment{}
	}
	return comments
}
