package http

import (
	"net/http"

	"crosspost/domain/dto"
	"crosspost/domain/model"
	"crosspost/infrastructure/logger"
	"crosspost/usecase"

	"github.com/gin-gonic/gin"
)

const ErrorUnmarshal = "Error while unmarshal"

type IPostHandler interface {
	Create(c *gin.Context)
	List(c *gin.Context)
	Get(c *gin.Context)
	Logs(c *gin.Context)
	DestinationLogs(c *gin.Context)
}

type PostHandler struct {
	dispatch usecase.IDispatchUsecase
	query    usecase.IPostQueryUsecase
}

func NewPostHandler(dispatch usecase.IDispatchUsecase, query usecase.IPostQueryUsecase) IPostHandler {
	return &PostHandler{dispatch: dispatch, query: query}
}

// Create handles POST /api/posts. The request is accepted once the record
// exists; publishing happens asynchronously.
func (h *PostHandler) Create(c *gin.Context) {
	var req dto.CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.GetLogger().WithField("error", err).Error(ErrorUnmarshal)
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrorUnmarshal + ": " + err.Error()})
		return
	}
	res, err := h.dispatch.Dispatch(c.Request.Context(), usecase.DispatchInput{
		UserID:       c.GetString("user_id"),
		VideoURL:     req.VideoURL,
		Caption:      req.Caption,
		Destinations: req.Destinations,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Location", "/api/posts/"+res.RequestID)
	c.JSON(http.StatusAccepted, res)
}

// List handles GET /api/posts?status=&limit=
func (h *PostHandler) List(c *gin.Context) {
	var q dto.ListPostsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	recs, err := h.query.List(c.Request.Context(), c.GetString("user_id"), model.Status(q.Status), q.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": recs})
}

func (h *PostHandler) Get(c *gin.Context) {
	rec, err := h.query.Get(c.Request.Context(), c.GetString("user_id"), c.Param("requestId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *PostHandler) Logs(c *gin.Context) {
	requestID := c.Param("requestId")
	logs, err := h.query.Logs(c.Request.Context(), c.GetString("user_id"), requestID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_id": requestID, "logs": logs})
}

func (h *PostHandler) DestinationLogs(c *gin.Context) {
	requestID := c.Param("requestId")
	key, err := model.ParseDestinationKey(c.Param("destination"))
	if err != nil {
		writeError(c, err)
		return
	}
	logs, err := h.query.DestinationLogs(c.Request.Context(), c.GetString("user_id"), requestID, key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_id": requestID, "destination": key, "logs": logs})
}
