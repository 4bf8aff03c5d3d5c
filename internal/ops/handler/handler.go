package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/refedo/OTS-sub007/internal/ops/graph"
	"github.com/refedo/OTS-sub007/internal/ops/service"
	"github.com/refedo/OTS-sub007/internal/ops/sse"
)

// Handlers groups the ops handlers.
type Handlers struct {
	WorkUnit   *WorkUnitHandler
	Dependency *DependencyHandler
	Blueprint  *BlueprintHandler
	Capacity   *CapacityHandler
	Risk       *RiskHandler
	Preview    *PreviewHandler
	Sync       *SyncHandler
	SSE        *SSEHandler
}

// NewHandlers creates the handler set.
func NewHandlers(svc *service.Services, hub *sse.Hub) *Handlers {
	return &Handlers{
		WorkUnit:   NewWorkUnitHandler(svc.WorkUnit, svc.Graph),
		Dependency: NewDependencyHandler(svc.Graph),
		Blueprint:  NewBlueprintHandler(svc.Blueprint),
		Capacity:   NewCapacityHandler(svc.Capacity),
		Risk:       NewRiskHandler(svc.Risk),
		Preview:    NewPreviewHandler(svc.Preview),
		Sync:       NewSyncHandler(svc.Dispatcher),
		SSE:        NewSSEHandler(hub),
	}
}

// Response is the common response envelope.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse is a paginated list.
type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func NewListResponse(items interface{}, page, pageSize int, total int64) ListResponse {
	pages := 0
	if pageSize > 0 {
		pages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return ListResponse{
		Items:      items,
		Pagination: &Pagination{Page: page, PageSize: pageSize, Total: int(total), TotalPages: pages},
	}
}

// Business codes. The HTTP status is code / 100.
const (
	CodeBadRequest     = 40000
	CodeUnauthorized   = 40100
	CodeNotFound       = 40400
	CodeConflict       = 40900
	CodeCycle          = 40901
	CodeTraversalLimit = 42200
	CodeInternal       = 50000
	CodeUnavailable    = 50300
)

func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{Code: 0, Message: "success", Data: data})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{Code: 0, Message: "success", Data: data})
}

// Accepted reports work queued for background processing.
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(202, Response{Code: 0, Message: "accepted", Data: data})
}

// Error writes an error envelope with HTTP status code/100.
func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{Code: code, Message: message})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, CodeBadRequest, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, CodeNotFound, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, CodeInternal, message)
}

// errorCode maps service errors onto business codes.
func errorCode(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrNoBlueprint):
		return CodeNotFound
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrSelfLoop), errors.Is(err, service.ErrCrossProject):
		return CodeBadRequest
	case errors.Is(err, service.ErrDuplicateEdge), errors.Is(err, service.ErrDuplicateName):
		return CodeConflict
	case errors.Is(err, service.ErrCycle):
		return CodeCycle
	case errors.Is(err, graph.ErrTraversalLimit):
		return CodeTraversalLimit
	case errors.Is(err, service.ErrQueueFull), errors.Is(err, service.ErrDispatcherClosed):
		return CodeUnavailable
	}
	return CodeInternal
}

// respondError writes err with its business code. Internal errors are prefixed with action.
func respondError(c *gin.Context, action string, err error) {
	code := errorCode(err)
	if code == CodeInternal {
		_ = c.Error(err)
		InternalError(c, action+": "+err.Error())
		return
	}
	Error(c, code, err.Error())
}

// GetUserID returns the authenticated user id.
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// GetPagination reads page and page_size from the query.
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}
	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 200 {
			pageSize = v
		}
	}
	return page, pageSize
}

// queryFilters copies the given non-empty query parameters into a filter map.
func queryFilters(c *gin.Context, keys ...string) map[string]interface{} {
	filters := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		if v := c.Query(k); v != "" {
			filters[k] = v
		}
	}
	return filters
}

func queryBool(c *gin.Context, key string, def bool) bool {
	v := c.Query(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
