package handler

import (
	"net/http"
	"strconv"

	"ringi/internal/middleware"
	"ringi/internal/service"
	"ringi/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type RequestHandler struct {
	requestService  service.RequestService
	workflowService service.WorkflowService
	userService     service.UserService
}

func NewRequestHandler(requestService service.RequestService, workflowService service.WorkflowService, userService service.UserService) *RequestHandler {
	return &RequestHandler{
		requestService:  requestService,
		workflowService: workflowService,
		userService:     userService,
	}
}

// RegisterRoutes binds the endpoints to the gin Engine or RouterGroup
func (h *RequestHandler) RegisterRoutes(router *gin.RouterGroup) {
	requests := router.Group("/api/requests")
	{
		// Read paths allow anonymous access; the visibility pre-filter
		// then hides restricted requests.
		requests.GET("", middleware.OptionalAuth(h.userService), h.List)
		requests.GET("/kinds", h.Kinds)
		requests.GET("/pending", middleware.RequireAuth(h.userService), h.PendingForMe)
		requests.GET("/remanded", middleware.RequireAuth(h.userService), h.RemandedForMe)
		requests.GET("/:id", middleware.OptionalAuth(h.userService), h.Detail)

		requests.POST("", middleware.RequireAuth(h.userService), h.Submit)
		requests.POST("/:id/submit", middleware.RequireAuth(h.userService), h.SubmitDraft)
	}
}

// List handles the dashboard search
// @Summary      List requests
// @Description  Lists requests visible to the viewer, with free-text, status, kind and applicant filters
// @Tags         requests
// @Produce      json
// @Param        q          query  string  false  "Free-text match on title or request number"
// @Param        status     query  string  false  "Status filter"
// @Param        kind       query  string  false  "Kind slug filter"
// @Param        applicant  query  string  false  "Applicant user id"
// @Param        own        query  bool    false  "Only the viewer's own requests"
// @Success      200  {object}  response.Response
// @Router       /api/requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	filter := service.ListFilter{
		Query:     c.Query("q"),
		Status:    c.Query("status"),
		Kind:      c.Query("kind"),
		Applicant: c.Query("applicant"),
		OwnOnly:   c.Query("own") == "true",
		Page:      page,
		Limit:     limit,
	}

	requests, total, err := h.requestService.List(c.Request.Context(), middleware.CurrentUser(c), filter)
	if err != nil {
		c.JSON(response.StatusOf(err), response.FromError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": http.StatusOK,
		"data":   requests,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

// Kinds returns the registered request kinds with their form metadata
func (h *RequestHandler) Kinds(c *gin.Context) {
	c.JSON(http.StatusOK, response.Success(http.StatusOK, h.requestService.Kinds()))
}

// PendingForMe returns requests waiting on the viewer's approval
// @Summary      Pending approvals
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response
// @Router       /api/requests/pending [get]
func (h *RequestHandler) PendingForMe(c *gin.Context) {
	requests, err := h.requestService.PendingForMe(c.Request.Context(), middleware.CurrentUser(c))
	if err != nil {
		c.JSON(response.StatusOf(err), response.FromError(err))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, requests))
}

// RemandedForMe returns the viewer's requests awaiting resubmission
func (h *RequestHandler) RemandedForMe(c *gin.Context) {
	requests, err := h.requestService.RemandedForMe(c.Request.Context(), middleware.CurrentUser(c))
	if err != nil {
		c.JSON(response.StatusOf(err), response.FromError(err))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, requests))
}

// Detail returns one request with its chain, audit log and the
// viewer's available actions
// @Summary      Request detail
// @Tags         requests
// @Produce      json
// @Param        id  path  string  true  "Request id"
// @Success      200  {object}  response.Response{data=service.RequestDetail}
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/requests/{id} [get]
func (h *RequestHandler) Detail(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid request id"))
		return
	}

	detail, err := h.requestService.Detail(c.Request.Context(), middleware.CurrentUser(c), id)
	if err != nil {
		c.JSON(response.StatusOf(err), response.FromError(err))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, detail))
}

// Submit creates a request and, unless draft is set, submits it to its
// approver chain
// @Summary      Submit a request
// @Tags         requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.SubmitInput  true  "New request"
// @Success      201      {object}  response.Response
// @Failure      400      {object}  response.Response
// @Router       /api/requests [post]
func (h *RequestHandler) Submit(c *gin.Context) {
	var in service.SubmitInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	req, err := h.workflowService.Submit(c.Request.Context(), middleware.CurrentUser(c), in)
	if err != nil {
		c.JSON(response.StatusOf(err), response.FromError(err))
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, req))
}

type submitDraftRequest struct {
	ApproverIDs []uuid.UUID `json:"approver_ids" binding:"required"`
}

// SubmitDraft submits a previously saved draft
func (h *RequestHandler) SubmitDraft(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid request id"))
		return
	}

	var in submitDraftRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	req, err := h.workflowService.SubmitDraft(c.Request.Context(), middleware.CurrentUser(c), id, in.ApproverIDs)
	if err != nil {
		c.JSON(response.StatusOf(err), response.FromError(err))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, req))
}
