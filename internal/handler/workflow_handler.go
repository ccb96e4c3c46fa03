package handler

import (
	"net/http"

	"ringi/internal/middleware"
	"ringi/internal/service"
	"ringi/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type WorkflowHandler struct {
	workflowService service.WorkflowService
	reminderService service.ReminderService
	userService     service.UserService
}

func NewWorkflowHandler(workflowService service.WorkflowService, reminderService service.ReminderService, userService service.UserService) *WorkflowHandler {
	return &WorkflowHandler{
		workflowService: workflowService,
		reminderService: reminderService,
		userService:     userService,
	}
}

// RegisterRoutes binds the endpoints to the gin Engine or RouterGroup
func (h *WorkflowHandler) RegisterRoutes(router *gin.RouterGroup) {
	requests := router.Group("/api/requests", middleware.RequireAuth(h.userService))
	{
		requests.POST("/:id/approve", h.Approve)
		requests.POST("/:id/remand", h.Remand)
		requests.POST("/:id/reject", h.Reject)
		requests.POST("/:id/withdraw", h.Withdraw)
		requests.POST("/:id/resubmit", h.Resubmit)
		requests.POST("/:id/proxy-remand", middleware.RequireAdmin(), h.ProxyRemand)
	}

	admin := router.Group("/api/admin", middleware.RequireAuth(h.userService), middleware.RequireAdmin())
	{
		admin.POST("/reminders", h.SendReminders)
	}
}

type actionRequest struct {
	Comment string `json:"comment"`
}

type workflowAction func(c *gin.Context, id uuid.UUID, comment string) (any, error)

// perform parses the shared path and body shape, then delegates to one
// workflow operation.
func (h *WorkflowHandler) perform(c *gin.Context, action workflowAction) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid request id"))
		return
	}

	var in actionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
			return
		}
	}

	result, err := action(c, id, in.Comment)
	if err != nil {
		c.JSON(response.StatusOf(err), response.FromError(err))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// Approve records the actor's approval and advances or finishes the chain
// @Summary      Approve a request
// @Tags         workflow
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string         true   "Request id"
// @Param        payload  body      actionRequest  false  "Optional comment"
// @Success      200      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/requests/{id}/approve [post]
func (h *WorkflowHandler) Approve(c *gin.Context) {
	h.perform(c, func(c *gin.Context, id uuid.UUID, comment string) (any, error) {
		return h.workflowService.Approve(c.Request.Context(), middleware.CurrentUser(c), id, comment)
	})
}

// Remand sends the request back to its applicant. A comment is required.
// @Summary      Remand a request
// @Tags         workflow
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string         true  "Request id"
// @Param        payload  body      actionRequest  true  "Reason for remand"
// @Success      200      {object}  response.Response
// @Failure      400      {object}  response.Response
// @Router       /api/requests/{id}/remand [post]
func (h *WorkflowHandler) Remand(c *gin.Context) {
	h.perform(c, func(c *gin.Context, id uuid.UUID, comment string) (any, error) {
		return h.workflowService.Remand(c.Request.Context(), middleware.CurrentUser(c), id, comment)
	})
}

// Reject terminally declines the request. A comment is required.
func (h *WorkflowHandler) Reject(c *gin.Context) {
	h.perform(c, func(c *gin.Context, id uuid.UUID, comment string) (any, error) {
		return h.workflowService.Reject(c.Request.Context(), middleware.CurrentUser(c), id, comment)
	})
}

// Withdraw lets the applicant cancel their own in-flight request
func (h *WorkflowHandler) Withdraw(c *gin.Context) {
	h.perform(c, func(c *gin.Context, id uuid.UUID, _ string) (any, error) {
		return h.workflowService.Withdraw(c.Request.Context(), middleware.CurrentUser(c), id)
	})
}

// Resubmit restarts a remanded request with edited content and a fresh chain
// @Summary      Resubmit a remanded request
// @Tags         workflow
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                 true  "Request id"
// @Param        payload  body      service.ResubmitInput  true  "Edited request"
// @Success      200      {object}  response.Response
// @Router       /api/requests/{id}/resubmit [post]
func (h *WorkflowHandler) Resubmit(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid request id"))
		return
	}

	var in service.ResubmitInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	req, err := h.workflowService.Resubmit(c.Request.Context(), middleware.CurrentUser(c), id, in)
	if err != nil {
		c.JSON(response.StatusOf(err), response.FromError(err))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, req))
}

// ProxyRemand lets an administrator remand on behalf of a stalled approver
func (h *WorkflowHandler) ProxyRemand(c *gin.Context) {
	h.perform(c, func(c *gin.Context, id uuid.UUID, comment string) (any, error) {
		return h.workflowService.ProxyRemand(c.Request.Context(), middleware.CurrentUser(c), id, comment)
	})
}

// SendReminders triggers reminder mail for stalled approvals
// @Summary      Send approval reminders
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Param        dry_run  query     bool  false  "Log instead of sending"
// @Success      200      {object}  response.Response
// @Router       /api/admin/reminders [post]
func (h *WorkflowHandler) SendReminders(c *gin.Context) {
	dryRun := c.Query("dry_run") == "true"

	count, err := h.reminderService.SendReminders(c.Request.Context(), dryRun)
	if err != nil {
		c.JSON(response.StatusOf(err), response.FromError(err))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"reminded": count, "dry_run": dryRun}))
}
