package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/funcx-faas/action-provider/internal/domain"
	"github.com/funcx-faas/action-provider/internal/service"
)

// ActionService handler 依赖的服务接口
type ActionService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*domain.ActionStatus, error)
	Status(ctx context.Context, actionID string) (*domain.ActionStatus, error)
	Release(ctx context.Context, actionID string) (*domain.ActionStatus, error)
	// Cancel 远程任务不可取消，总是返回 domain.ErrBadRequest
	Cancel(ctx context.Context, actionID string) error
}

type ActionHandler struct {
	svc    ActionService
	schema *InputSchema
	logger *slog.Logger
}

func NewActionHandler(svc ActionService, schema *InputSchema) *ActionHandler {
	return &ActionHandler{svc: svc, schema: schema, logger: slog.Default().With("component", "http.action")}
}

// 请求体：提交一批任务
type RunRequest struct {
	RequestID string         `json:"request_id"`
	Body      map[string]any `json:"body"`
	MonitorBy []string       `json:"monitor_by"`
	ManageBy  []string       `json:"manage_by"`
}

// POST /run
func (h *ActionHandler) Run(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	if err := h.schema.Validate(doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	var req RunRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}

	st, err := h.svc.Submit(c.Request.Context(), service.SubmitRequest{
		RequestID: req.RequestID,
		Body:      req.Body,
		CreatorID: Identity(c),
		MonitorBy: req.MonitorBy,
		ManageBy:  req.ManageBy,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	// 提交失败同样以 202 返回 FAILED 状态
	c.JSON(http.StatusAccepted, st)
}

// GET /:action_id/status
func (h *ActionHandler) Status(c *gin.Context) {
	st, err := h.svc.Status(c.Request.Context(), c.Param("action_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// POST /:action_id/release
func (h *ActionHandler) Release(c *gin.Context) {
	st, err := h.svc.Release(c.Request.Context(), c.Param("action_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// POST /:action_id/cancel
// ActionService.Cancel 总是返回 ErrBadRequest，这里只负责把错误映射成响应
func (h *ActionHandler) Cancel(c *gin.Context) {
	h.writeError(c, h.svc.Cancel(c.Request.Context(), c.Param("action_id")))
}

func (h *ActionHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrBadRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request", "detail": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "detail": err.Error()})
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "detail": err.Error()})
	default:
		h.logger.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
