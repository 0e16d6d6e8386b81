// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tale-weaver-api/internal/domain/entity"
	"tale-weaver-api/internal/interfaces/http/dto"
	wfmodel "tale-weaver-api/internal/workflow/model"
	apperrors "tale-weaver-api/pkg/errors"
	"tale-weaver-api/pkg/logger"
)

// StoryWorkflow 同步执行工作流
type StoryWorkflow interface {
	Execute(ctx context.Context, req *entity.GenerationRequest) *wfmodel.WorkflowOutcome
}

// StoryHandler 同步故事生成处理器
type StoryHandler struct {
	workflow StoryWorkflow
}

func NewStoryHandler(workflow StoryWorkflow) *StoryHandler {
	return &StoryHandler{workflow: workflow}
}

// GenerateStory 同步生成故事
// @Summary 同步生成故事
// @Description 执行完整的校验-生成-评估工作流；客户端断开即取消
// @Tags Stories
// @Accept json
// @Produce json
// @Param diagnostics query bool false "是否返回诊断信息"
// @Success 200 {object} dto.Response[wfmodel.WorkflowOutcome]
// @Failure 422 {object} dto.Response[wfmodel.WorkflowOutcome] "请求被内容策略拒绝"
// @Failure 503 {object} dto.Response[wfmodel.WorkflowOutcome] "内容校验服务不可用，可重试"
// @Failure 502 {object} dto.Response[wfmodel.WorkflowOutcome] "生成失败"
// @Router /v1/stories/generate [post]
func (h *StoryHandler) GenerateStory(c *gin.Context) {
	var body dto.GenerateStoryRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	outcome := h.workflow.Execute(ctx, body.ToEntity())

	if ctx.Err() != nil {
		logger.Info(ctx, "client went away before the story was ready",
			"workflow_id", outcome.WorkflowID,
			"status", string(outcome.Status),
		)
	}

	if withDiagnostics, _ := strconv.ParseBool(c.Query("diagnostics")); !withDiagnostics {
		outcome = outcome.WithoutDiagnostics()
	}
	code, message := outcomeStatus(outcome)
	dto.WithStatus(c, code, message, outcome)
}

// outcomeStatus 结果到 HTTP 状态码：接受 200，内容拒绝 422，校验服务不可用 503，失败按失败码映射
func outcomeStatus(o *wfmodel.WorkflowOutcome) (int, string) {
	switch o.Status {
	case wfmodel.OutcomeAccepted:
		return http.StatusOK, "success"
	case wfmodel.OutcomeRejected:
		if o.Rejected != nil && o.Rejected.Code == wfmodel.ValidationServiceUnavailable {
			return apperrors.ErrValidationUnavailable.HTTPStatus, apperrors.ErrValidationUnavailable.Message
		}
		return apperrors.ErrContentRejected.HTTPStatus, apperrors.ErrContentRejected.Message
	default:
		if o.Failed == nil {
			return http.StatusInternalServerError, "workflow failed"
		}
		return apperrors.New(apperrors.ErrorCode(o.Failed.Code), o.Failed.Error).HTTPStatus, o.Failed.Error
	}
}
