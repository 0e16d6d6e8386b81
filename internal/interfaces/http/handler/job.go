package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"tale-weaver-api/internal/domain/entity"
	"tale-weaver-api/internal/interfaces/http/dto"
	"tale-weaver-api/pkg/logger"
)

// JobService 异步任务服务
type JobService interface {
	Submit(ctx context.Context, req *entity.GenerationRequest, idempotencyKey string) (*entity.GenerationJob, bool, error)
	Get(ctx context.Context, id string) (*entity.GenerationJob, error)
	Cancel(ctx context.Context, id string) (*entity.GenerationJob, error)
}

// JobHandler 任务处理器
type JobHandler struct {
	jobs JobService
}

func NewJobHandler(jobs JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// CreateJob 提交异步故事生成任务
// @Summary 提交异步生成任务
// @Tags Jobs
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "幂等键"
// @Success 202 {object} dto.Response[dto.JobResponse]
// @Success 200 {object} dto.Response[dto.JobResponse] "幂等键命中已有任务"
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/jobs [post]
func (h *JobHandler) CreateJob(c *gin.Context) {
	var body dto.GenerateStoryRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	job, created, err := h.jobs.Submit(ctx, body.ToEntity(), c.GetHeader(dto.IdempotencyKeyHeader))
	if err != nil {
		logger.Warn(ctx, "failed to submit story job", "error", err.Error())
		dto.AppError(c, err)
		return
	}
	if !created {
		dto.Success(c, dto.ToJobResponse(job))
		return
	}
	dto.Accepted(c, dto.ToJobResponse(job))
}

// GetJob 获取任务详情
// @Summary 获取任务详情
// @Tags Jobs
// @Produce json
// @Param jid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.JobResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/jobs/{jid} [get]
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.Get(c.Request.Context(), dto.BindJobID(c))
	if err != nil {
		dto.AppError(c, err)
		return
	}
	dto.Success(c, dto.ToJobResponse(job))
}

// CancelJob 取消任务
// @Summary 取消任务
// @Tags Jobs
// @Produce json
// @Param jid path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.CancelJobResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse "任务已结束"
// @Router /v1/jobs/{jid}/cancel [post]
func (h *JobHandler) CancelJob(c *gin.Context) {
	job, err := h.jobs.Cancel(c.Request.Context(), dto.BindJobID(c))
	if err != nil {
		dto.AppError(c, err)
		return
	}
	dto.Success(c, &dto.CancelJobResponse{
		ID:        job.ID,
		Cancelled: job.Status == entity.JobStatusCancelled,
	})
}
