// Package entity 定义领域实体
package entity

import (
	"encoding/json"
	"time"
)

// JobType 任务类型
type JobType string

const (
	JobTypeStoryGen JobType = "story_gen"
)

// JobStatus 任务状态
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// GenerationJob 异步故事生成任务
// OutputResult 保存工作流结果与诊断快照（JSON）
type GenerationJob struct {
	ID               string          `json:"id" gorm:"primaryKey;type:uuid"`
	JobType          JobType         `json:"job_type" gorm:"type:varchar(32);not null"`
	Status           JobStatus       `json:"status" gorm:"type:varchar(16);not null;index"`
	InputParams      json.RawMessage `json:"input_params" gorm:"type:jsonb;not null"`
	OutputResult     json.RawMessage `json:"output_result,omitempty" gorm:"type:jsonb"`
	OutcomeStatus    string          `json:"outcome_status,omitempty" gorm:"type:varchar(16)"`
	QualityScore     float64         `json:"quality_score,omitempty"`
	AttemptsMade     int             `json:"attempts_made,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	LLMProvider      string          `json:"llm_provider,omitempty"`
	LLMModel         string          `json:"llm_model,omitempty"`
	TokensPrompt     int             `json:"tokens_prompt,omitempty"`
	TokensCompletion int             `json:"tokens_completion,omitempty"`
	DurationMs       int             `json:"duration_ms,omitempty"`
	RetryCount       int             `json:"retry_count"`
	Progress         int             `json:"progress"` // 任务进度 (0-100)
	IdempotencyKey   string          `json:"idempotency_key,omitempty" gorm:"type:varchar(128);uniqueIndex:idx_generation_jobs_idem,where:idempotency_key <> ''"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// TableName 表名
func (GenerationJob) TableName() string {
	return "generation_jobs"
}

// NewGenerationJob 创建新任务
func NewGenerationJob(id string, jobType JobType, inputParams json.RawMessage) *GenerationJob {
	return &GenerationJob{
		ID:          id,
		JobType:     jobType,
		Status:      JobStatusPending,
		InputParams: inputParams,
		CreatedAt:   time.Now(),
	}
}

// Start 开始执行任务
func (j *GenerationJob) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
}

// Complete 完成任务并记录工作流结果
func (j *GenerationJob) Complete(result json.RawMessage, outcomeStatus string, qualityScore float64, attemptsMade int) {
	j.finish(JobStatusCompleted)
	j.OutputResult = result
	j.OutcomeStatus = outcomeStatus
	j.QualityScore = qualityScore
	j.AttemptsMade = attemptsMade
	j.Progress = 100
}

// Fail 任务失败；result 可为空，非空时保留诊断快照
func (j *GenerationJob) Fail(errMsg string, result json.RawMessage) {
	j.finish(JobStatusFailed)
	j.ErrorMessage = errMsg
	if len(result) > 0 {
		j.OutputResult = result
	}
}

// Cancel 取消任务
func (j *GenerationJob) Cancel() {
	j.finish(JobStatusCancelled)
}

func (j *GenerationJob) finish(status JobStatus) {
	now := time.Now()
	j.Status = status
	j.CompletedAt = &now
	if j.StartedAt != nil {
		j.DurationMs = int(now.Sub(*j.StartedAt).Milliseconds())
	}
}

// IsTerminal 是否处于终态
func (j *GenerationJob) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Retry 重试任务
func (j *GenerationJob) Retry() {
	j.RetryCount++
	j.Status = JobStatusPending
	j.StartedAt = nil
	j.CompletedAt = nil
	j.ErrorMessage = ""
}

// CanRetry 检查是否可以重试
func (j *GenerationJob) CanRetry(maxRetries int) bool {
	return j.RetryCount < maxRetries && j.Status == JobStatusFailed
}

// SetLLMMetrics 设置 LLM 使用指标
func (j *GenerationJob) SetLLMMetrics(provider, model string, promptTokens, completionTokens int) {
	j.LLMProvider = provider
	j.LLMModel = model
	j.TokensPrompt = promptTokens
	j.TokensCompletion = completionTokens
}

// UpdateProgress 更新任务进度
func (j *GenerationJob) UpdateProgress(progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	j.Progress = progress
}
