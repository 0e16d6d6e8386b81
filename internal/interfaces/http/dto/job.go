package dto

import (
	"encoding/json"
	"time"

	"tale-weaver-api/internal/domain/entity"
)

// JobResponse 任务响应
type JobResponse struct {
	ID             string          `json:"id"`
	JobType        string          `json:"job_type"`
	Status         string          `json:"status"`
	OutcomeStatus  string          `json:"outcome_status,omitempty"`
	QualityScore   float64         `json:"quality_score,omitempty"`
	AttemptsMade   int             `json:"attempts_made,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorMsg       string          `json:"error_msg,omitempty"`
	Progress       int             `json:"progress"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	DurationMs     int             `json:"duration_ms,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CancelJobResponse 取消任务响应
type CancelJobResponse struct {
	ID        string `json:"id"`
	Cancelled bool   `json:"cancelled"`
}

// ToJobResponse 将领域实体转换为响应 DTO
func ToJobResponse(j *entity.GenerationJob) *JobResponse {
	if j == nil {
		return nil
	}
	return &JobResponse{
		ID:             j.ID,
		JobType:        string(j.JobType),
		Status:         string(j.Status),
		OutcomeStatus:  j.OutcomeStatus,
		QualityScore:   j.QualityScore,
		AttemptsMade:   j.AttemptsMade,
		Result:         j.OutputResult,
		ErrorMsg:       j.ErrorMessage,
		Progress:       j.Progress,
		IdempotencyKey: j.IdempotencyKey,
		DurationMs:     j.DurationMs,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}
