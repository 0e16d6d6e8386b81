// Package storyjob 异步故事生成任务：落库、入队、消费执行与取消
package storyjob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"tale-weaver-api/internal/domain/entity"
	"tale-weaver-api/internal/domain/repository"
	"tale-weaver-api/internal/infrastructure/messaging"
	wfmodel "tale-weaver-api/internal/workflow/model"
	apperrors "tale-weaver-api/pkg/errors"
	"tale-weaver-api/pkg/logger"
)

const (
	maxIdempotencyKeyLen = 128
	recordMaxTries       = 4
)

// recordBackOff 结果回写的重试间隔
var recordBackOff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

// Publisher 任务入队
type Publisher interface {
	PublishStoryJob(ctx context.Context, job *messaging.StoryJobMessage, traceID string) (string, error)
}

// Runner 执行一次完整工作流
type Runner interface {
	Execute(ctx context.Context, req *entity.GenerationRequest) *wfmodel.WorkflowOutcome
}

// Service 任务服务；API 进程只需 repo 与 publisher，worker 进程还需要 runner
type Service struct {
	jobs      repository.JobRepository
	publisher Publisher
	runner    Runner
	tx        repository.Transactor
}

func NewService(jobs repository.JobRepository, publisher Publisher, runner Runner) *Service {
	return &Service{jobs: jobs, publisher: publisher, runner: runner, tx: noTx{}}
}

// WithTransactor 结果回写在事务中完成
func (s *Service) WithTransactor(tx repository.Transactor) *Service {
	if tx != nil {
		s.tx = tx
	}
	return s
}

type noTx struct{}

func (noTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Submit 创建任务并入队；相同幂等键返回已有任务且 created 为 false
func (s *Service) Submit(ctx context.Context, req *entity.GenerationRequest, idempotencyKey string) (*entity.GenerationJob, bool, error) {
	if err := req.Check(); err != nil {
		return nil, false, err
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if len(idempotencyKey) > maxIdempotencyKeyLen {
		return nil, false, apperrors.ErrInvalidParam.WithDetail(fmt.Sprintf("idempotency key exceeds %d characters", maxIdempotencyKeyLen))
	}

	if idempotencyKey != "" {
		existing, err := s.jobs.GetByIdempotencyKey(ctx, idempotencyKey)
		if err != nil {
			return nil, false, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to look up job")
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	input, err := json.Marshal(req)
	if err != nil {
		return nil, false, apperrors.Wrap(err, apperrors.CodeInternalError, "failed to encode request")
	}
	job := entity.NewGenerationJob(uuid.NewString(), entity.JobTypeStoryGen, input)
	job.IdempotencyKey = idempotencyKey
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, false, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to create job")
	}

	ctx = logger.WithContext(ctx, logger.JobIDKey, job.ID)
	requestID, _ := ctx.Value(logger.RequestIDKey).(string)
	traceID, _ := ctx.Value(logger.TraceIDKey).(string)
	if _, err := s.publisher.PublishStoryJob(ctx, &messaging.StoryJobMessage{JobID: job.ID, RequestID: requestID}, traceID); err != nil {
		job.Fail("failed to enqueue job", nil)
		if uerr := s.jobs.Update(ctx, job); uerr != nil {
			logger.Error(ctx, "failed to mark unqueued job failed", uerr)
		}
		return nil, false, apperrors.Wrap(err, apperrors.CodeQueueError, "failed to enqueue job")
	}

	logger.Info(ctx, "story job submitted", "idempotency_key", idempotencyKey)
	return job, true, nil
}

// Get 查询任务
func (s *Service) Get(ctx context.Context, id string) (*entity.GenerationJob, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return nil, apperrors.ErrJobNotFound
		}
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to get job")
	}
	return job, nil
}

// Cancel 取消未结束的任务；已取消时幂等返回，已完成或失败时返回冲突
func (s *Service) Cancel(ctx context.Context, id string) (*entity.GenerationJob, error) {
	ok, err := s.jobs.MarkCancelled(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to cancel job")
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok && job.Status != entity.JobStatusCancelled {
		return nil, apperrors.ErrConflict.WithDetail(fmt.Sprintf("job already %s", job.Status))
	}
	return job, nil
}

// HandleMessage 消费 story_gen 消息。返回错误会让消息留在 pending 中重投，
// 因此只有仓储错误与进程退出打断执行时返回错误，工作流本身的失败记录在任务上。
func (s *Service) HandleMessage(ctx context.Context, msg *messaging.Message) error {
	var payload messaging.StoryJobMessage
	if err := msg.UnmarshalPayload(&payload); err != nil {
		logger.Error(ctx, "dropping story job with bad payload", err)
		return nil
	}
	return s.Process(ctx, payload.JobID)
}

// Process 执行一个任务
func (s *Service) Process(ctx context.Context, jobID string) error {
	if s.runner == nil {
		return fmt.Errorf("workflow runner not configured")
	}
	ctx = logger.WithContext(ctx, logger.JobIDKey, jobID)

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			logger.Warn(ctx, "story job vanished before processing")
			return nil
		}
		return err
	}
	switch job.Status {
	case entity.JobStatusPending:
		started, err := s.jobs.MarkRunning(ctx, jobID)
		if err != nil {
			return err
		}
		if !started {
			logger.Info(ctx, "story job claimed elsewhere or cancelled")
			return nil
		}
		job.Start()
	case entity.JobStatusRunning:
		// 消息重投时任务仍为 running，说明上次执行被中断或结果未能落库
		logger.Warn(ctx, "resuming interrupted story job")
	default:
		logger.Info(ctx, "skipping story job", "status", string(job.Status))
		return nil
	}

	var req entity.GenerationRequest
	if err := json.Unmarshal(job.InputParams, &req); err != nil {
		job.Fail(fmt.Sprintf("stored request is unreadable: %v", err), nil)
		return s.jobs.Update(context.WithoutCancel(ctx), job)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go s.watchCancellation(runCtx, stop, jobID)

	outcome := s.runner.Execute(runCtx, &req)
	if err := ctx.Err(); err != nil {
		logger.Warn(ctx, "story job interrupted, leaving it for redelivery", "error", err.Error())
		return err
	}
	return s.record(ctx, job, outcome)
}

// record 将结果写回任务行；任务已被取消时保留取消状态。回写不受 ctx 取消影响，
// 失败按退避重试，仍失败时返回错误让消息重投。
func (s *Service) record(ctx context.Context, job *entity.GenerationJob, outcome *wfmodel.WorkflowOutcome) error {
	result, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}

	ctx = context.WithoutCancel(ctx)
	tries := 0
	operation := func() (struct{}, error) {
		tries++
		return struct{}{}, s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
			return s.writeOutcome(ctx, txCtx, job, outcome, result)
		})
	}
	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(recordBackOff()),
		backoff.WithMaxTries(recordMaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn(ctx, "failed to record story job outcome, retrying",
				"try", tries,
				"next_in", next.String(),
				"error", err.Error(),
			)
		}),
	)
	if err != nil {
		logger.Error(ctx, "failed to record story job outcome", err, "tries", tries)
	}
	return err
}

func (s *Service) writeOutcome(ctx, txCtx context.Context, job *entity.GenerationJob, outcome *wfmodel.WorkflowOutcome, result json.RawMessage) error {
	current, err := s.jobs.GetByID(txCtx, job.ID)
	if err != nil {
		return err
	}
	switch {
	case current.Status == entity.JobStatusCancelled:
		current.OutputResult = result
		current.OutcomeStatus = string(outcome.Status)
		logger.Info(ctx, "story job cancelled during execution", "outcome", string(outcome.Status))
		return s.jobs.Update(txCtx, current)
	case current.IsTerminal():
		logger.Info(ctx, "story job outcome already recorded", "status", string(current.Status))
		return nil
	}

	ApplyOutcome(job, outcome, result)
	if err := s.jobs.Update(txCtx, job); err != nil {
		return err
	}
	logger.Info(ctx, "story job finished",
		"status", string(job.Status),
		"outcome", job.OutcomeStatus,
		"quality_score", job.QualityScore,
	)
	return nil
}

// ApplyOutcome 按结果类型更新任务：被接受的结果完成任务，拒绝与失败都视为任务失败
func ApplyOutcome(job *entity.GenerationJob, outcome *wfmodel.WorkflowOutcome, result json.RawMessage) {
	if d := outcome.Diagnostics; d != nil {
		job.SetLLMMetrics(d.Usage.Provider, d.Usage.Model, d.Usage.PromptTokens, d.Usage.CompletionTokens)
	}
	switch outcome.Status {
	case wfmodel.OutcomeAccepted:
		a := outcome.Accepted
		job.Complete(result, string(outcome.Status), a.QualityScore, a.AttemptsMade)
	case wfmodel.OutcomeRejected:
		job.Fail("request rejected: "+strings.Join(outcome.Rejected.Reasons, "; "), result)
		job.OutcomeStatus = string(outcome.Status)
	default:
		msg := "workflow failed"
		if outcome.Failed != nil {
			msg = outcome.Failed.Error
		}
		job.Fail(msg, result)
		job.OutcomeStatus = string(outcome.Status)
	}
}
