package storyjob

import (
	"context"
	"time"

	"tale-weaver-api/internal/domain/entity"
	"tale-weaver-api/pkg/logger"
)

var cancelPollInterval = 2 * time.Second

// watchCancellation 轮询任务状态，发现被取消时停止正在执行的工作流
func (s *Service) watchCancellation(ctx context.Context, stop context.CancelFunc, jobID string) {
	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := s.jobs.GetByID(ctx, jobID)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn(ctx, "failed to poll job status", "error", err.Error())
				}
				continue
			}
			if job.Status == entity.JobStatusCancelled {
				logger.Info(ctx, "story job cancelled, stopping workflow")
				stop()
				return
			}
		}
	}
}
