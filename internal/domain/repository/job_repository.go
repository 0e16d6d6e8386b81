package repository

import (
	"context"
	"errors"

	"tale-weaver-api/internal/domain/entity"
)

// ErrJobNotFound 任务不存在
var ErrJobNotFound = errors.New("generation job not found")

// JobRepository 生成任务仓储接口
type JobRepository interface {
	// Create 创建任务
	Create(ctx context.Context, job *entity.GenerationJob) error

	// GetByID 根据 ID 获取任务，不存在时返回 ErrJobNotFound
	GetByID(ctx context.Context, id string) (*entity.GenerationJob, error)

	// GetByIdempotencyKey 根据幂等键获取任务，不存在时返回 (nil, nil)
	GetByIdempotencyKey(ctx context.Context, key string) (*entity.GenerationJob, error)

	// Update 保存任务全部字段
	Update(ctx context.Context, job *entity.GenerationJob) error

	// MarkRunning 仅当任务处于 pending 时标记为运行中，返回是否抢占成功
	MarkRunning(ctx context.Context, id string) (bool, error)

	// MarkCancelled 仅当任务未处于终态时标记为取消，返回是否生效
	MarkCancelled(ctx context.Context, id string) (bool, error)
}
