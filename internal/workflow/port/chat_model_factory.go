package port

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/model"

	wfmodel "tale-weaver-api/internal/workflow/model"
)

// ChatModelFactory 定义工作流层对 LLM ChatModel 的最小依赖（port）。
type ChatModelFactory interface {
	Get(ctx context.Context, name string) (model.BaseChatModel, error)
}

// VerdictCache 缓存外部分类服务的校验结论。
// 实现应尽量 best-effort：出错时由调用方记录日志并忽略。
type VerdictCache interface {
	Get(ctx context.Context, key string) (*wfmodel.ValidationResult, bool, error)
	Set(ctx context.Context, key string, verdict *wfmodel.ValidationResult, ttl time.Duration) error
}
