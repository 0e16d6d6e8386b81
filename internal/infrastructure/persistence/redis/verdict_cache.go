package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	wfmodel "tale-weaver-api/internal/workflow/model"
)

const verdictNamespace = "tw:"

// VerdictCache 以 JSON 存储第二阶段校验结论，实现 port.VerdictCache
type VerdictCache struct {
	client *Client
}

func NewVerdictCache(client *Client) *VerdictCache {
	return &VerdictCache{client: client}
}

// Get 未命中时返回 (nil, false, nil)
func (c *VerdictCache) Get(ctx context.Context, key string) (*wfmodel.ValidationResult, bool, error) {
	ctx, span := tracer.Start(ctx, "cache.GetVerdict",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	raw, err := c.client.rdb.Get(ctx, verdictNamespace+key).Bytes()
	if err != nil {
		if IsNil(err) {
			span.SetAttributes(attribute.Bool("cache.hit", false))
			return nil, false, nil
		}
		span.RecordError(err)
		return nil, false, err
	}

	verdict, err := decodeVerdict(raw)
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	span.SetAttributes(attribute.Bool("cache.hit", true))
	return verdict, true, nil
}

func (c *VerdictCache) Set(ctx context.Context, key string, verdict *wfmodel.ValidationResult, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "cache.SetVerdict",
		trace.WithAttributes(
			attribute.String("cache.key", key),
			attribute.Int64("cache.ttl_ms", ttl.Milliseconds()),
		))
	defer span.End()

	raw, err := encodeVerdict(verdict)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := c.client.rdb.Set(ctx, verdictNamespace+key, raw, ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to cache verdict: %w", err)
	}
	return nil
}

// encodeVerdict 不缓存服务不可用的结论
func encodeVerdict(v *wfmodel.ValidationResult) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("verdict is nil")
	}
	if v.Code == wfmodel.ValidationServiceUnavailable {
		return nil, fmt.Errorf("refusing to cache %s verdict", v.Code)
	}
	cp := *v
	cp.Cached = false
	raw, err := json.Marshal(&cp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal verdict: %w", err)
	}
	return raw, nil
}

func decodeVerdict(raw []byte) (*wfmodel.ValidationResult, error) {
	var v wfmodel.ValidationResult
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached verdict: %w", err)
	}
	if v.Code == "" {
		return nil, fmt.Errorf("cached verdict has no code")
	}
	return &v, nil
}
