package validator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tale-weaver-api/internal/domain/entity"
	wfmodel "tale-weaver-api/internal/workflow/model"
	workflowport "tale-weaver-api/internal/workflow/port"
	"tale-weaver-api/internal/workflow/workflowtest"
)

func newRequest() *entity.GenerationRequest {
	return &entity.GenerationRequest{
		Mode:            entity.StoryModeSingle,
		Characters:      []entity.Character{{Name: "Luna", Traits: []string{"curious"}}},
		Moral:           "sharing",
		Theme:           "friendship",
		Interests:       []string{"space"},
		Language:        "en",
		DurationMinutes: 5,
		AudienceAge:     6,
	}
}

func newValidator(t *testing.T, classifier *workflowtest.ChatModel, cache *workflowtest.VerdictCache, timeout time.Duration) *Validator {
	t.Helper()
	factory := workflowtest.NewFactory(map[string]model.BaseChatModel{"classifier": classifier})
	cfg := Config{Provider: "classifier", Timeout: timeout, CacheTTL: time.Hour}
	var vc workflowport.VerdictCache
	if cache != nil {
		vc = cache
	}
	v, err := New(factory, nil, vc, cfg)
	require.NoError(t, err)
	return v
}

func TestValidate_Approved(t *testing.T) {
	classifier := workflowtest.NewScripted(workflowtest.Reply{Content: `{"approved": true, "reasons": [], "issues": []}`})
	v := newValidator(t, classifier, nil, time.Second)

	res := v.Validate(context.Background(), newRequest())

	assert.True(t, res.Approved)
	assert.Equal(t, wfmodel.ValidationApproved, res.Code)
	assert.Equal(t, 2, res.Stage)
	require.Equal(t, 1, classifier.Calls())
	opts := classifier.Call(1).Options
	require.NotNil(t, opts.Temperature)
	assert.Equal(t, float32(0), *opts.Temperature)
	assert.Contains(t, classifier.LastUserMessage(1), "children aged 6")
}

func TestValidate_IPReferenceSkipsClassifier(t *testing.T) {
	classifier := workflowtest.NewScripted(workflowtest.Reply{Content: `{"approved": true}`})
	v := newValidator(t, classifier, nil, time.Second)

	req := newRequest()
	req.Interests = []string{"space", "Pikachu adventures"}
	res := v.Validate(context.Background(), req)

	assert.False(t, res.Approved)
	assert.Equal(t, wfmodel.ValidationIPReference, res.Code)
	assert.Equal(t, 1, res.Stage)
	assert.Equal(t, []string{"pikachu"}, res.DetectedIssues)
	require.Len(t, res.Reasons, 1)
	assert.Contains(t, res.Reasons[0], "interests[1]")
	assert.Contains(t, res.Reasons[0], "pikachu")
	assert.Zero(t, classifier.Calls())
}

func TestValidate_TermMatchingUsesWordBoundaries(t *testing.T) {
	classifier := workflowtest.NewScripted(workflowtest.Reply{Content: `{"approved": true}`})
	v := newValidator(t, classifier, nil, time.Second)

	req := newRequest()
	req.Characters[0].Description = "a marvelous little fox"
	res := v.Validate(context.Background(), req)
	assert.True(t, res.Approved)

	req = newRequest()
	req.Characters[0].Name = "HARRY   POTTER"
	res = v.Validate(context.Background(), req)
	assert.False(t, res.Approved)
	assert.Equal(t, wfmodel.ValidationIPReference, res.Code)
	assert.Contains(t, res.Reasons[0], "characters[0].name")
}

func TestValidate_PolicyViolation(t *testing.T) {
	classifier := workflowtest.NewScripted(workflowtest.Reply{
		Content: "```json\n{\"approved\": false, \"reasons\": [\"graphic violence is not suitable\"], \"issues\": [\"violence\"]}\n```",
	})
	v := newValidator(t, classifier, nil, time.Second)

	res := v.Validate(context.Background(), newRequest())

	assert.False(t, res.Approved)
	assert.Equal(t, wfmodel.ValidationPolicyViolation, res.Code)
	assert.Equal(t, []string{"graphic violence is not suitable"}, res.Reasons)
	assert.Equal(t, []string{"violence"}, res.DetectedIssues)
}

func TestValidate_RejectionWithoutReasonsGetsDefault(t *testing.T) {
	classifier := workflowtest.NewScripted(workflowtest.Reply{Content: `{"approved": false}`})
	v := newValidator(t, classifier, nil, time.Second)

	res := v.Validate(context.Background(), newRequest())
	assert.False(t, res.Approved)
	assert.NotEmpty(t, res.Reasons)
}

func TestValidate_FailsClosed(t *testing.T) {
	cases := map[string]workflowtest.Reply{
		"transport error":  {Err: errors.New("connection refused")},
		"garbage output":   {Content: "I think this request is lovely."},
		"missing approved": {Content: `{"reasons": []}`},
		"timeout":          {Block: true},
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			classifier := workflowtest.NewScripted(reply)
			v := newValidator(t, classifier, nil, 50*time.Millisecond)

			res := v.Validate(context.Background(), newRequest())

			assert.False(t, res.Approved)
			assert.Equal(t, wfmodel.ValidationServiceUnavailable, res.Code)
			assert.Equal(t, []string{wfmodel.ReasonValidationUnavailable}, res.Reasons)
		})
	}
}

func TestValidate_UnknownProviderFailsClosed(t *testing.T) {
	factory := &workflowtest.Factory{Err: errors.New("provider missing")}
	v, err := New(factory, nil, nil, Config{Provider: "classifier", Timeout: time.Second})
	require.NoError(t, err)

	res := v.Validate(context.Background(), newRequest())
	assert.Equal(t, wfmodel.ValidationServiceUnavailable, res.Code)
}

func TestValidate_CachedVerdict(t *testing.T) {
	classifier := workflowtest.NewScripted(workflowtest.Reply{Content: `{"approved": true}`})
	cache := workflowtest.NewVerdictCache()
	v := newValidator(t, classifier, cache, time.Second)

	first := v.Validate(context.Background(), newRequest())
	second := v.Validate(context.Background(), newRequest())

	assert.True(t, first.Approved)
	assert.False(t, first.Cached)
	assert.True(t, second.Approved)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, classifier.Calls())
	assert.Equal(t, 1, cache.Sets)
}

func TestValidate_UnavailableIsNotCached(t *testing.T) {
	classifier := workflowtest.NewScripted(
		workflowtest.Reply{Err: errors.New("503")},
		workflowtest.Reply{Content: `{"approved": true}`},
	)
	cache := workflowtest.NewVerdictCache()
	v := newValidator(t, classifier, cache, time.Second)

	assert.False(t, v.Validate(context.Background(), newRequest()).Approved)
	assert.True(t, v.Validate(context.Background(), newRequest()).Approved)
	assert.Equal(t, 1, cache.Sets)
}

func TestValidate_CacheReadErrorFallsThrough(t *testing.T) {
	classifier := workflowtest.NewScripted(workflowtest.Reply{Content: `{"approved": true}`})
	cache := workflowtest.NewVerdictCache()
	cache.GetErr = errors.New("redis down")
	v := newValidator(t, classifier, cache, time.Second)

	assert.True(t, v.Validate(context.Background(), newRequest()).Approved)
	assert.Equal(t, 1, classifier.Calls())
}

func TestValidate_ConcurrentIdenticalRequestsShareOneCall(t *testing.T) {
	release := make(chan struct{})
	classifier := workflowtest.NewFunc(func(int, []*schema.Message) workflowtest.Reply {
		<-release
		return workflowtest.Reply{Content: `{"approved": true}`}
	})
	v := newValidator(t, classifier, nil, time.Second)

	var wg sync.WaitGroup
	results := make([]*wfmodel.ValidationResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = v.Validate(context.Background(), newRequest())
		}(i)
	}
	require.Eventually(t, func() bool { return classifier.Calls() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.True(t, r.Approved)
	}
	assert.Equal(t, 1, classifier.Calls())
}

func TestValidate_CallerCancellationFailsClosed(t *testing.T) {
	classifier := workflowtest.NewScripted(workflowtest.Reply{Delay: time.Second, Content: `{"approved": true}`})
	v := newValidator(t, classifier, nil, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res := v.Validate(ctx, newRequest())
	assert.False(t, res.Approved)
	assert.Equal(t, wfmodel.ValidationServiceUnavailable, res.Code)
}

func TestNew_RequiresProvider(t *testing.T) {
	_, err := New(workflowtest.NewFactory(nil), nil, nil, Config{})
	require.Error(t, err)
	_, err = New(nil, nil, nil, Config{Provider: "x"})
	require.Error(t, err)
}
