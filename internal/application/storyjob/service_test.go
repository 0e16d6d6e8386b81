package storyjob

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tale-weaver-api/internal/domain/entity"
	"tale-weaver-api/internal/domain/repository"
	"tale-weaver-api/internal/infrastructure/messaging"
	wfmodel "tale-weaver-api/internal/workflow/model"
	apperrors "tale-weaver-api/pkg/errors"
)

type memoryJobs struct {
	mu   sync.Mutex
	jobs map[string]entity.GenerationJob
}

func newMemoryJobs() *memoryJobs {
	return &memoryJobs{jobs: map[string]entity.GenerationJob{}}
}

func (m *memoryJobs) Create(_ context.Context, job *entity.GenerationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *memoryJobs) GetByID(_ context.Context, id string) (*entity.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	return &job, nil
}

func (m *memoryJobs) GetByIdempotencyKey(_ context.Context, key string) (*entity.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.IdempotencyKey == key {
			j := job
			return &j, nil
		}
	}
	return nil, nil
}

func (m *memoryJobs) Update(_ context.Context, job *entity.GenerationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *memoryJobs) MarkRunning(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != entity.JobStatusPending {
		return false, nil
	}
	job.Start()
	m.jobs[id] = job
	return true, nil
}

func (m *memoryJobs) MarkCancelled(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.IsTerminal() {
		return false, nil
	}
	job.Cancel()
	m.jobs[id] = job
	return true, nil
}

type recordingPublisher struct {
	published []*messaging.StoryJobMessage
	err       error
}

func (p *recordingPublisher) PublishStoryJob(_ context.Context, job *messaging.StoryJobMessage, _ string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.published = append(p.published, job)
	return "1-0", nil
}

type runnerFunc func(ctx context.Context, req *entity.GenerationRequest) *wfmodel.WorkflowOutcome

func (f runnerFunc) Execute(ctx context.Context, req *entity.GenerationRequest) *wfmodel.WorkflowOutcome {
	return f(ctx, req)
}

func newRequest() *entity.GenerationRequest {
	return &entity.GenerationRequest{
		Mode:            entity.StoryModeSingle,
		Characters:      []entity.Character{{Name: "Luna"}},
		Moral:           "sharing",
		Language:        "en",
		DurationMinutes: 3,
	}
}

func acceptedOutcome() *wfmodel.WorkflowOutcome {
	return &wfmodel.WorkflowOutcome{
		Status:     wfmodel.OutcomeAccepted,
		WorkflowID: "wf-1",
		Accepted: &wfmodel.AcceptedOutcome{
			Content: "Once upon a time", Title: "The Moon Boat",
			QualityScore: 8.2, AttemptsMade: 2, SelectedAttemptNumber: 2, ThresholdMet: true,
		},
		Diagnostics: &wfmodel.Diagnostics{Usage: wfmodel.LLMUsageMeta{Provider: "openai", Model: "gpt-4o", PromptTokens: 100, CompletionTokens: 400}},
	}
}

func TestSubmit_CreatesAndPublishes(t *testing.T) {
	jobs, pub := newMemoryJobs(), &recordingPublisher{}
	svc := NewService(jobs, pub, nil)

	job, created, err := svc.Submit(context.Background(), newRequest(), "key-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, entity.JobStatusPending, job.Status)
	require.Len(t, pub.published, 1)
	assert.Equal(t, job.ID, pub.published[0].JobID)

	var stored entity.GenerationRequest
	require.NoError(t, json.Unmarshal(job.InputParams, &stored))
	assert.Equal(t, "sharing", stored.Moral)

	again, created, err := svc.Submit(context.Background(), newRequest(), "key-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, job.ID, again.ID)
	assert.Len(t, pub.published, 1)
}

func TestSubmit_RejectsMalformedRequest(t *testing.T) {
	svc := NewService(newMemoryJobs(), &recordingPublisher{}, nil)
	req := newRequest()
	req.Mode = entity.StoryModeDual

	_, _, err := svc.Submit(context.Background(), req, "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidParam)
}

func TestSubmit_PublishFailureMarksJobFailed(t *testing.T) {
	jobs := newMemoryJobs()
	svc := NewService(jobs, &recordingPublisher{err: errors.New("redis down")}, nil)

	_, _, err := svc.Submit(context.Background(), newRequest(), "")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeQueueError, apperrors.AsAppError(err).Code)
	require.Len(t, jobs.jobs, 1)
	for _, job := range jobs.jobs {
		assert.Equal(t, entity.JobStatusFailed, job.Status)
	}
}

func TestProcess_StoresAcceptedOutcome(t *testing.T) {
	jobs := newMemoryJobs()
	svc := NewService(jobs, &recordingPublisher{}, runnerFunc(func(_ context.Context, req *entity.GenerationRequest) *wfmodel.WorkflowOutcome {
		assert.Equal(t, "Luna", req.Characters[0].Name)
		return acceptedOutcome()
	}))
	job, _, err := svc.Submit(context.Background(), newRequest(), "")
	require.NoError(t, err)

	require.NoError(t, svc.Process(context.Background(), job.ID))

	done, err := svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusCompleted, done.Status)
	assert.Equal(t, "accepted", done.OutcomeStatus)
	assert.Equal(t, 8.2, done.QualityScore)
	assert.Equal(t, 2, done.AttemptsMade)
	assert.Equal(t, 400, done.TokensCompletion)
	assert.NotNil(t, done.CompletedAt)

	var outcome wfmodel.WorkflowOutcome
	require.NoError(t, json.Unmarshal(done.OutputResult, &outcome))
	assert.Equal(t, "The Moon Boat", outcome.Accepted.Title)
}

func TestProcess_RejectedAndFailedOutcomesFailTheJob(t *testing.T) {
	outcomes := map[string]*wfmodel.WorkflowOutcome{
		"rejected": {Status: wfmodel.OutcomeRejected, Rejected: &wfmodel.RejectedOutcome{Reasons: []string{"too scary"}, Code: wfmodel.ValidationPolicyViolation}},
		"failed":   {Status: wfmodel.OutcomeFailed, Failed: &wfmodel.FailedOutcome{Error: "story generation failed after 3 rounds", Code: "4001"}},
	}
	for name, outcome := range outcomes {
		t.Run(name, func(t *testing.T) {
			jobs := newMemoryJobs()
			svc := NewService(jobs, &recordingPublisher{}, runnerFunc(func(context.Context, *entity.GenerationRequest) *wfmodel.WorkflowOutcome {
				return outcome
			}))
			job, _, err := svc.Submit(context.Background(), newRequest(), "")
			require.NoError(t, err)
			require.NoError(t, svc.Process(context.Background(), job.ID))

			done, _ := svc.Get(context.Background(), job.ID)
			assert.Equal(t, entity.JobStatusFailed, done.Status)
			assert.Equal(t, name, done.OutcomeStatus)
			assert.NotEmpty(t, done.ErrorMessage)
			assert.NotEmpty(t, done.OutputResult)
		})
	}
}

func TestProcess_SkipsCancelledAndUnknownJobs(t *testing.T) {
	jobs := newMemoryJobs()
	calls := 0
	svc := NewService(jobs, &recordingPublisher{}, runnerFunc(func(context.Context, *entity.GenerationRequest) *wfmodel.WorkflowOutcome {
		calls++
		return acceptedOutcome()
	}))
	job, _, err := svc.Submit(context.Background(), newRequest(), "")
	require.NoError(t, err)
	_, err = svc.Cancel(context.Background(), job.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Process(context.Background(), job.ID))
	require.NoError(t, svc.Process(context.Background(), "missing"))
	assert.Zero(t, calls)
}

func TestProcess_CancellationStopsRunningWorkflow(t *testing.T) {
	old := cancelPollInterval
	cancelPollInterval = 5 * time.Millisecond
	defer func() { cancelPollInterval = old }()

	jobs := newMemoryJobs()
	started := make(chan struct{})
	svc := NewService(jobs, &recordingPublisher{}, runnerFunc(func(ctx context.Context, _ *entity.GenerationRequest) *wfmodel.WorkflowOutcome {
		close(started)
		<-ctx.Done()
		return &wfmodel.WorkflowOutcome{Status: wfmodel.OutcomeFailed, Failed: &wfmodel.FailedOutcome{Error: "request cancelled", Code: "1009", Cancelled: true}}
	}))
	job, _, err := svc.Submit(context.Background(), newRequest(), "")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Process(context.Background(), job.ID) }()
	<-started
	_, err = svc.Cancel(context.Background(), job.ID)
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("workflow was not stopped after cancellation")
	}

	final, _ := svc.Get(context.Background(), job.ID)
	assert.Equal(t, entity.JobStatusCancelled, final.Status)
	assert.Equal(t, "failed", final.OutcomeStatus)
}

func TestCancel(t *testing.T) {
	jobs := newMemoryJobs()
	svc := NewService(jobs, &recordingPublisher{}, runnerFunc(func(context.Context, *entity.GenerationRequest) *wfmodel.WorkflowOutcome {
		return acceptedOutcome()
	}))

	_, err := svc.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrJobNotFound)

	job, _, _ := svc.Submit(context.Background(), newRequest(), "")
	cancelled, err := svc.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusCancelled, cancelled.Status)

	_, err = svc.Cancel(context.Background(), job.ID)
	assert.NoError(t, err, "cancel is idempotent")

	finished, _, _ := svc.Submit(context.Background(), newRequest(), "")
	require.NoError(t, svc.Process(context.Background(), finished.ID))
	_, err = svc.Cancel(context.Background(), finished.ID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestHandleMessage_BadPayloadIsDropped(t *testing.T) {
	svc := NewService(newMemoryJobs(), &recordingPublisher{}, runnerFunc(nil))
	err := svc.HandleMessage(context.Background(), &messaging.Message{ID: "x", Type: messaging.MessageTypeStoryGen, Payload: json.RawMessage(`"nope"`)})
	assert.NoError(t, err)
}

type countingTx struct {
	calls int
	err   error
}

func (c *countingTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	c.calls++
	if c.err != nil {
		return c.err
	}
	return fn(ctx)
}

func fastRecordRetries(t *testing.T) {
	t.Helper()
	old := recordBackOff
	recordBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	t.Cleanup(func() { recordBackOff = old })
}

func TestProcess_RecordsInsideTransaction(t *testing.T) {
	fastRecordRetries(t)
	jobs := newMemoryJobs()
	tx := &countingTx{}
	svc := NewService(jobs, &recordingPublisher{}, runnerFunc(func(context.Context, *entity.GenerationRequest) *wfmodel.WorkflowOutcome {
		return acceptedOutcome()
	})).WithTransactor(tx)
	job, _, err := svc.Submit(context.Background(), newRequest(), "")
	require.NoError(t, err)

	require.NoError(t, svc.Process(context.Background(), job.ID))
	assert.Equal(t, 1, tx.calls)

	tx.err = errors.New("serialization failure")
	job2, _, err := svc.Submit(context.Background(), newRequest(), "")
	require.NoError(t, err)
	assert.EqualError(t, svc.Process(context.Background(), job2.ID), "serialization failure")
	assert.Equal(t, 1+recordMaxTries, tx.calls)
}

// flakyJobs 前 failUpdates 次 Update 返回错误
type flakyJobs struct {
	*memoryJobs
	failUpdates int
}

func (f *flakyJobs) Update(ctx context.Context, job *entity.GenerationJob) error {
	f.mu.Lock()
	fail := f.failUpdates > 0
	if fail {
		f.failUpdates--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return f.memoryJobs.Update(ctx, job)
}

func TestProcess_RetriesTransientRecordFailure(t *testing.T) {
	fastRecordRetries(t)
	jobs := &flakyJobs{memoryJobs: newMemoryJobs(), failUpdates: 1}
	svc := NewService(jobs, &recordingPublisher{}, runnerFunc(func(context.Context, *entity.GenerationRequest) *wfmodel.WorkflowOutcome {
		return acceptedOutcome()
	}))
	job, _, err := svc.Submit(context.Background(), newRequest(), "")
	require.NoError(t, err)

	require.NoError(t, svc.Process(context.Background(), job.ID))
	done, _ := svc.Get(context.Background(), job.ID)
	assert.Equal(t, entity.JobStatusCompleted, done.Status)
	assert.NotEmpty(t, done.OutputResult)
}

func TestProcess_RedeliveryResumesJobLeftRunning(t *testing.T) {
	fastRecordRetries(t)
	jobs := &flakyJobs{memoryJobs: newMemoryJobs()}
	runs := 0
	svc := NewService(jobs, &recordingPublisher{}, runnerFunc(func(context.Context, *entity.GenerationRequest) *wfmodel.WorkflowOutcome {
		runs++
		return acceptedOutcome()
	}))
	job, _, err := svc.Submit(context.Background(), newRequest(), "")
	require.NoError(t, err)

	jobs.failUpdates = recordMaxTries
	assert.EqualError(t, svc.Process(context.Background(), job.ID), "connection reset")
	stuck, _ := svc.Get(context.Background(), job.ID)
	assert.Equal(t, entity.JobStatusRunning, stuck.Status)

	require.NoError(t, svc.Process(context.Background(), job.ID))
	done, _ := svc.Get(context.Background(), job.ID)
	assert.Equal(t, entity.JobStatusCompleted, done.Status)
	assert.Equal(t, "accepted", done.OutcomeStatus)
	assert.NotEmpty(t, done.OutputResult)
	assert.Equal(t, 2, runs)
}

func TestProcess_ShutdownLeavesJobForRedelivery(t *testing.T) {
	jobs := newMemoryJobs()
	ctx, cancel := context.WithCancel(context.Background())
	svc := NewService(jobs, &recordingPublisher{}, runnerFunc(func(context.Context, *entity.GenerationRequest) *wfmodel.WorkflowOutcome {
		cancel()
		return &wfmodel.WorkflowOutcome{Status: wfmodel.OutcomeFailed, Failed: &wfmodel.FailedOutcome{Error: "request cancelled", Code: "1009", Cancelled: true}}
	}))
	job, _, err := svc.Submit(context.Background(), newRequest(), "")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Process(ctx, job.ID), context.Canceled)
	left, _ := svc.Get(context.Background(), job.ID)
	assert.Equal(t, entity.JobStatusRunning, left.Status)
	assert.Empty(t, left.OutputResult)
}
