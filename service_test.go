package outreach

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/sentbridge/outreach/model"
	"github.com/sentbridge/outreach/service/browser"
	"github.com/sentbridge/outreach/service/dispatch"
)

type stubRunner struct {
	mu    sync.Mutex
	calls int
}

func (s *stubRunner) RunFlow(_ context.Context, _ *browser.JobSpec) (*browser.Outcome, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return &browser.Outcome{Kind: browser.OutcomeSuccess}, nil
}

type stubAdapter struct {
	mu    sync.Mutex
	sends []string
}

func (s *stubAdapter) Send(_ context.Context, _, content, _ string) (*dispatch.SendResult, error) {
	s.mu.Lock()
	s.sends = append(s.sends, content)
	s.mu.Unlock()
	return &dispatch.SendResult{Status: dispatch.SendStatusSent, ProviderMessageID: "msg-1"}, nil
}

func (s *stubAdapter) Delivered(context.Context, string) (bool, error) { return false, nil }

func testConfig() *Config {
	config := &Config{}
	config.Pool.Workers = 2
	config.Pool.JobTimeoutSec = 5
	config.Pool.PollIntervalMs = 10
	config.Pool.RetentionHours = 1
	config.Dispatch.PollIntervalMs = 10
	config.Dispatch.MaxSendAttempts = 3
	config.Retry.MaxAttempts = 3
	config.Retry.BaseDelayMs = 1
	config.Retry.MaxDelaySec = 1
	return config
}

func TestNewRequiresRunner(t *testing.T) {
	_, err := New(WithConfig(testConfig()), WithMetricsRegistry(prometheus.NewRegistry()))
	assert.Error(t, err)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	config := testConfig()
	config.Pool.Workers = 0
	_, err := New(WithConfig(config), WithRunner(&stubRunner{}), WithMetricsRegistry(prometheus.NewRegistry()))
	assert.Error(t, err)
}

func TestApprovalDispatchEndToEnd(t *testing.T) {
	ctx := context.Background()
	adapter := &stubAdapter{}
	svc, err := New(
		WithConfig(testConfig()),
		WithRunner(&stubRunner{}),
		WithAdapter("email", adapter),
		WithMetricsRegistry(prometheus.NewRegistry()),
	)
	assert.NoError(t, err)
	rt := svc.Runtime()

	a := &model.Approval{
		LeadID:      "lead-1",
		Channel:     "email",
		Content:     "Hello from the pipeline",
		Destination: "lead@example.com",
	}
	assert.NoError(t, rt.Approvals().Create(ctx, a))

	// pending drafts never dispatch
	n, err := rt.Dispatcher().PollOnce(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, adapter.sends)

	assert.NoError(t, rt.Approvals().Approve(ctx, a.ID, "alice"))
	n, err = rt.Dispatcher().PollOnce(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"Hello from the pipeline"}, adapter.sends)

	stored, err := rt.Approvals().Get(ctx, a.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.ApprovalSent, stored.Status)

	violations, err := rt.Audit(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, violations)
}

func TestDNCBlocksDispatch(t *testing.T) {
	ctx := context.Background()
	adapter := &stubAdapter{}
	svc, err := New(
		WithConfig(testConfig()),
		WithRunner(&stubRunner{}),
		WithAdapter("email", adapter),
		WithMetricsRegistry(prometheus.NewRegistry()),
	)
	assert.NoError(t, err)
	rt := svc.Runtime()

	assert.NoError(t, rt.DoNotContact().Append(ctx, &model.DNCEntry{
		ID:          "dnc-1",
		Destination: "optout@example.com",
	}))

	a := &model.Approval{Channel: "email", Content: "nope", Destination: "optout@example.com"}
	assert.NoError(t, rt.Approvals().Create(ctx, a))
	assert.NoError(t, rt.Approvals().Approve(ctx, a.ID, "alice"))

	_, err = rt.Dispatcher().PollOnce(ctx)
	assert.NoError(t, err)
	assert.Empty(t, adapter.sends)

	stored, err := rt.Approvals().Get(ctx, a.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.ApprovalFailed, stored.Status)
}

func TestRuntimeStartShutdown(t *testing.T) {
	ctx := context.Background()
	runner := &stubRunner{}
	svc, err := New(
		WithConfig(testConfig()),
		WithRunner(runner),
		WithMetricsRegistry(prometheus.NewRegistry()),
	)
	assert.NoError(t, err)
	rt := svc.Runtime()

	job := &model.Job{Type: "extract_profile", Target: "https://example.com/in/lead"}
	assert.NoError(t, rt.SubmitJob(ctx, job))

	assert.NoError(t, rt.Start(ctx))
	assert.Eventually(t, func() bool {
		stored, err := rt.Jobs().Get(ctx, job.ID)
		return err == nil && stored.State == model.JobSucceeded
	}, 5*time.Second, 10*time.Millisecond)
	assert.NoError(t, rt.Shutdown(ctx))
}

func TestFilesystemBackedStores(t *testing.T) {
	ctx := context.Background()
	config := testConfig()
	config.Store.BaseURL = t.TempDir()

	svc, err := New(
		WithConfig(config),
		WithRunner(&stubRunner{}),
		WithAdapter("email", &stubAdapter{}),
		WithMetricsRegistry(prometheus.NewRegistry()),
	)
	assert.NoError(t, err)
	rt := svc.Runtime()

	a := &model.Approval{Channel: "email", Content: "persisted", Destination: "x@example.com"}
	assert.NoError(t, rt.Approvals().Create(ctx, a))
	assert.NoError(t, rt.Approvals().Approve(ctx, a.ID, "alice"))

	// a second engine over the same directory sees the same state
	again, err := New(
		WithConfig(config),
		WithRunner(&stubRunner{}),
		WithMetricsRegistry(prometheus.NewRegistry()),
	)
	assert.NoError(t, err)

	stored, err := again.Runtime().Approvals().Get(ctx, a.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, stored.Status)
}
