package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sentbridge/outreach/internal/clock"
	"github.com/sentbridge/outreach/model"
	"github.com/sentbridge/outreach/policy"
	"github.com/sentbridge/outreach/service/approval"
	"github.com/sentbridge/outreach/service/handoff"
	"github.com/sentbridge/outreach/service/jobs"
	"github.com/sentbridge/outreach/service/ledger"
	"github.com/sentbridge/outreach/service/retry"
	"github.com/sentbridge/outreach/service/store/memory"
)

// scriptedAdapter replays canned results and records every send.
type scriptedAdapter struct {
	mu        sync.Mutex
	results   []*SendResult
	errs      []error
	calls     int
	keys      []string
	contents  []string
	delivered map[string]bool
}

func (a *scriptedAdapter) Send(_ context.Context, _, content, idempotencyKey string) (*SendResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.calls
	a.calls++
	a.keys = append(a.keys, idempotencyKey)
	a.contents = append(a.contents, content)
	if i < len(a.errs) && a.errs[i] != nil {
		return nil, a.errs[i]
	}
	if i < len(a.results) {
		return a.results[i], nil
	}
	return &SendResult{Status: SendStatusSent, ProviderMessageID: "msg-default"}, nil
}

func (a *scriptedAdapter) Delivered(_ context.Context, idempotencyKey string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.delivered[idempotencyKey], nil
}

func (a *scriptedAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type fixture struct {
	approvals   *approval.Service
	coordinator *handoff.Coordinator
	ledger      *ledger.Service
	dnc         *memory.Set[model.DNCEntry]
	dispatcher  *Dispatcher
	adapter     *scriptedAdapter
}

func newFixture(t *testing.T, adapter *scriptedAdapter, gateConfig *policy.Config) *fixture {
	t.Helper()
	auditLedger := ledger.New(memory.New[model.Event]())
	approvals := approval.New(memory.New[model.Approval](), auditLedger)
	queue := jobs.NewQueue(memory.New[model.Job](), auditLedger)
	coordinator := handoff.New(memory.New[model.Handoff](), queue, nil, auditLedger)
	dnc := memory.New[model.DNCEntry]()

	var gate *policy.Gate
	if gateConfig != nil {
		gate = policy.NewGate(gateConfig, dnc)
	} else {
		gate = policy.NewGate(nil, dnc)
	}

	retryPolicy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	d, err := New(Config{PollInterval: 10 * time.Millisecond, MaxSendAttempts: 3},
		approvals, coordinator, gate, retryPolicy, nil)
	assert.NoError(t, err)
	d.Register("email", adapter)

	return &fixture{
		approvals:   approvals,
		coordinator: coordinator,
		ledger:      auditLedger,
		dnc:         dnc,
		dispatcher:  d,
		adapter:     adapter,
	}
}

func (f *fixture) approved(t *testing.T, channel string) *model.Approval {
	t.Helper()
	ctx := context.Background()
	a := &model.Approval{
		LeadID:      "lead-1",
		Channel:     channel,
		ActionType:  "first_touch",
		Content:     "Hello there",
		Destination: "lead@example.com",
	}
	assert.NoError(t, f.approvals.Create(ctx, a))
	assert.NoError(t, f.approvals.Approve(ctx, a.ID, "alice"))
	return a
}

func TestPollOnceDispatchesApprovedOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedAdapter{}, nil)

	pending := &model.Approval{Channel: "email", Content: "draft", Destination: "x@example.com"}
	assert.NoError(t, f.approvals.Create(ctx, pending))
	approved := f.approved(t, "email")

	n, err := f.dispatcher.PollOnce(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.adapter.callCount())
	assert.Equal(t, "Hello there", f.adapter.contents[0])
	assert.Equal(t, approved.IdempotencyKey(), f.adapter.keys[0])

	sent, err := f.approvals.Get(ctx, approved.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.ApprovalSent, sent.Status)

	still, err := f.approvals.Get(ctx, pending.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.ApprovalPending, still.Status)

	// nothing left to dispatch; the sent record is never re-sent
	n, err = f.dispatcher.PollOnce(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, f.adapter.callCount())

	violations, err := f.ledger.UnauthorizedSends(ctx)
	assert.NoError(t, err)
	assert.Empty(t, violations)
}

func TestDispatchFailedResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedAdapter{
		results: []*SendResult{{Status: SendStatusFailed, Reason: "mailbox full"}},
	}, nil)
	a := f.approved(t, "email")

	n, err := f.dispatcher.PollOnce(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.approvals.Get(ctx, a.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.ApprovalFailed, stored.Status)
	assert.Equal(t, "mailbox full", stored.Notes)
}

func TestDispatchNoAdapterFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedAdapter{}, nil)
	a := f.approved(t, "telegram") // no adapter registered for this channel

	_, err := f.dispatcher.PollOnce(ctx)
	assert.NoError(t, err)

	stored, err := f.approvals.Get(ctx, a.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.ApprovalFailed, stored.Status)
	assert.Equal(t, 0, f.adapter.callCount())
}

func TestDispatchGateReleasesAndBlocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedAdapter{
		results: []*SendResult{{Status: SendStatusBlockedGate, Reason: "unexpected login wall"}},
	}, nil)
	a := f.approved(t, "email")

	n, err := f.dispatcher.PollOnce(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	// the claim was released, not failed: approval stays approved
	stored, err := f.approvals.Get(ctx, a.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, stored.Status)

	blocked, err := f.coordinator.Blocked(ctx, model.EntityApproval, a.ID)
	assert.NoError(t, err)
	assert.True(t, blocked)

	// while the handoff is open the record is never blind-retried
	n, err = f.dispatcher.PollOnce(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, f.adapter.callCount())

	// human resolution makes it eligible again
	assert.NoError(t, f.coordinator.ResolveApproval(ctx, a.ID, "operator"))
	n, err = f.dispatcher.PollOnce(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err = f.approvals.Get(ctx, a.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.ApprovalSent, stored.Status)
}

func TestDispatchRateLimitRetriesWithinClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedAdapter{
		results: []*SendResult{
			{Status: SendStatusRateLimited, RetryAfter: time.Millisecond},
			{Status: SendStatusRateLimited, RetryAfter: time.Millisecond},
			{Status: SendStatusSent, ProviderMessageID: "msg-3"},
		},
	}, nil)
	a := f.approved(t, "email")

	n, err := f.dispatcher.PollOnce(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, f.adapter.callCount())

	stored, err := f.approvals.Get(ctx, a.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.ApprovalSent, stored.Status)
}

func TestDispatchTransportErrorConsultsDeliveryLog(t *testing.T) {
	ctx := context.Background()
	a1Adapter := &scriptedAdapter{
		errs:      []error{errors.New("connection reset mid-response")},
		delivered: map[string]bool{},
	}
	f := newFixture(t, a1Adapter, nil)
	a := f.approved(t, "email")

	// the provider actually delivered despite the lost response
	a1Adapter.delivered[a.IdempotencyKey()] = true

	n, err := f.dispatcher.PollOnce(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	// exactly one send attempt; the delivery log prevented a duplicate
	assert.Equal(t, 1, f.adapter.callCount())

	stored, err := f.approvals.Get(ctx, a.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.ApprovalSent, stored.Status)
}

func TestDispatchTransportErrorExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedAdapter{
		errs: []error{
			errors.New("timeout"),
			errors.New("timeout"),
			errors.New("timeout"),
		},
		delivered: map[string]bool{},
	}, nil)
	a := f.approved(t, "email")

	n, err := f.dispatcher.PollOnce(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, f.adapter.callCount())

	stored, err := f.approvals.Get(ctx, a.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.ApprovalFailed, stored.Status)
}

func TestDispatchPolicyGateRefusal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedAdapter{}, nil)
	a := f.approved(t, "email")

	assert.NoError(t, f.dnc.Append(ctx, &model.DNCEntry{
		ID:          "dnc-1",
		Destination: "lead@example.com",
	}))

	n, err := f.dispatcher.PollOnce(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, f.adapter.callCount())

	stored, err := f.approvals.Get(ctx, a.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.ApprovalFailed, stored.Status)
	assert.Contains(t, stored.Notes, "do-not-contact")
}

func TestDispatchChannelBlockedByPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedAdapter{}, &policy.Config{BlockChannels: []string{"email"}})
	a := f.approved(t, "email")

	_, err := f.dispatcher.PollOnce(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, f.adapter.callCount())

	stored, err := f.approvals.Get(ctx, a.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.ApprovalFailed, stored.Status)
}

func TestAbandonedClaimRecovered(t *testing.T) {
	base := time.Now()
	clock.NowFunc = func() time.Time { return base }
	defer func() { clock.NowFunc = time.Now }()

	ctx := context.Background()
	f := newFixture(t, &scriptedAdapter{}, nil)
	a := f.approved(t, "email")

	// a dispatcher that crashed between claim and settle leaves the record
	// on the transient marker, which no status listing covers
	_, err := f.approvals.BeginDispatch(ctx, a.ID)
	assert.NoError(t, err)

	n, err := f.dispatcher.PollOnce(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	// once the claim timeout elapses the poll sweeps the record back and
	// dispatches it in the same pass
	clock.NowFunc = func() time.Time { return base.Add(2 * time.Minute) }
	n, err = f.dispatcher.PollOnce(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.approvals.Get(ctx, a.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.ApprovalSent, stored.Status)
	assert.Equal(t, 1, f.adapter.callCount())

	violations, err := f.ledger.UnauthorizedSends(ctx)
	assert.NoError(t, err)
	assert.Empty(t, violations)
}

func TestConcurrentPollsSendOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedAdapter{}, nil)
	f.approved(t, "email")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.dispatcher.PollOnce(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// five racing polls, one claim winner, one send
	assert.Equal(t, 1, f.adapter.callCount())

	violations, err := f.ledger.UnauthorizedSends(ctx)
	assert.NoError(t, err)
	assert.Empty(t, violations)
}

func TestStartShutdown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedAdapter{}, nil)
	a := f.approved(t, "email")

	f.dispatcher.Start(ctx)
	assert.Eventually(t, func() bool {
		stored, err := f.approvals.Get(ctx, a.ID)
		return err == nil && stored.Status == model.ApprovalSent
	}, 2*time.Second, 10*time.Millisecond)
	f.dispatcher.Shutdown()
}
