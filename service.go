package outreach

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sentbridge/outreach/model"
	"github.com/sentbridge/outreach/policy"
	"github.com/sentbridge/outreach/service/approval"
	"github.com/sentbridge/outreach/service/browser"
	"github.com/sentbridge/outreach/service/dispatch"
	"github.com/sentbridge/outreach/service/handoff"
	"github.com/sentbridge/outreach/service/jobs"
	"github.com/sentbridge/outreach/service/ledger"
	"github.com/sentbridge/outreach/service/metrics"
	"github.com/sentbridge/outreach/service/notify"
	"github.com/sentbridge/outreach/service/retry"
	"github.com/sentbridge/outreach/service/store"
	"github.com/sentbridge/outreach/service/store/fs"
	"github.com/sentbridge/outreach/service/store/memory"
)

// Service assembles the outreach engine from its parts: record sets, the
// event ledger, the approval service, the job queue with its worker pool, the
// handoff coordinator and the channel dispatcher.
type Service struct {
	config     *Config
	runtime    *Runtime
	runner     browser.Service
	notifier   notify.Notifier
	adapters   map[string]dispatch.ChannelAdapter
	gate       *policy.Gate
	registerer prometheus.Registerer
}

// New builds the engine. WithRunner is required; everything else has a
// default. Record sets are filesystem-backed when the configured store URL is
// non-empty and in-memory otherwise.
func New(options ...Option) (*Service, error) {
	s := &Service{
		runtime:  &Runtime{},
		adapters: map[string]dispatch.ChannelAdapter{},
	}
	for _, option := range options {
		option(s)
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

// Runtime returns the assembled runtime.
func (s *Service) Runtime() *Runtime {
	return s.runtime
}

func (s *Service) init() error {
	if s.runner == nil {
		return fmt.Errorf("browser runner is required (WithRunner)")
	}
	if s.config == nil {
		config, err := LoadConfig()
		if err != nil {
			return err
		}
		s.config = config
	} else if err := s.config.Validate(); err != nil {
		return err
	}

	baseURL := s.config.Store.BaseURL
	approvalSet, err := newSet[model.Approval](model.SetApprovals, baseURL)
	if err != nil {
		return err
	}
	jobSet, err := newSet[model.Job](model.SetJobs, baseURL)
	if err != nil {
		return err
	}
	eventSet, err := newSet[model.Event](model.SetEvents, baseURL)
	if err != nil {
		return err
	}
	handoffSet, err := newSet[model.Handoff](model.SetHandoffs, baseURL)
	if err != nil {
		return err
	}
	leadSet, err := newSet[model.Lead](model.SetLeads, baseURL)
	if err != nil {
		return err
	}
	contactSet, err := newSet[model.Contact](model.SetContacts, baseURL)
	if err != nil {
		return err
	}
	dncSet, err := newSet[model.DNCEntry](model.SetDNC, baseURL)
	if err != nil {
		return err
	}

	auditLedger := ledger.New(eventSet)
	collector := metrics.NewCollector(s.registerer)
	approvals := approval.New(approvalSet, auditLedger)
	queue := jobs.NewQueue(jobSet, auditLedger)
	coordinator := handoff.New(handoffSet, queue, s.notifier, auditLedger)

	retryPolicy := retry.Policy{
		MaxAttempts: s.config.Retry.MaxAttempts,
		BaseDelay:   s.config.BaseRetryDelay(),
		MaxDelay:    s.config.MaxRetryDelay(),
	}

	pool, err := jobs.NewPool(jobs.PoolConfig{
		Workers:      s.config.Pool.Workers,
		JobTimeout:   s.config.JobTimeout(),
		PollInterval: s.config.PoolPollInterval(),
		Retention:    s.config.Retention(),
	}, queue, s.runner, coordinator, retryPolicy, collector)
	if err != nil {
		return err
	}

	gate := s.gate
	if gate == nil {
		var gateConfig *policy.Config
		if s.config.Dispatch.PolicyPath != "" {
			gateConfig, err = policy.Load(s.config.Dispatch.PolicyPath)
			if err != nil {
				return err
			}
		}
		gate = policy.NewGate(gateConfig, dncSet)
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		PollInterval:    s.config.DispatchPollInterval(),
		MaxSendAttempts: s.config.Dispatch.MaxSendAttempts,
		ClaimTimeout:    s.config.ClaimTimeout(),
	}, approvals, coordinator, gate, retryPolicy, collector)
	if err != nil {
		return err
	}
	for channel, adapter := range s.adapters {
		dispatcher.Register(channel, adapter)
	}

	s.runtime.approvals = approvals
	s.runtime.queue = queue
	s.runtime.pool = pool
	s.runtime.coordinator = coordinator
	s.runtime.dispatcher = dispatcher
	s.runtime.ledger = auditLedger
	s.runtime.collector = collector
	s.runtime.leads = leadSet
	s.runtime.contacts = contactSet
	s.runtime.dnc = dncSet
	return nil
}

func newSet[T any](name, baseURL string) (store.Set[T], error) {
	if baseURL == "" {
		return memory.New[T](), nil
	}
	return fs.New[T](name, baseURL)
}
