// Package monitor tracks per-tenant usage against tiered threshold policies.
//
// A Monitor owns all tenant state. Every mutation for a tenant is serialized
// by that tenant's mutex; different tenants proceed in parallel. Alerts fire
// on the upward crossing of a tier only, and crossing the top tier of a policy
// with AutoRestrict set puts the tenant into restrictive mode in the same call.
package monitor

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/econeura/usage-guardian/pkg/clock"
	"github.com/econeura/usage-guardian/pkg/metrics"
	"github.com/econeura/usage-guardian/pkg/model"
)

const (
	DefaultAlertRetention = 7 * 24 * time.Hour
	DefaultSweepInterval  = time.Minute
	DefaultPruneInterval  = time.Hour
	DefaultHistoryLimit   = 90
)

// AlertSink receives alerts as they are emitted. Enqueue is called with the
// tenant lock held and must not block.
type AlertSink interface {
	Enqueue(alert model.Alert)
}

// SinkFunc adapts a function to AlertSink.
type SinkFunc func(alert model.Alert)

func (f SinkFunc) Enqueue(alert model.Alert) { f(alert) }

// Option configures a Monitor.
type Option func(*Monitor) error

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) error {
		m.clock = c
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) error {
		m.logger = l
		return nil
	}
}

// WithDefaultPolicy sets the policy used by tenants that never set their own.
// Without it such tenants report the no_policy sentinel.
func WithDefaultPolicy(p model.ThresholdPolicy) Option {
	return func(m *Monitor) error {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("default policy: %w", err)
		}
		pol := p.WithDefaults()
		m.defaultPolicy = &pol
		return nil
	}
}

// WithSink sets where emitted alerts are delivered.
func WithSink(s AlertSink) Option {
	return func(m *Monitor) error {
		m.sink = s
		return nil
	}
}

// WithMetrics sets the prometheus collectors.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) error {
		m.metrics = mt
		return nil
	}
}

// WithAlertRetention sets how long alerts are kept before PruneAlerts drops them.
func WithAlertRetention(d time.Duration) Option {
	return func(m *Monitor) error {
		if d <= 0 {
			return fmt.Errorf("alert retention must be positive, got %s", d)
		}
		m.retention = d
		return nil
	}
}

// WithSweepInterval sets how often Start runs the rollover sweep.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Monitor) error {
		if d <= 0 {
			return fmt.Errorf("sweep interval must be positive, got %s", d)
		}
		m.sweepInterval = d
		return nil
	}
}

// WithPruneInterval sets how often Start runs alert pruning.
func WithPruneInterval(d time.Duration) Option {
	return func(m *Monitor) error {
		if d <= 0 {
			return fmt.Errorf("prune interval must be positive, got %s", d)
		}
		m.pruneInterval = d
		return nil
	}
}

// WithHistoryLimit caps the number of closed windows kept per tenant.
func WithHistoryLimit(n int) Option {
	return func(m *Monitor) error {
		if n < 0 {
			return fmt.Errorf("history limit must be >= 0, got %d", n)
		}
		m.historyLimit = n
		return nil
	}
}

// Monitor is the usage threshold monitor.
type Monitor struct {
	clock         clock.Clock
	logger        *slog.Logger
	sink          AlertSink
	metrics       *metrics.Metrics
	defaultPolicy *model.ThresholdPolicy
	retention     time.Duration
	sweepInterval time.Duration
	pruneInterval time.Duration
	historyLimit  int

	mu      sync.RWMutex
	tenants map[string]*tenant

	lifecycle sync.Mutex
	cancel    func()
	wg        sync.WaitGroup
}

// tenant is the per-tenant record. state is guarded by mu; policy is swapped
// atomically so readers never see a half-written policy.
type tenant struct {
	id     string
	policy atomic.Pointer[model.ThresholdPolicy]

	mu    sync.Mutex
	state ledger
}

// ledger is the mutable state of one tenant. It is copied by value for reads.
type ledger struct {
	usage        model.UsageState
	restrict     model.RestrictiveState
	alerts       []model.Alert
	lastFraction float64
	history      []model.WindowPoint
}

// New creates a Monitor.
func New(opts ...Option) (*Monitor, error) {
	m := &Monitor{
		clock:         clock.System{},
		logger:        slog.Default(),
		retention:     DefaultAlertRetention,
		sweepInterval: DefaultSweepInterval,
		pruneInterval: DefaultPruneInterval,
		historyLimit:  DefaultHistoryLimit,
		tenants:       make(map[string]*tenant),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SetPolicy validates p and replaces the tenant's policy wholesale.
func (m *Monitor) SetPolicy(tenantID string, p model.ThresholdPolicy) (model.ThresholdPolicy, error) {
	if tenantID == "" {
		return model.ThresholdPolicy{}, model.ErrTenantRequired
	}
	if err := p.Validate(); err != nil {
		return model.ThresholdPolicy{}, err
	}

	pol := p.WithDefaults()
	t := m.getOrCreate(tenantID, &pol)

	t.mu.Lock()
	now := m.clock.Now()
	if prev := m.effectivePolicy(t); prev != nil {
		m.applyRoll(t, prev, now)
	}
	t.policy.Store(&pol)
	rebaseline(&t.state, &pol)
	t.mu.Unlock()

	m.logger.Info("policy updated",
		"tenant", tenantID,
		"hard_limit", pol.HardLimit,
		"limits", len(pol.Limits),
		"auto_restrict", pol.AutoRestrict,
	)
	return pol.Clone(), nil
}

// Policy returns the effective policy of a tenant: its own, or the default.
func (m *Monitor) Policy(tenantID string) (model.ThresholdPolicy, bool) {
	pol := m.effectivePolicy(m.lookup(tenantID))
	if pol == nil {
		return model.ThresholdPolicy{}, false
	}
	return pol.Clone(), true
}

// Tenants returns the ids of all known tenants in sorted order.
func (m *Monitor) Tenants() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.tenants))
	for id := range m.tenants {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

func (m *Monitor) lookup(tenantID string) *tenant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tenants[tenantID]
}

// getOrCreate returns the tenant, creating it with period anchors derived from pol.
func (m *Monitor) getOrCreate(tenantID string, pol *model.ThresholdPolicy) *tenant {
	if t := m.lookup(tenantID); t != nil {
		return t
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tenants[tenantID]; ok {
		return t
	}

	now := m.clock.Now()
	t := &tenant{id: tenantID}
	t.state.usage = model.UsageState{
		TenantID:    tenantID,
		PeriodStart: model.PeriodStart(pol.Period, now),
		WindowStart: model.PeriodStart(pol.Window, now),
		UpdatedAt:   now,
	}
	m.tenants[tenantID] = t
	return t
}

func (m *Monitor) effectivePolicy(t *tenant) *model.ThresholdPolicy {
	if t != nil {
		if p := t.policy.Load(); p != nil {
			return p
		}
	}
	return m.defaultPolicy
}

// snapshotTenants returns the current tenant records without holding the registry lock.
func (m *Monitor) snapshotTenants() []*tenant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, t)
	}
	return out
}
