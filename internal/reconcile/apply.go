package reconcile

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/homesync/internal/logging"
	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/dmitrijs2005/homesync/internal/tenant"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome tells what Apply did with an incoming version.
type Outcome string

const (
	// OutcomeCreated means the record did not exist and was stored.
	OutcomeCreated Outcome = "created"
	// OutcomeReplaced means the incoming version won and was stored.
	OutcomeReplaced Outcome = "replaced"
	// OutcomeKept means the stored version won or was already identical.
	OutcomeKept Outcome = "kept"
)

// ApplyResult carries the row as stored after Apply.
type ApplyResult struct {
	Outcome Outcome
	Record  models.Record
}

// Metrics counts apply outcomes.
type Metrics struct {
	Outcomes *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Outcomes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "homesync_reconcile_outcomes_total",
			Help: "Results of applying replicated record versions",
		}, []string{"kind", "outcome"}),
	}
}

// Reconciler applies replicated versions through the tenant guard.
type Reconciler struct {
	guard   *tenant.Guard
	log     logging.Logger
	metrics *Metrics
}

type Option func(*Reconciler)

func WithLogger(l logging.Logger) Option {
	return func(r *Reconciler) { r.log = l.With("module", "reconcile") }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

func New(guard *tenant.Guard, opts ...Option) *Reconciler {
	r := &Reconciler{guard: guard, log: logging.Nop{}}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Apply reconciles incoming against the stored row of the same key and
// writes the winner when it differs from what is stored. The stored
// CreatedAt is kept. incoming must carry a tenant inside scope, equal to
// the stored row's tenant.
func (r *Reconciler) Apply(ctx context.Context, scope models.Tenant, incoming models.Record) (ApplyResult, error) {
	if err := incoming.Validate(); err != nil {
		return ApplyResult{}, err
	}
	view, err := r.guard.For(scope)
	if err != nil {
		return ApplyResult{}, err
	}
	incoming = incoming.Normalized()

	outcome := OutcomeKept
	stored, err := view.Mutate(ctx, incoming.Kind, incoming.ID, func(cur *models.Record) (*models.Record, error) {
		if err := view.CheckWrite(cur, incoming); err != nil {
			return nil, err
		}
		if cur == nil {
			outcome = OutcomeCreated
			next := incoming
			return &next, nil
		}

		winner := Reconcile(*cur, incoming)
		winner.CreatedAt = cur.CreatedAt
		if Same(winner, *cur) {
			return nil, nil
		}
		outcome = OutcomeReplaced
		return &winner, nil
	})
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply %s: %w", incoming.Key(), err)
	}

	if r.metrics != nil {
		r.metrics.Outcomes.WithLabelValues(incoming.Kind, string(outcome)).Inc()
	}
	r.log.Debug(ctx, "record reconciled",
		"kind", incoming.Kind, "id", incoming.ID, "outcome", outcome, "seq", stored.Seq)

	return ApplyResult{Outcome: outcome, Record: stored}, nil
}
