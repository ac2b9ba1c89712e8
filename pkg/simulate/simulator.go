// Package simulate publishes synthetic metric updates through the normal
// outbound path, authored by the system identity. It drives demos and
// development environments where no real institutional activity exists.
package simulate

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/teamoflifebox/erp-analytics/pkg/logger"
	"github.com/teamoflifebox/erp-analytics/pkg/metrics"
)

// Publisher is the outbound surface the simulator drives. The Syncer
// satisfies it.
type Publisher interface {
	SendUpdate(ctx context.Context, u metrics.Update) (bool, error)
}

// MetricSpec describes one metric the simulator may touch and the range
// its values move in.
type MetricSpec struct {
	Type       metrics.Type
	Name       string
	Department string
	Min        float64
	Max        float64
}

// DefaultMetrics covers the dashboard's headline figures.
func DefaultMetrics() []MetricSpec {
	return []MetricSpec{
		{Type: metrics.TypeEnrollment, Name: metrics.MetricTotalStudents, Min: 2700, Max: 2950},
		{Type: metrics.TypeEnrollment, Name: metrics.MetricTotalFaculty, Min: 170, Max: 195},
		{Type: metrics.TypeFees, Name: metrics.MetricMonthlyBilling, Min: 1100000, Max: 1400000},
		{Type: metrics.TypeAttendance, Name: "year1", Department: "Computer Science", Min: 80, Max: 98},
		{Type: metrics.TypeAttendance, Name: "year2", Department: "AI & ML", Min: 80, Max: 98},
		{Type: metrics.TypeAttendance, Name: "year3", Department: "Electronics", Min: 80, Max: 98},
		{Type: metrics.TypeAttendance, Name: "year4", Department: "Mechanical", Min: 80, Max: 98},
	}
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithMetrics replaces the simulated metric set.
func WithMetrics(specs []MetricSpec) Option {
	return func(s *Simulator) { s.specs = specs }
}

// WithLogger sets the simulator logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Simulator) { s.log = logger.OrNop(log) }
}

// WithSeed makes value generation deterministic.
func WithSeed(seed int64) Option {
	return func(s *Simulator) {
		//nolint:gosec // simulation values are not security-sensitive
		s.rng = rand.New(rand.NewSource(seed))
	}
}

// Simulator periodically publishes one randomized update.
type Simulator struct {
	pub      Publisher
	interval time.Duration
	specs    []MetricSpec
	log      logger.Logger
	rng      *rand.Rand
	last     map[string]float64
}

// New creates a simulator publishing every interval.
func New(pub Publisher, interval time.Duration, opts ...Option) *Simulator {
	s := &Simulator{
		pub:      pub,
		interval: interval,
		specs:    DefaultMetrics(),
		log:      logger.Nop{},
		//nolint:gosec // simulation values are not security-sensitive
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		last: make(map[string]float64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run publishes until ctx ends.
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.Tick(ctx)
	}
}

// Tick publishes a single randomized update.
func (s *Simulator) Tick(ctx context.Context) {
	if len(s.specs) == 0 {
		return
	}
	spec := s.specs[s.rng.Intn(len(s.specs))]

	value := math.Round(spec.Min + s.rng.Float64()*(spec.Max-spec.Min))
	key := string(spec.Type) + "/" + spec.Name + "/" + spec.Department

	u := metrics.Update{
		AuthorID:   metrics.SystemAuthor,
		AuthorName: "System",
		AuthorRole: metrics.SystemAuthor,
		Type:       spec.Type,
		Name:       spec.Name,
		Department: spec.Department,
		New:        value,
	}
	if prev, ok := s.last[key]; ok {
		u.Previous = &prev
	}

	accepted, err := s.pub.SendUpdate(ctx, u)
	if err != nil {
		s.log.Warn("simulated update failed", "metric", key, "error", err)
		return
	}
	if !accepted {
		s.log.Warn("simulated update rejected", "metric", key)
		return
	}
	s.last[key] = value
}
