package metrics

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teamoflifebox/erp-analytics/pkg/logger"
	"github.com/teamoflifebox/erp-analytics/pkg/telemetry"
)

// DefaultRecentCapacity bounds the recent-updates window.
const DefaultRecentCapacity = 10

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSnapshot replaces the seeded baseline snapshot.
func WithSnapshot(s Snapshot) StoreOption {
	return func(store *Store) {
		store.snapshot = s.clone()
	}
}

// WithRecentCapacity overrides the recent-updates window capacity.
func WithRecentCapacity(n int) StoreOption {
	return func(store *Store) {
		if n > 0 {
			store.capacity = n
		}
	}
}

// WithClock injects the time source used for assigned timestamps and the
// current-month billing fallback.
func WithClock(clock func() time.Time) StoreOption {
	return func(store *Store) {
		store.clock = clock
	}
}

// WithIDGenerator injects the generator used when an update arrives
// without a feed-assigned id.
func WithIDGenerator(gen func() string) StoreOption {
	return func(store *Store) {
		store.newID = gen
	}
}

// WithLogger sets the store logger.
func WithLogger(log logger.Logger) StoreOption {
	return func(store *Store) {
		store.log = logger.OrNop(log)
	}
}

// WithTelemetry wires prometheus counters.
func WithTelemetry(tel *telemetry.Metrics) StoreOption {
	return func(store *Store) {
		store.tel = tel
	}
}

type seqKey struct {
	typ        Type
	name       string
	department string
}

// Store is the session-scoped single source of truth for current metric
// values, the recent-updates window, the audit log, and filter state.
// It is owned by one synchronization session at a time; all mutations are
// serialized behind one mutex.
type Store struct {
	mu       sync.Mutex
	snapshot Snapshot
	recent   []Update // most-recent-first, capped at capacity
	audit    []Update // oldest-first internally, exposed most-recent-first
	filters  Filters
	lastSeq  map[seqKey]uint64
	last     *Update

	capacity int
	clock    func() time.Time
	newID    func() string
	log      logger.Logger
	tel      *telemetry.Metrics
}

// NewStore creates a store seeded with DefaultSnapshot.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		snapshot: DefaultSnapshot(),
		capacity: DefaultRecentCapacity,
		lastSeq:  make(map[seqKey]uint64),
		clock:    time.Now,
		newID:    uuid.NewString,
		log:      logger.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply folds one update into the snapshot and appends it to the window
// and the audit log. Identity and timestamp are assigned when absent;
// callers should prefer feed-assigned values for idempotence. The
// canonical applied update is returned.
//
// Malformed updates are a caller contract violation: rejection happens at
// the normalization boundary, not here.
func (s *Store) Apply(u Update) Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = s.newID()
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = s.clock()
	}
	if u.Change == nil {
		u.Change = ComputeChange(u.Previous, u.New)
	}

	key := seqKey{typ: u.Type, name: u.Name, department: u.Department}
	switch {
	case s.isStale(key, u.Seq):
		// A newer commit was already folded in; keep the update in the
		// logs but leave the snapshot alone.
		s.tel.IncStaleIgnored()
		s.log.Debug("stale update skipped by reducer",
			"metric_type", u.Type, "metric_name", u.Name, "seq", u.Seq)
	default:
		if !s.reduce(u) {
			s.tel.IncSnapshotNoops()
		}
		if u.Seq > 0 {
			s.lastSeq[key] = u.Seq
		}
	}

	s.recent = append(s.recent, Update{})
	copy(s.recent[1:], s.recent)
	s.recent[0] = u
	if len(s.recent) > s.capacity {
		s.recent = s.recent[:s.capacity]
	}

	s.audit = append(s.audit, u)
	s.last = &u
	s.tel.IncUpdatesApplied()

	return u
}

func (s *Store) isStale(key seqKey, seq uint64) bool {
	if seq == 0 {
		return false
	}
	return seq < s.lastSeq[key]
}

// reduce merges one update into the snapshot branch its (Type, Name)
// combination addresses. It returns false when no snapshot field was
// touched, which is the forward-compatible no-op path, not an error.
func (s *Store) reduce(u Update) bool {
	switch u.Type {
	case TypeEnrollment:
		switch u.Name {
		case MetricTotalStudents:
			s.snapshot.TotalStudents = u.New
			return true
		case MetricTotalFaculty:
			s.snapshot.TotalFaculty = u.New
			return true
		}

	case TypeFees:
		if u.Name != MetricMonthlyBilling {
			break
		}
		s.snapshot.MonthlyBilling = u.New

		label := u.Period
		if label == "" {
			label = s.clock().Format("Jan")
		}
		for i := range s.snapshot.BillingSeries {
			if s.snapshot.BillingSeries[i].Month == label {
				s.snapshot.BillingSeries[i].Amount = u.New
				break
			}
		}
		return true

	case TypeAttendance:
		if u.Department == "" {
			break
		}
		for i := range s.snapshot.Attendance {
			if s.snapshot.Attendance[i].Department == u.Department {
				return s.snapshot.Attendance[i].setYear(u.Name, u.New)
			}
		}
	}

	return false
}

// SetFilter replaces one filter selection. It triggers no recomputation
// and never touches the snapshot or the logs.
func (s *Store) SetFilter(kind FilterKind, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case FilterLogin:
		s.filters.Login = value
	case FilterBilling:
		s.filters.Billing = value
	case FilterAttendance:
		s.filters.Attendance = value
	default:
		s.log.Warn("unknown filter kind ignored", "kind", kind)
	}
}

// ClearRecent empties the bounded window only; the audit log records what
// happened, the window records what is new, and clearing one must not
// clear the other.
func (s *Store) ClearRecent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = nil
}

// SetAuditLog bulk-replaces the audit log with hydration results, given
// most-recent-first. Incremental appends go through Apply, never here.
func (s *Store) SetAuditLog(updates []Update) {
	reversed := make([]Update, len(updates))
	for i, u := range updates {
		reversed[len(updates)-1-i] = u
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = reversed
}

// Snapshot returns a copy of the current metric projection.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.clone()
}

// Recent returns the bounded window, most recent first.
func (s *Store) Recent() []Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Update(nil), s.recent...)
}

// Audit returns the full audit log, most recent first.
func (s *Store) Audit() []Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Update, len(s.audit))
	for i, u := range s.audit {
		out[len(s.audit)-1-i] = u
	}
	return out
}

// Filters returns the active filter selections.
func (s *Store) Filters() Filters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters
}

// LastUpdate returns the most recently applied update, if any.
func (s *Store) LastUpdate() (Update, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last == nil {
		return Update{}, false
	}
	return *s.last, true
}
