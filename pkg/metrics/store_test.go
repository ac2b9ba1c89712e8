package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func enrollmentUpdate(id string, value float64) Update {
	return Update{
		ID:   id,
		Type: TypeEnrollment,
		Name: MetricTotalStudents,
		New:  value,
	}
}

// TestRecentWindowEviction verifies that applying one update past the
// window capacity evicts silently while the audit log keeps everything.
func TestRecentWindowEviction(t *testing.T) {
	s := NewStore()

	for i := 1; i <= 11; i++ {
		s.Apply(enrollmentUpdate(fmt.Sprintf("u%d", i), float64(2800+i)))
	}

	recent := s.Recent()
	require.Len(t, recent, 10)
	assert.Equal(t, "u11", recent[0].ID, "window must be most-recent-first")
	assert.Equal(t, "u2", recent[9].ID, "oldest surviving entry must be the second update")

	audit := s.Audit()
	require.Len(t, audit, 11)
	assert.Equal(t, "u11", audit[0].ID)
	assert.Equal(t, "u1", audit[10].ID)
}

// TestUnknownMetricIsLogOnly verifies the forward-compatible no-op path:
// unrecognized combinations land in both logs without touching the
// snapshot.
func TestUnknownMetricIsLogOnly(t *testing.T) {
	s := NewStore()
	before := s.Snapshot()

	s.Apply(Update{ID: "u1", Type: TypeOther, Name: "libraryVisits", New: 420})

	assert.Equal(t, before, s.Snapshot())
	require.Len(t, s.Recent(), 1)
	require.Len(t, s.Audit(), 1)
	assert.Equal(t, "u1", s.Recent()[0].ID)
}

// TestPercentageChangeDerivation verifies that the change is a true
// percentage when the prior value is known, and absent, never zero,
// when it is not.
func TestPercentageChangeDerivation(t *testing.T) {
	s := NewStore()

	prev := 100.0
	applied := s.Apply(Update{Type: TypeEnrollment, Name: MetricTotalStudents, Previous: &prev, New: 120})
	require.NotNil(t, applied.Change)
	assert.InDelta(t, 20.0, *applied.Change, 1e-9)

	applied = s.Apply(Update{Type: TypeEnrollment, Name: MetricTotalStudents, New: 120})
	assert.Nil(t, applied.Change, "unknown prior value must yield an absent change, not zero")

	zero := 0.0
	applied = s.Apply(Update{Type: TypeEnrollment, Name: MetricTotalStudents, Previous: &zero, New: 120})
	assert.Nil(t, applied.Change, "a zero prior value leaves the change undefined")
}

// TestScalarLastWriteWins verifies that sequential scalar updates apply
// in arrival order regardless of their previous-value fields.
func TestScalarLastWriteWins(t *testing.T) {
	s := NewStore()

	s.Apply(enrollmentUpdate("u1", 2800))
	s.Apply(enrollmentUpdate("u2", 2850))

	assert.Equal(t, 2850.0, s.Snapshot().TotalStudents)
}

// TestAttendanceDepartmentScoping verifies that a scoped attendance
// update mutates exactly one cell of the attendance table.
func TestAttendanceDepartmentScoping(t *testing.T) {
	s := NewStore()
	before := s.Snapshot()

	s.Apply(Update{Type: TypeAttendance, Name: "year2", Department: "AI & ML", New: 97})

	after := s.Snapshot()
	require.Equal(t, len(before.Attendance), len(after.Attendance))
	for i, row := range after.Attendance {
		if row.Department == "AI & ML" {
			assert.Equal(t, 97.0, row.Year2)
			assert.Equal(t, before.Attendance[i].Year1, row.Year1)
			assert.Equal(t, before.Attendance[i].Year3, row.Year3)
			assert.Equal(t, before.Attendance[i].Year4, row.Year4)
			continue
		}
		assert.Equal(t, before.Attendance[i], row, "other departments must be untouched")
	}
}

// TestAttendanceUnknownDepartmentLogsOnly verifies that attendance
// updates for departments without a row are accepted into the logs but
// leave the snapshot alone.
func TestAttendanceUnknownDepartmentLogsOnly(t *testing.T) {
	s := NewStore()
	before := s.Snapshot()

	s.Apply(Update{Type: TypeAttendance, Name: "year1", Department: "Astrophysics", New: 91})
	s.Apply(Update{Type: TypeAttendance, Name: "year1", New: 91})

	assert.Equal(t, before, s.Snapshot())
	assert.Len(t, s.Audit(), 2)
}

// TestFilterPurity verifies that filter changes mutate filter state only.
func TestFilterPurity(t *testing.T) {
	s := NewStore()
	s.Apply(enrollmentUpdate("u1", 2810))

	snapshot := s.Snapshot()
	recent := s.Recent()
	audit := s.Audit()

	s.SetFilter(FilterLogin, "faculty")
	s.SetFilter(FilterBilling, "Q2")
	s.SetFilter(FilterAttendance, "AI & ML")

	assert.Equal(t, snapshot, s.Snapshot())
	assert.Equal(t, recent, s.Recent())
	assert.Equal(t, audit, s.Audit())
	assert.Equal(t, Filters{Login: "faculty", Billing: "Q2", Attendance: "AI & ML"}, s.Filters())
}

// TestClearRecentKeepsAudit verifies the separation between "what's new"
// and "what happened".
func TestClearRecentKeepsAudit(t *testing.T) {
	s := NewStore()
	s.Apply(enrollmentUpdate("u1", 2810))
	s.Apply(enrollmentUpdate("u2", 2820))

	s.ClearRecent()

	assert.Empty(t, s.Recent())
	assert.Len(t, s.Audit(), 2)
}

// TestSetAuditLogReplacesForHydration verifies bulk replacement keeps
// most-recent-first order and that later applies stack on top.
func TestSetAuditLogReplacesForHydration(t *testing.T) {
	s := NewStore()
	s.Apply(enrollmentUpdate("stale", 2700))

	s.SetAuditLog([]Update{
		enrollmentUpdate("h3", 2830),
		enrollmentUpdate("h2", 2820),
		enrollmentUpdate("h1", 2810),
	})

	audit := s.Audit()
	require.Len(t, audit, 3)
	assert.Equal(t, "h3", audit[0].ID)
	assert.Equal(t, "h1", audit[2].ID)

	s.Apply(enrollmentUpdate("live", 2840))
	audit = s.Audit()
	require.Len(t, audit, 4)
	assert.Equal(t, "live", audit[0].ID)
}

// TestStaleSequenceIgnoredByReducer verifies that a lower commit
// sequence cannot overwrite a fresher value, while still being logged,
// and that sequence-less updates keep arrival-order semantics.
func TestStaleSequenceIgnoredByReducer(t *testing.T) {
	s := NewStore()

	s.Apply(Update{ID: "fresh", Type: TypeEnrollment, Name: MetricTotalStudents, New: 2850, Seq: 5})
	s.Apply(Update{ID: "stale", Type: TypeEnrollment, Name: MetricTotalStudents, New: 2800, Seq: 3})

	assert.Equal(t, 2850.0, s.Snapshot().TotalStudents, "stale commit must not win")
	assert.Len(t, s.Audit(), 2, "stale updates still belong to history")

	s.Apply(Update{ID: "unknown-seq", Type: TypeEnrollment, Name: MetricTotalStudents, New: 2900})
	assert.Equal(t, 2900.0, s.Snapshot().TotalStudents, "sequence-less updates trust arrival order")
}

// TestBillingPeriodTargeting verifies the explicit period field and the
// current-month fallback for fees updates.
func TestBillingPeriodTargeting(t *testing.T) {
	march := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)
	s := NewStore(WithClock(fixedClock(march)))

	s.Apply(Update{Type: TypeFees, Name: MetricMonthlyBilling, New: 999000, Period: "Jan"})

	snap := s.Snapshot()
	assert.Equal(t, 999000.0, snap.MonthlyBilling)
	assert.Equal(t, 999000.0, monthAmount(t, snap, "Jan"))
	assert.Equal(t, 0.0, monthAmount(t, snap, "Mar"))

	s.Apply(Update{Type: TypeFees, Name: MetricMonthlyBilling, New: 1230000})

	snap = s.Snapshot()
	assert.Equal(t, 1230000.0, monthAmount(t, snap, "Mar"), "period-less updates target the current month")
	assert.Equal(t, 999000.0, monthAmount(t, snap, "Jan"))
}

func monthAmount(t *testing.T, snap Snapshot, month string) float64 {
	t.Helper()
	for _, m := range snap.BillingSeries {
		if m.Month == month {
			return m.Amount
		}
	}
	t.Fatalf("month %s not in series", month)
	return 0
}

// TestApplyAssignsIdentity verifies that missing id and timestamp are
// assigned by the store rather than accepted silently.
func TestApplyAssignsIdentity(t *testing.T) {
	now := time.Date(2026, time.September, 1, 8, 0, 0, 0, time.UTC)
	s := NewStore(
		WithClock(fixedClock(now)),
		WithIDGenerator(func() string { return "generated" }),
	)

	applied := s.Apply(Update{Type: TypeEnrollment, Name: MetricTotalStudents, New: 2810})

	assert.Equal(t, "generated", applied.ID)
	assert.Equal(t, now, applied.Timestamp)

	stamped := s.Apply(Update{ID: "feed-id", Timestamp: now.Add(time.Minute), Type: TypeOther, Name: "x", New: 1})
	assert.Equal(t, "feed-id", stamped.ID, "feed-assigned ids are preferred for idempotence")
}

// TestLastUpdate verifies the most-recent accessor used by notification
// projection.
func TestLastUpdate(t *testing.T) {
	s := NewStore()

	_, ok := s.LastUpdate()
	assert.False(t, ok)

	s.Apply(enrollmentUpdate("u1", 2810))
	last, ok := s.LastUpdate()
	require.True(t, ok)
	assert.Equal(t, "u1", last.ID)
}
