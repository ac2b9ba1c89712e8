package metrics

// Metric names the reducer understands. Unrecognized (Type, Name)
// combinations are accepted into the logs without touching the snapshot.
const (
	MetricTotalStudents  = "totalStudents"
	MetricTotalFaculty   = "totalFaculty"
	MetricMonthlyBilling = "monthlyBilling"
)

// BillingMonth is one entry of the monthly billing series.
type BillingMonth struct {
	Month  string
	Amount float64
}

// AttendanceRow holds per-year attendance percentages for one department.
type AttendanceRow struct {
	Department string
	Year1      float64
	Year2      float64
	Year3      float64
	Year4      float64
}

// setYear overwrites the year column named by a year-slot metric name.
// It returns false for names outside year1..year4.
func (r *AttendanceRow) setYear(name string, value float64) bool {
	switch name {
	case "year1":
		r.Year1 = value
	case "year2":
		r.Year2 = value
	case "year3":
		r.Year3 = value
	case "year4":
		r.Year4 = value
	default:
		return false
	}
	return true
}

// Snapshot is the current-value projection of institutional metrics. At
// any instant it equals the fold of all applied updates, restricted to
// the combinations the reducer understands.
type Snapshot struct {
	TotalStudents  float64
	TotalFaculty   float64
	MonthlyBilling float64
	BillingSeries  []BillingMonth
	Attendance     []AttendanceRow
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.BillingSeries = append([]BillingMonth(nil), s.BillingSeries...)
	out.Attendance = append([]AttendanceRow(nil), s.Attendance...)
	return out
}

var monthLabels = []string{
	"Jan", "Feb", "Mar", "Apr", "May", "Jun",
	"Jul", "Aug", "Sep", "Oct", "Nov", "Dec",
}

// DefaultSnapshot seeds the projection with the institution's baseline
// figures, matching the dashboard's initial render before any update
// arrives.
func DefaultSnapshot() Snapshot {
	series := make([]BillingMonth, 0, len(monthLabels))
	for _, m := range monthLabels {
		series = append(series, BillingMonth{Month: m})
	}

	return Snapshot{
		TotalStudents:  2800,
		TotalFaculty:   180,
		MonthlyBilling: 1250000,
		BillingSeries:  series,
		Attendance: []AttendanceRow{
			{Department: "Computer Science", Year1: 92, Year2: 89, Year3: 91, Year4: 88},
			{Department: "AI & ML", Year1: 94, Year2: 90, Year3: 92, Year4: 89},
			{Department: "Electronics", Year1: 88, Year2: 86, Year3: 90, Year4: 87},
			{Department: "Mechanical", Year1: 85, Year2: 84, Year3: 87, Year4: 86},
		},
	}
}

// FilterKind names one of the view filter slots.
type FilterKind string

const (
	FilterLogin      FilterKind = "login"
	FilterBilling    FilterKind = "billing"
	FilterAttendance FilterKind = "attendance"
)

// Filters holds the active view filter selections. They influence only
// what view-layer selectors derive, never the snapshot or the logs.
type Filters struct {
	Login      string
	Billing    string
	Attendance string
}
