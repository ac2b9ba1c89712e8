package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamoflifebox/erp-analytics/pkg/feed"
	"github.com/teamoflifebox/erp-analytics/pkg/metrics"
)

// TestNormalizeRecord verifies field renaming and type coercion from the
// raw wire shape into the canonical update.
func TestNormalizeRecord(t *testing.T) {
	rec := feed.Record{
		"id":            "u1",
		"authorId":      "admin-1",
		"authorName":    "Dr. Rao",
		"authorRole":    "registrar",
		"metricType":    "enrollment",
		"metricName":    "totalStudents",
		"previousValue": float64(2800),
		"newValue":      float64(2850),
		"department":    "AI & ML",
		"period":        "Sep",
		"seq":           float64(12),
		"createdAt":     "2026-09-01T10:00:00Z",
	}

	u, err := normalizeRecord(rec)
	require.NoError(t, err)

	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "admin-1", u.AuthorID)
	assert.Equal(t, "Dr. Rao", u.AuthorName)
	assert.Equal(t, "registrar", u.AuthorRole)
	assert.Equal(t, metrics.TypeEnrollment, u.Type)
	assert.Equal(t, "totalStudents", u.Name)
	require.NotNil(t, u.Previous)
	assert.Equal(t, 2800.0, *u.Previous)
	assert.Equal(t, 2850.0, u.New)
	assert.Equal(t, "AI & ML", u.Department)
	assert.Equal(t, "Sep", u.Period)
	assert.Equal(t, uint64(12), u.Seq)
	assert.Equal(t, time.Date(2026, time.September, 1, 10, 0, 0, 0, time.UTC), u.Timestamp)

	require.NotNil(t, u.Change, "change must be derived when the wire omits it")
	assert.InDelta(t, 1.7857, *u.Change, 1e-3)
}

// TestNormalizeRecordDerivesNothingWithoutPrior verifies that an absent
// previous value leaves the change undefined rather than zero.
func TestNormalizeRecordDerivesNothingWithoutPrior(t *testing.T) {
	u, err := normalizeRecord(feed.Record{
		"metricType": "fees",
		"metricName": "monthlyBilling",
		"newValue":   float64(1250000),
	})
	require.NoError(t, err)
	assert.Nil(t, u.Previous)
	assert.Nil(t, u.Change)
}

// TestNormalizeRecordRejectsMalformed verifies each rejection reason and
// that rejections carry the offending field name.
func TestNormalizeRecordRejectsMalformed(t *testing.T) {
	cases := []struct {
		name  string
		rec   feed.Record
		field string
	}{
		{
			name:  "missing metric type",
			rec:   feed.Record{"metricName": "totalStudents", "newValue": float64(1)},
			field: "metricType",
		},
		{
			name:  "unknown metric type",
			rec:   feed.Record{"metricType": "astrology", "metricName": "x", "newValue": float64(1)},
			field: "metricType",
		},
		{
			name:  "missing metric name",
			rec:   feed.Record{"metricType": "enrollment", "newValue": float64(1)},
			field: "metricName",
		},
		{
			name:  "missing new value",
			rec:   feed.Record{"metricType": "enrollment", "metricName": "totalStudents"},
			field: "newValue",
		},
		{
			name: "non-numeric new value",
			rec: feed.Record{
				"metricType": "enrollment", "metricName": "totalStudents", "newValue": "lots",
			},
			field: "newValue",
		},
		{
			name: "non-numeric previous value",
			rec: feed.Record{
				"metricType": "enrollment", "metricName": "totalStudents",
				"newValue": float64(1), "previousValue": []any{},
			},
			field: "previousValue",
		},
		{
			name: "negative sequence",
			rec: feed.Record{
				"metricType": "enrollment", "metricName": "totalStudents",
				"newValue": float64(1), "seq": float64(-3),
			},
			field: "seq",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := normalizeRecord(tc.rec)
			var nerr *NormalizeError
			require.ErrorAs(t, err, &nerr)
			assert.Equal(t, tc.field, nerr.Field)
		})
	}
}

// TestNormalizeRecordCoercesNumericStrings verifies decode leniency for
// stores that stringify numbers.
func TestNormalizeRecordCoercesNumericStrings(t *testing.T) {
	u, err := normalizeRecord(feed.Record{
		"metricType": "attendance",
		"metricName": "year2",
		"newValue":   "95.5",
		"seq":        "7",
		"createdAt":  float64(1756720800),
	})
	require.NoError(t, err)
	assert.Equal(t, 95.5, u.New)
	assert.Equal(t, uint64(7), u.Seq)
	assert.Equal(t, time.Unix(1756720800, 0), u.Timestamp)
}

// TestUpdateToRecordRoundTrip verifies the outbound shape survives the
// inbound path unchanged.
func TestUpdateToRecordRoundTrip(t *testing.T) {
	prev := 2800.0
	u := metrics.Update{
		ID:         "u1",
		AuthorID:   "admin-1",
		AuthorName: "Dr. Rao",
		AuthorRole: "registrar",
		Type:       metrics.TypeEnrollment,
		Name:       "totalStudents",
		Previous:   &prev,
		New:        2850,
		Change:     metrics.ComputeChange(&prev, 2850),
		Department: "AI & ML",
	}

	back, err := normalizeRecord(updateToRecord(u))
	require.NoError(t, err)
	assert.Equal(t, u, back)
}

// TestUpdateToRecordOmitsAbsentFields verifies that optional absence is
// preserved on the wire instead of being encoded as zero.
func TestUpdateToRecordOmitsAbsentFields(t *testing.T) {
	rec := updateToRecord(metrics.Update{
		Type: metrics.TypeEnrollment,
		Name: "totalStudents",
		New:  2850,
	})

	assert.NotContains(t, rec, "previousValue")
	assert.NotContains(t, rec, "percentageChange")
	assert.NotContains(t, rec, "department")
	assert.NotContains(t, rec, "period")
}
