package analytics

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/teamoflifebox/erp-analytics/pkg/feed"
	"github.com/teamoflifebox/erp-analytics/pkg/metrics"
)

// NormalizeError describes why a raw feed record could not be coerced
// into the canonical Update shape. A single malformed record is dropped
// with a warning; it never stops the subscription.
type NormalizeError struct {
	Field  string
	Reason string
}

func (e *NormalizeError) Error() string {
	return fmt.Sprintf("normalize: field %q: %s", e.Field, e.Reason)
}

// normalizeRecord coerces a raw feed record into an Update. This is
// field renaming and type coercion only; merge logic lives in the store.
func normalizeRecord(rec feed.Record) (metrics.Update, error) {
	var u metrics.Update

	rawType, ok := stringField(rec, "metricType")
	if !ok {
		return u, &NormalizeError{Field: "metricType", Reason: "missing"}
	}
	u.Type = metrics.Type(rawType)
	if !u.Type.Valid() {
		return u, &NormalizeError{Field: "metricType", Reason: "outside the closed set: " + rawType}
	}

	u.Name, ok = stringField(rec, "metricName")
	if !ok {
		return u, &NormalizeError{Field: "metricName", Reason: "missing"}
	}

	u.New, ok = floatField(rec["newValue"])
	if !ok {
		return u, &NormalizeError{Field: "newValue", Reason: "missing or not numeric"}
	}

	if prev, present := fieldPresent(rec, "previousValue"); present {
		value, numeric := floatField(prev)
		if !numeric {
			return u, &NormalizeError{Field: "previousValue", Reason: "not numeric"}
		}
		u.Previous = &value
	}

	if change, present := fieldPresent(rec, "percentageChange"); present {
		value, numeric := floatField(change)
		if !numeric {
			return u, &NormalizeError{Field: "percentageChange", Reason: "not numeric"}
		}
		u.Change = &value
	} else {
		u.Change = metrics.ComputeChange(u.Previous, u.New)
	}

	u.ID, _ = stringField(rec, "id")
	u.AuthorID, _ = stringField(rec, "authorId")
	u.AuthorName, _ = stringField(rec, "authorName")
	u.AuthorRole, _ = stringField(rec, "authorRole")
	u.Department, _ = stringField(rec, "department")
	u.Period, _ = stringField(rec, "period")
	u.Timestamp = timeField(rec, "createdAt", "timestamp")

	if seq, present := fieldPresent(rec, "seq"); present {
		value, numeric := floatField(seq)
		if !numeric || value < 0 {
			return u, &NormalizeError{Field: "seq", Reason: "not a commit sequence"}
		}
		u.Seq = uint64(value)
	}

	return u, nil
}

// updateToRecord is the outbound counterpart of normalizeRecord.
func updateToRecord(u metrics.Update) feed.Record {
	rec := feed.Record{
		"id":         u.ID,
		"authorId":   u.AuthorID,
		"authorName": u.AuthorName,
		"authorRole": u.AuthorRole,
		"metricType": string(u.Type),
		"metricName": u.Name,
		"newValue":   u.New,
	}
	if u.Previous != nil {
		rec["previousValue"] = *u.Previous
	}
	if u.Change != nil {
		rec["percentageChange"] = *u.Change
	}
	if u.Department != "" {
		rec["department"] = u.Department
	}
	if u.Period != "" {
		rec["period"] = u.Period
	}
	return rec
}

func fieldPresent(rec feed.Record, key string) (any, bool) {
	v, ok := rec[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func stringField(rec feed.Record, key string) (string, bool) {
	v, ok := fieldPresent(rec, key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func floatField(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	case uint64:
		return float64(value), true
	case json.Number:
		parsed, err := value.Float64()
		return parsed, err == nil
	case string:
		parsed, err := strconv.ParseFloat(value, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

func timeField(rec feed.Record, keys ...string) time.Time {
	for _, key := range keys {
		v, ok := fieldPresent(rec, key)
		if !ok {
			continue
		}
		switch value := v.(type) {
		case string:
			if parsed, err := time.Parse(time.RFC3339, value); err == nil {
				return parsed
			}
		case float64:
			return time.Unix(int64(value), 0)
		}
	}
	return time.Time{}
}
