package usecase

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
)

// Schedule records arrive from the local UI with camelCase keys and from the
// backend with snake_case keys. Both spellings are accepted.
var scheduleFieldAliases = map[string][]string{
	"id":          {"id"},
	"name":        {"name"},
	"startHour":   {"startHour", "start_hour"},
	"startMinute": {"startMinute", "start_minute"},
	"endHour":     {"endHour", "end_hour"},
	"endMinute":   {"endMinute", "end_minute"},
	"daysOfWeek":  {"daysOfWeek", "days_of_week"},
	"enabled":     {"enabled"},
	"isClassTime": {"isClassTime", "is_class_time"},
}

// RecordError describes a schedule record that was dropped during ingestion.
type RecordError struct {
	Index int
	Err   error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e RecordError) Unwrap() error { return e.Err }

// IngestSchedules maps opaque records into schedules. Missing fields take
// defaults (Monday-Friday, class time, enabled, id derived from now); a
// record whose fields cannot be coerced, or whose clock values are out of
// range, is dropped and reported without affecting the others.
func IngestSchedules(records []map[string]any, now time.Time) ([]domain.Schedule, []RecordError) {
	schedules := make([]domain.Schedule, 0, len(records))
	var dropped []RecordError
	for i, rec := range records {
		s, err := parseScheduleRecord(rec, now.UnixMilli()+int64(i))
		if err != nil {
			dropped = append(dropped, RecordError{Index: i, Err: err})
			continue
		}
		schedules = append(schedules, s)
	}
	return schedules, dropped
}

// ScheduleRecords serializes schedules into camelCase records accepted by
// IngestSchedules.
func ScheduleRecords(schedules []domain.Schedule) []map[string]any {
	records := make([]map[string]any, len(schedules))
	for i, s := range schedules {
		days := make([]any, len(s.DaysOfWeek))
		for j, d := range s.DaysOfWeek {
			days[j] = d
		}
		records[i] = map[string]any{
			"id":          s.ID,
			"name":        s.Name,
			"startHour":   s.StartHour,
			"startMinute": s.StartMinute,
			"endHour":     s.EndHour,
			"endMinute":   s.EndMinute,
			"daysOfWeek":  days,
			"enabled":     s.Enabled,
			"isClassTime": s.IsClassTime,
		}
	}
	return records
}

// DecodeScheduleRecords parses a JSON array of schedule records. A record
// that is not a JSON object is reported and skipped.
func DecodeScheduleRecords(data []byte) ([]map[string]any, []RecordError, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("schedule list is not a JSON array: %w", err)
	}
	records := make([]map[string]any, 0, len(raw))
	var dropped []RecordError
	for i, r := range raw {
		dec := json.NewDecoder(strings.NewReader(string(r)))
		dec.UseNumber()
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil || rec == nil {
			if err == nil {
				err = fmt.Errorf("record is null")
			}
			dropped = append(dropped, RecordError{Index: i, Err: err})
			continue
		}
		records = append(records, rec)
	}
	return records, dropped, nil
}

func parseScheduleRecord(rec map[string]any, defaultID int64) (domain.Schedule, error) {
	s := domain.Schedule{
		ID:          defaultID,
		DaysOfWeek:  append([]int(nil), domain.DefaultDaysOfWeek...),
		Enabled:     true,
		IsClassTime: true,
	}

	if v, ok := lookup(rec, "id"); ok {
		id, err := toInt64(v)
		if err != nil {
			return s, fmt.Errorf("id: %w", err)
		}
		s.ID = id
	}
	if v, ok := lookup(rec, "name"); ok {
		name, isStr := v.(string)
		if !isStr {
			return s, fmt.Errorf("name: expected string, got %T", v)
		}
		s.Name = name
	}

	ints := []struct {
		field string
		dst   *int
	}{
		{"startHour", &s.StartHour},
		{"startMinute", &s.StartMinute},
		{"endHour", &s.EndHour},
		{"endMinute", &s.EndMinute},
	}
	for _, f := range ints {
		v, ok := lookup(rec, f.field)
		if !ok {
			continue
		}
		n, err := toInt64(v)
		if err != nil {
			return s, fmt.Errorf("%s: %w", f.field, err)
		}
		*f.dst = int(n)
	}

	if v, ok := lookup(rec, "daysOfWeek"); ok {
		days, err := toDays(v)
		if err != nil {
			return s, fmt.Errorf("daysOfWeek: %w", err)
		}
		if len(days) > 0 {
			s.DaysOfWeek = days
		}
	}
	if v, ok := lookup(rec, "enabled"); ok {
		b, err := toBool(v)
		if err != nil {
			return s, fmt.Errorf("enabled: %w", err)
		}
		s.Enabled = b
	}
	if v, ok := lookup(rec, "isClassTime"); ok {
		b, err := toBool(v)
		if err != nil {
			return s, fmt.Errorf("isClassTime: %w", err)
		}
		s.IsClassTime = b
	}

	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// lookup returns the first non-nil value under any alias of field.
func lookup(rec map[string]any, field string) (any, bool) {
	for _, key := range scheduleFieldAliases[field] {
		if v, ok := rec[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, fmt.Errorf("non-integral number %v", n)
		}
		return int64(n), nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return toInt64(f)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("not a boolean: %q", b)
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("expected boolean, got %T", v)
	}
}

func toDays(v any) ([]int, error) {
	var items []any
	switch list := v.(type) {
	case []any:
		items = list
	case []int:
		for _, d := range list {
			items = append(items, d)
		}
	default:
		return nil, fmt.Errorf("expected list, got %T", v)
	}
	days := make([]int, 0, len(items))
	for _, item := range items {
		n, err := toInt64(item)
		if err != nil {
			return nil, err
		}
		days = append(days, int(n))
	}
	return days, nil
}
