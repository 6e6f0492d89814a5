package usecase

import (
	"time"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
)

const minutesPerDay = 24 * 60

// ClassifyTime evaluates now against the schedules. Disabled schedules and
// schedules not active on now's weekday are ignored.
//
// The blocked check treats the end minute as part of the interval; the
// next-unblock lookup does not. An overnight interval (start after end) is
// tested as minute >= start || minute < end in both cases.
func ClassifyTime(now time.Time, schedules []domain.Schedule) domain.TimeClassification {
	result := domain.TimeClassification{Status: domain.StatusAllowed}

	day := domain.DayOfWeek(now)
	minute := now.Hour()*60 + now.Minute()

	var active []domain.Schedule
	for _, s := range schedules {
		if s.Enabled && s.OnDay(day) {
			active = append(active, s)
		}
	}
	if len(active) == 0 {
		return result
	}

	for _, s := range active {
		if !inInterval(minute, s.StartMinutes(), s.EndMinutes(), true) {
			continue
		}
		if s.IsClassTime {
			result.InClassTime = true
		} else {
			result.InRecess = true
		}
	}
	if result.InClassTime && !result.InRecess {
		result.Status = domain.StatusBlocked
	}

	if next, ok := nextUnblock(minute, active); ok {
		result.NextUnblock = next
		result.HasNextUnblock = true
		result.NextTransition = atMinute(now, next)
	}
	return result
}

// nextUnblock finds the first class interval containing minute and returns
// the start of a recess beginning before that class ends, or the class end.
func nextUnblock(minute int, active []domain.Schedule) (int, bool) {
	for _, class := range active {
		if !class.IsClassTime {
			continue
		}
		end := class.EndMinutes()
		if !inInterval(minute, class.StartMinutes(), end, false) {
			continue
		}
		for _, recess := range active {
			if recess.IsClassTime {
				continue
			}
			start := recess.StartMinutes()
			if start > minute && start < end {
				return start, true
			}
		}
		return end, true
	}
	return 0, false
}

func inInterval(minute, start, end int, inclusiveEnd bool) bool {
	if start > end {
		return minute >= start || minute < end
	}
	if inclusiveEnd {
		return minute >= start && minute <= end
	}
	return minute >= start && minute < end
}

// atMinute returns the first instant at or after now's minute whose clock
// reads minuteOfDay.
func atMinute(now time.Time, minuteOfDay int) time.Time {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	t := midnight.Add(time.Duration(minuteOfDay) * time.Minute)
	if t.Before(now.Truncate(time.Minute)) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// NextUnblockTime formats the next unblock minute as HH:MM, or "" when no
// class interval is in progress.
func NextUnblockTime(now time.Time, schedules []domain.Schedule) string {
	return ClassifyTime(now, schedules).NextUnblockLabel()
}

// AddSchedule returns schedules with s appended.
func AddSchedule(schedules []domain.Schedule, s domain.Schedule) []domain.Schedule {
	out := make([]domain.Schedule, 0, len(schedules)+1)
	out = append(out, schedules...)
	return append(out, s)
}

// RemoveSchedule returns schedules without the entry with id.
func RemoveSchedule(schedules []domain.Schedule, id int64) []domain.Schedule {
	out := make([]domain.Schedule, 0, len(schedules))
	for _, s := range schedules {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return out
}

// ReplaceSchedule returns schedules with the entry matching s.ID replaced.
func ReplaceSchedule(schedules []domain.Schedule, s domain.Schedule) []domain.Schedule {
	out := make([]domain.Schedule, len(schedules))
	for i, cur := range schedules {
		if cur.ID == s.ID {
			out[i] = s
		} else {
			out[i] = cur
		}
	}
	return out
}
