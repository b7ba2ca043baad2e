package core

import "time"

const dateLayout = "2006-01-02"

// Interval is the half-open span [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// DayOf returns the local calendar day containing t.
func DayOf(t time.Time) Interval {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return Interval{Start: start, End: start.AddDate(0, 0, 1)}
}

// WindowFor returns the current window instance of period as of now.
// Daily is the calendar day of now; weekly and monthly are the trailing 7
// and 30 days ending at now (inclusive).
func WindowFor(p Period, now time.Time) Interval {
	end := now.Add(time.Nanosecond)
	switch p {
	case Daily:
		return DayOf(now)
	case Weekly:
		return Interval{Start: now.AddDate(0, 0, -7), End: end}
	case Monthly:
		return Interval{Start: now.AddDate(0, 0, -30), End: end}
	}
	return Interval{Start: now, End: now}
}

// InstanceKey names the window instance a completion at t belongs to: the
// calendar date the instance was first satisfied on.
func InstanceKey(t time.Time) string {
	return t.Format(dateLayout)
}

// CompletionExpired reports whether a completion made at completedAt no
// longer covers now. Daily completions lapse at the next local midnight,
// weekly ones after 7 days and monthly ones after 30 days.
func CompletionExpired(completedAt time.Time, p Period, now time.Time) bool {
	var until time.Time
	switch p {
	case Daily:
		until = DayOf(completedAt.In(now.Location())).End
	case Weekly:
		until = completedAt.AddDate(0, 0, 7)
	case Monthly:
		until = completedAt.AddDate(0, 0, 30)
	default:
		return false
	}
	return !now.Before(until)
}

// Streak counts consecutive calendar days ending today that each hold at
// least one record. A day without records today yields zero.
func Streak(records []Record, now time.Time) int {
	days := make(map[string]struct{}, len(records))
	for _, r := range records {
		days[r.CreatedAt.In(now.Location()).Format(dateLayout)] = struct{}{}
	}
	streak := 0
	day := DayOf(now).Start
	for {
		if _, ok := days[day.Format(dateLayout)]; !ok {
			return streak
		}
		streak++
		day = day.AddDate(0, 0, -1)
	}
}
