package core

import (
	"sort"
	"time"
)

// RecordInfo is a total plus the records it was computed from.
type RecordInfo struct {
	TotalAmount Won      `json:"totalAmount"`
	Count       int      `json:"count"`
	Data        []Record `json:"data,omitempty"`
}

// CategoryStat represents an amount aggregated by category.
type CategoryStat struct {
	Category Category `json:"category"`
	Amount   Won      `json:"amount"`
	Count    int      `json:"count"`
}

// DailyAmount is the total recorded on one calendar day.
type DailyAmount struct {
	Date   string `json:"date"` // YYYY-MM-DD
	Amount Won    `json:"amount"`
}

// Sum adds up the amounts of records.
func Sum(records []Record) Won {
	var total Won
	for _, r := range records {
		total += r.Amount
	}
	return total
}

// Filter returns the records for which keep reports true.
func Filter(records []Record, keep func(Record) bool) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// InInterval selects records created inside iv.
func InInterval(records []Record, iv Interval) []Record {
	return Filter(records, func(r Record) bool { return iv.Contains(r.CreatedAt.Time) })
}

// InCategory selects records of one category.
func InCategory(records []Record, c Category) []Record {
	return Filter(records, func(r Record) bool { return r.Category == c })
}

// Info summarises records as a RecordInfo.
func Info(records []Record) RecordInfo {
	return RecordInfo{TotalAmount: Sum(records), Count: len(records), Data: records}
}

// Today returns the records created on now's calendar day.
func Today(records []Record, now time.Time) RecordInfo {
	return Info(InInterval(records, DayOf(now)))
}

// ThisMonth returns the records created in now's calendar month.
func ThisMonth(records []Record, now time.Time) RecordInfo {
	y, m, _ := now.Date()
	start := time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
	return Info(InInterval(records, Interval{Start: start, End: start.AddDate(0, 1, 0)}))
}

// CategoryStats groups records by category. Every category of the closed
// set is present, in display order, followed by any unknown categories.
func CategoryStats(records []Record) []CategoryStat {
	byCat := make(map[Category]*CategoryStat)
	for _, c := range categories {
		byCat[c] = &CategoryStat{Category: c}
	}
	var extra []Category
	for _, r := range records {
		s, ok := byCat[r.Category]
		if !ok {
			s = &CategoryStat{Category: r.Category}
			byCat[r.Category] = s
			extra = append(extra, r.Category)
		}
		s.Amount += r.Amount
		s.Count++
	}
	out := make([]CategoryStat, 0, len(byCat))
	for _, c := range categories {
		out = append(out, *byCat[c])
	}
	for _, c := range extra {
		out = append(out, *byCat[c])
	}
	return out
}

// Latest returns up to n records, newest first.
func Latest(records []Record, n int) []Record {
	sorted := append([]Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt.Time)
	})
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// WeekAmounts returns the daily totals of the seven calendar days ending on
// now's day, oldest first.
func WeekAmounts(records []Record, now time.Time) []DailyAmount {
	out := make([]DailyAmount, 7)
	today := DayOf(now).Start
	for i := 0; i < 7; i++ {
		day := today.AddDate(0, 0, i-6)
		iv := Interval{Start: day, End: day.AddDate(0, 0, 1)}
		out[i] = DailyAmount{Date: day.Format(dateLayout), Amount: Sum(InInterval(records, iv))}
	}
	return out
}
