package utils

import (
	"sort"
	"time"
)

func SortDates(dates []time.Time, asc bool) []time.Time {
	sort.SliceStable(dates, func(i, j int) bool {
		if asc {
			return dates[i].Before(dates[j])
		}
		return dates[i].After(dates[j])
	})
	return dates
}

func GetSortedKeys[T any](m map[time.Time]T, asc bool) []time.Time {
	keys := make([]time.Time, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return SortDates(keys, asc)
}

// Days lists every midnight UTC from start to end inclusive.
func Days(start, end time.Time) []time.Time {
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
