package xdebug

import (
	"fmt"
	"sort"
)

// SortKey selects the ordering of the statistics table.
type SortKey int

const (
	SortTotalTime SortKey = iota
	SortCount
	SortAverageTime
)

func (k SortKey) String() string {
	switch k {
	case SortCount:
		return "count"
	case SortAverageTime:
		return "averageTime"
	default:
		return "totalTime"
	}
}

// ParseSortKey accepts "count", "totalTime" and "averageTime" (also "time" and
// "average").
func ParseSortKey(s string) (SortKey, error) {
	switch s {
	case "count", "calls":
		return SortCount, nil
	case "totalTime", "time", "":
		return SortTotalTime, nil
	case "averageTime", "average":
		return SortAverageTime, nil
	}
	return SortTotalTime, fmt.Errorf("unknown sort key %q", s)
}

// FunctionStat aggregates the retained, exited calls of one function.
type FunctionStat struct {
	Function    string
	Count       int
	DeltaTime   float64 // Sum of the calls' elapsed time
	AverageTime float64
}

// statistics accumulates FunctionStats across all segments of one parse.
type statistics struct {
	byName map[string]*FunctionStat
	order  []*FunctionStat // first seen first
}

func newStatistics() *statistics {
	return &statistics{byName: make(map[string]*FunctionStat)}
}

func (s *statistics) add(rec *EntryRecord) {
	delta, ok := rec.DeltaTime()
	if !ok {
		return
	}

	st, exists := s.byName[rec.Function]
	if !exists {
		st = &FunctionStat{Function: rec.Function}
		s.byName[rec.Function] = st
		s.order = append(s.order, st)
	}
	st.Count++
	st.DeltaTime += delta
}

// finalize computes averages and returns the table sorted descending by key.
// Functions with equal keys keep their first seen order.
func (s *statistics) finalize(key SortKey) []*FunctionStat {
	for _, st := range s.order {
		if st.Count > 0 {
			st.AverageTime = st.DeltaTime / float64(st.Count)
		}
	}

	table := make([]*FunctionStat, len(s.order))
	copy(table, s.order)

	sort.SliceStable(table, func(i, j int) bool {
		a, b := table[i], table[j]
		switch key {
		case SortCount:
			return a.Count > b.Count
		case SortAverageTime:
			return a.AverageTime > b.AverageTime
		default:
			return a.DeltaTime > b.DeltaTime
		}
	})
	return table
}
