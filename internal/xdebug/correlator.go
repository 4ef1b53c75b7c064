package xdebug

import "sort"

// segmentState is the mutable state of the segment currently being parsed.
type segmentState struct {
	calls  []*EntryRecord // entry order, nil marks a removed call
	byID   map[int64]int  // id -> index into calls
	levels map[int]int    // raw level -> number of retained calls at it
}

// correlator pairs exit records with their entries and decides, through the
// engine's filter chains, which calls end up in the result.
type correlator struct {
	engine *Engine
	stats  *statistics // nil when statistics are disabled

	current  *segmentState
	segments []*Segment
	table    []*FunctionStat
}

func newCorrelator(e *Engine) *correlator {
	c := &correlator{engine: e}
	if e.opts.Statistics {
		c.stats = newStatistics()
		c.table = []*FunctionStat{}
	}
	return c
}

// openSegment starts a new segment, closing the current one first.
func (c *correlator) openSegment() {
	if c.current != nil {
		c.closeSegment()
	}

	c.engine.resetFilters()
	c.current = &segmentState{
		byID:   make(map[int64]int),
		levels: make(map[int]int),
	}
}

func (c *correlator) currentSegment() *segmentState {
	return c.current
}

func (c *correlator) isOpen() bool {
	return c.current != nil
}

func (c *correlator) add(rec Record) {
	switch r := rec.(type) {
	case *EntryRecord:
		c.addEntry(r)
	case *ExitRecord:
		c.addExit(r)
	}
}

func (c *correlator) addEntry(rec *EntryRecord) {
	seg := c.currentSegment()
	if c.engine.entryChain.run(rec, true, c.engine) {
		return
	}

	if i, ok := seg.byID[rec.ID]; ok && seg.calls[i] != nil {
		seg.levels[seg.calls[i].Level]--
		seg.calls[i] = rec
	} else {
		seg.byID[rec.ID] = len(seg.calls)
		seg.calls = append(seg.calls, rec)
	}
	seg.levels[rec.Level]++
}

func (c *correlator) addExit(exit *ExitRecord) {
	seg := c.currentSegment()
	i, ok := seg.byID[exit.ID]
	if !ok || seg.calls[i] == nil || seg.calls[i].Exited() {
		return
	}

	rec := seg.calls[i]
	rec.complete(exit)

	if c.engine.exitChain.run(rec, false, c.engine) {
		c.remove(seg, i)
		return
	}

	if c.stats != nil {
		c.stats.add(rec)
	}
}

func (c *correlator) remove(seg *segmentState, i int) {
	rec := seg.calls[i]
	seg.levels[rec.Level]--
	seg.calls[i] = nil
	delete(seg.byID, rec.ID)
}

// closeSegment gives filters a last look at unterminated calls, compacts the
// indentation levels and finalizes the statistics.
func (c *correlator) closeSegment() {
	seg := c.current
	if seg == nil {
		return
	}
	c.current = nil

	// Unwind innermost first, as the calls would have returned.
	for i := len(seg.calls) - 1; i >= 0; i-- {
		rec := seg.calls[i]
		if rec == nil || rec.Exited() {
			continue
		}
		if c.engine.exitChain.run(rec, false, c.engine) {
			c.remove(seg, i)
		}
	}

	out := &Segment{Indents: compactLevels(seg.levels)}
	for _, rec := range seg.calls {
		if rec == nil {
			continue
		}
		rec.Indent = out.Indents[rec.Level]
		out.Calls = append(out.Calls, rec)
	}
	c.segments = append(c.segments, out)

	if c.stats != nil {
		c.table = c.stats.finalize(c.engine.opts.SortBy)
	}
}

// compactLevels maps the distinct raw levels, ascending, to 0, 1, 2, ...
func compactLevels(levels map[int]int) map[int]int {
	raw := make([]int, 0, len(levels))
	for level, n := range levels {
		if n > 0 {
			raw = append(raw, level)
		}
	}
	sort.Ints(raw)

	indents := make(map[int]int, len(raw))
	for rank, level := range raw {
		indents[level] = rank
	}
	return indents
}

func (c *correlator) result() *Result {
	if c.current != nil {
		c.closeSegment()
	}
	return &Result{
		Segments:   c.segments,
		Statistics: c.table,
	}
}
