package xdebug

// Action is the bitmask a filter returns for a record. The zero value means the
// filter has no opinion.
type Action uint8

const (
	Stop Action = 0x01 // Do not run the remaining filters of the chain
	Skip Action = 0x02 // Discard the record
)

// Flag controls where and how AddFilter registers a filter.
type Flag uint8

const (
	FilterEntry        Flag = 0x01 // Run on entry records
	FilterExit         Flag = 0x02 // Run on exit records
	FilterAppendEntry  Flag = 0x04 // Append to the entry chain instead of prepending
	FilterAppendExit   Flag = 0x08 // Append to the exit chain instead of prepending
	FilterReplaceEntry Flag = 0x10 // Clear the entry chain first
	FilterReplaceExit  Flag = 0x20 // Clear the exit chain first

	FilterBoth    = FilterEntry | FilterExit
	FilterAppend  = FilterAppendEntry | FilterAppendExit
	FilterReplace = FilterReplaceEntry | FilterReplaceExit
)

// Filter decides whether a record is retained. On the exit chain rec is the entry
// record of the call, completed with its exit values when the call terminated.
type Filter interface {
	Filter(rec *EntryRecord, isEntry bool, e *Engine) Action
}

// FilterFunc adapts an ordinary function to the Filter interface.
type FilterFunc func(rec *EntryRecord, isEntry bool, e *Engine) Action

func (f FilterFunc) Filter(rec *EntryRecord, isEntry bool, e *Engine) Action {
	return f(rec, isEntry, e)
}

// SegmentResetter is implemented by filters that keep state which must start
// fresh with every TRACE START.
type SegmentResetter interface {
	ResetSegment()
}

// chain is an ordered list of filters.
type chain []Filter

func (c chain) insert(f Filter, appendIt bool) chain {
	if appendIt {
		return append(c, f)
	}
	return append(chain{f}, c...)
}

// run evaluates the filters in order and reports whether the record must be
// discarded. Skip votes accumulate; Stop ends the evaluation immediately.
func (c chain) run(rec *EntryRecord, isEntry bool, e *Engine) (skip bool) {
	var result Action
	for _, f := range c {
		action := f.Filter(rec, isEntry, e)
		result |= action & Skip
		if action&Stop != 0 {
			break
		}
	}
	return result&Skip != 0
}

// AddFilter registers a filter. Without FilterEntry or FilterExit in flags the
// filter goes to the entry chain. Filters are prepended unless the matching append
// flag is set, so the newest filter runs first.
func (e *Engine) AddFilter(f Filter, flags Flag) {
	if flags&FilterBoth == 0 {
		flags |= FilterEntry
	}

	if flags&FilterReplaceEntry != 0 {
		e.entryChain = nil
	}
	if flags&FilterReplaceExit != 0 {
		e.exitChain = nil
	}

	if flags&FilterEntry != 0 {
		e.entryChain = e.entryChain.insert(f, flags&FilterAppendEntry != 0)
	}
	if flags&FilterExit != 0 {
		e.exitChain = e.exitChain.insert(f, flags&FilterAppendExit != 0)
	}
}

// SetFilter registers f as the only filter of the chains it targets. Chains
// not named in flags keep their filters.
func (e *Engine) SetFilter(f Filter, flags Flag) {
	if flags&FilterBoth == 0 {
		flags |= FilterEntry
	}
	if flags&FilterEntry != 0 {
		flags |= FilterReplaceEntry
	}
	if flags&FilterExit != 0 {
		flags |= FilterReplaceExit
	}
	e.AddFilter(f, flags)
}

// ClearFilters removes every filter, the default one included.
func (e *Engine) ClearFilters() {
	e.entryChain = nil
	e.exitChain = nil
}

// FilterCount returns the length of the entry and exit chains.
func (e *Engine) FilterCount() (entry, exit int) {
	return len(e.entryChain), len(e.exitChain)
}

func (e *Engine) resetFilters() {
	for _, c := range []chain{e.entryChain, e.exitChain} {
		for _, f := range c {
			if r, ok := f.(SegmentResetter); ok {
				r.ResetSegment()
			}
		}
	}
}
