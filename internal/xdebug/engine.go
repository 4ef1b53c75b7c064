package xdebug

import "log"

// DefaultMaxLineLength is the longest trace line read in full; the rest of a
// longer line is dropped.
const DefaultMaxLineLength = 4096

// Options configures an Engine.
type Options struct {
	// Statistics enables the per-function statistics table.
	Statistics bool
	SortBy     SortKey

	// MaxLineLength defaults to DefaultMaxLineLength.
	MaxLineLength int

	// Placeholder is the content written to the trace file before tracing starts.
	// A source no longer than it is reported as ErrEmptySource.
	Placeholder string

	// Logger receives diagnostics about skipped lines. nil disables them.
	Logger *log.Logger
}

// Engine parses XDebug computerized traces. The filter configuration survives
// between parses; an Engine must not run two parses at the same time because
// filters may keep per-segment state.
type Engine struct {
	opts Options

	entryChain chain
	exitChain  chain

	defaultFilter *DefaultFilter
}

// New returns an engine with the default filter registered on the entry chain.
func New(opts Options) *Engine {
	if opts.MaxLineLength <= 0 {
		opts.MaxLineLength = DefaultMaxLineLength
	}

	e := &Engine{
		opts:          opts,
		defaultFilter: NewDefaultFilter(),
	}
	e.AddFilter(e.defaultFilter, FilterEntry)
	return e
}

// DefaultFilter gives access to the toggles of the built-in filter. Changes have no
// effect once the filter was removed from the chains.
func (e *Engine) DefaultFilter() *DefaultFilter {
	return e.defaultFilter
}

// SkipInternals toggles hiding of interpreter functions by the default filter.
func (e *Engine) SkipInternals(skip bool) {
	e.defaultFilter.SkipInternals = skip
}

// SetStatistics toggles the statistics table and selects its ordering.
func (e *Engine) SetStatistics(enabled bool, sortBy SortKey) {
	e.opts.Statistics = enabled
	e.opts.SortBy = sortBy
}

// Options returns the current engine options.
func (e *Engine) Options() Options {
	return e.opts
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.opts.Logger != nil {
		e.opts.Logger.Printf(format, args...)
	}
}
