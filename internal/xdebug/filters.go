package xdebug

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultFilter hides the noise of a typical framework request. Every category can
// be switched off on its own.
type DefaultFilter struct {
	SkipInternals bool // Functions implemented by the interpreter

	SkipOwn     bool     // Calls made by the tracing panel itself
	OwnFile     string   // Source file of the tracing panel
	OwnPrefixes []string // Function name prefixes of the tracing panel

	SkipFramework     bool
	FrameworkPrefixes []string // Host framework namespaces

	SkipClosures bool // "callback" wrappers and anonymous functions
	SkipIncludes bool // include/require calls
}

// NewDefaultFilter returns a filter with every category enabled.
func NewDefaultFilter() *DefaultFilter {
	return &DefaultFilter{
		SkipInternals:     true,
		SkipOwn:           true,
		OwnPrefixes:       []string{`Panel\XDebugTrace::`, `Panel\XDebugTrace->`},
		SkipFramework:     true,
		FrameworkPrefixes: []string{`Nette\`},
		SkipClosures:      true,
		SkipIncludes:      true,
	}
}

func (d *DefaultFilter) Filter(rec *EntryRecord, isEntry bool, e *Engine) Action {
	if d.SkipInternals && rec.IsInternal {
		return Skip
	}

	if d.SkipOwn {
		if d.OwnFile != "" && rec.Filename == d.OwnFile {
			return Skip
		}
		if hasAnyPrefix(rec.Function, d.OwnPrefixes) {
			return Skip
		}
	}

	if d.SkipFramework && hasAnyPrefix(rec.Function, d.FrameworkPrefixes) {
		return Skip
	}

	if d.SkipClosures && (rec.Function == "callback" || rec.Function == "{closure}") {
		return Skip
	}

	if d.SkipIncludes && rec.IsInclude() {
		return Skip
	}

	return 0
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// functionFilter keeps calls of matching functions. In deep mode it also keeps
// every call nested below an open match, counted per segment.
type functionFilter struct {
	match         func(name string) bool
	deep          bool
	showInternals bool

	open int
}

func (f *functionFilter) Filter(rec *EntryRecord, isEntry bool, e *Engine) Action {
	if f.match(rec.Function) {
		if f.deep {
			if isEntry {
				f.open++
			} else if f.open > 0 {
				f.open--
			}
		}
		return 0
	}

	if f.deep && f.open > 0 && (f.showInternals || !rec.IsInternal) {
		return 0
	}
	return Skip
}

func (f *functionFilter) ResetSegment() {
	f.open = 0
}

// thresholdFilter runs on the exit chain and compares a delta of the call with a
// limit. Calls without an exit have no delta: a minimum rejects them, a maximum
// keeps them.
type thresholdFilter struct {
	limit   float64
	atLeast bool
	value   func(rec *EntryRecord) (float64, bool)
}

func (f *thresholdFilter) Filter(rec *EntryRecord, isEntry bool, e *Engine) Action {
	if isEntry {
		return 0
	}

	v, ok := f.value(rec)
	if f.atLeast && (!ok || v < f.limit) {
		return Skip
	}
	if !f.atLeast && ok && v > f.limit {
		return Skip
	}
	return 0
}

// TraceAll removes every filter so the whole trace is shown.
func (e *Engine) TraceAll() {
	e.ClearFilters()
}

// TraceFunction shows only calls of the named function. With deep set, calls nested
// inside it are shown as well; internal nested calls only when showInternals is set.
func (e *Engine) TraceFunction(name string, deep, showInternals bool) {
	e.SetFilter(&functionFilter{
		match:         func(fn string) bool { return fn == name },
		deep:          deep,
		showInternals: showInternals,
	}, FilterBoth)
}

// TraceFunctionPattern is TraceFunction with a regular expression instead of an
// exact name.
func (e *Engine) TraceFunctionPattern(pattern string, deep, showInternals bool) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid function pattern: %w", err)
	}

	e.SetFilter(&functionFilter{
		match:         re.MatchString,
		deep:          deep,
		showInternals: showInternals,
	}, FilterBoth)
	return nil
}

// TraceMinTime hides calls that ran shorter than threshold, e.g. "15ms" or "0.5".
func (e *Engine) TraceMinTime(threshold string) error {
	return e.addThreshold(threshold, ParseTime, true, (*EntryRecord).DeltaTime)
}

// TraceMaxTime hides calls that ran longer than threshold.
func (e *Engine) TraceMaxTime(threshold string) error {
	return e.addThreshold(threshold, ParseTime, false, (*EntryRecord).DeltaTime)
}

// TraceMinMemory hides calls whose memory delta is below threshold, e.g. "20kB".
func (e *Engine) TraceMinMemory(threshold string) error {
	return e.addThreshold(threshold, ParseMemory, true, (*EntryRecord).DeltaMemory)
}

// TraceMaxMemory hides calls whose memory delta is above threshold.
func (e *Engine) TraceMaxMemory(threshold string) error {
	return e.addThreshold(threshold, ParseMemory, false, (*EntryRecord).DeltaMemory)
}

func (e *Engine) addThreshold(threshold string, parse func(string) (float64, error), atLeast bool, value func(*EntryRecord) (float64, bool)) error {
	limit, err := parse(threshold)
	if err != nil {
		return err
	}

	e.AddFilter(&thresholdFilter{limit: limit, atLeast: atLeast, value: value}, FilterExit)
	return nil
}

var (
	// Units are expressed as value * mul / div so that "15ms" is exactly 0.015.
	timeUnits = map[string]unit{
		"ns": {1, 1e9},
		"us": {1, 1e6},
		"ms": {1, 1e3},
		"s":  {1, 1},
	}
	memoryUnits = map[string]unit{
		"B":  {1, 1},
		"kB": {1024, 1},
		"MB": {1048576, 1},
	}

	thresholdRegex = regexp.MustCompile(`^([-+]?[0-9]*\.?[0-9]+(?:[eE][-+]?[0-9]+)?)\s*([a-zA-Z]*)$`)
)

// ParseTime converts a threshold like "15ms" to seconds. A bare number is returned
// as is.
func ParseTime(s string) (float64, error) {
	return parseThreshold(s, timeUnits)
}

// ParseMemory converts a threshold like "20kB" to bytes. A bare number is returned
// as is.
func ParseMemory(s string) (float64, error) {
	return parseThreshold(s, memoryUnits)
}

type unit struct {
	mul, div float64
}

func parseThreshold(s string, units map[string]unit) (float64, error) {
	m := thresholdRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid threshold %q", s)
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid threshold %q: %w", s, err)
	}
	if m[2] == "" {
		return value, nil
	}

	u, ok := units[m[2]]
	if !ok {
		return 0, fmt.Errorf("unknown unit %q in threshold %q", m[2], s)
	}
	return value * u.mul / u.div, nil
}
