package xdebug

import (
	"reflect"
	"strings"
	"testing"
)

// recorder is a filter that logs its invocations and returns a fixed action.
type recorder struct {
	name   string
	action Action
	calls  *[]string
}

func (r *recorder) Filter(rec *EntryRecord, isEntry bool, e *Engine) Action {
	*r.calls = append(*r.calls, r.name)
	return r.action
}

func TestChain_StopShortCircuits(t *testing.T) {
	var calls []string
	e := New(Options{})
	e.ClearFilters()

	e.AddFilter(&recorder{name: "A", action: Stop, calls: &calls}, FilterEntry)
	e.AddFilter(&recorder{name: "B", action: Skip, calls: &calls}, FilterEntry|FilterAppendEntry)

	skip := e.entryChain.run(&EntryRecord{Function: "f"}, true, e)
	if skip {
		t.Error("record must be kept when the stopping filter voted no skip")
	}
	if !reflect.DeepEqual(calls, []string{"A"}) {
		t.Errorf("expected only A to run, got %v", calls)
	}
}

func TestChain_SkipAccumulates(t *testing.T) {
	var calls []string
	e := New(Options{})
	e.ClearFilters()

	e.AddFilter(&recorder{name: "last", action: 0, calls: &calls}, FilterEntry)
	e.AddFilter(&recorder{name: "first", action: Skip, calls: &calls}, FilterEntry)

	if !e.entryChain.run(&EntryRecord{}, true, e) {
		t.Error("a single Skip vote must discard the record")
	}
	if !reflect.DeepEqual(calls, []string{"first", "last"}) {
		t.Errorf("expected prepend order [first last], got %v", calls)
	}
}

func TestChain_SkipAndStop(t *testing.T) {
	var calls []string
	e := New(Options{})
	e.ClearFilters()

	e.AddFilter(&recorder{name: "A", action: Skip | Stop, calls: &calls}, FilterEntry)
	e.AddFilter(&recorder{name: "B", calls: &calls}, FilterAppend)

	if !e.entryChain.run(&EntryRecord{}, true, e) {
		t.Error("Skip|Stop must discard the record")
	}
	if len(calls) != 1 {
		t.Errorf("expected evaluation to stop after A, got %v", calls)
	}
}

func TestAddFilter_Flags(t *testing.T) {
	noop := FilterFunc(func(*EntryRecord, bool, *Engine) Action { return 0 })

	tests := []struct {
		name      string
		flags     []Flag
		wantEntry int
		wantExit  int
	}{
		{"default is entry", []Flag{0}, 2, 0},
		{"exit only", []Flag{FilterExit}, 1, 1},
		{"both", []Flag{FilterBoth}, 2, 1},
		{"replace entry", []Flag{FilterReplaceEntry}, 1, 0},
		{"replace both then exit", []Flag{FilterExit | FilterReplace}, 0, 1},
		{"stacked", []Flag{FilterBoth, FilterExit | FilterAppendExit}, 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(Options{})
			for _, f := range tt.flags {
				e.AddFilter(noop, f)
			}
			entry, exit := e.FilterCount()
			if entry != tt.wantEntry || exit != tt.wantExit {
				t.Errorf("expected %d/%d filters, got %d/%d", tt.wantEntry, tt.wantExit, entry, exit)
			}
		})
	}
}

func TestSetFilter_ReplacesTargetedChains(t *testing.T) {
	noop := FilterFunc(func(*EntryRecord, bool, *Engine) Action { return 0 })

	tests := []struct {
		name      string
		flags     Flag
		wantEntry int
		wantExit  int
	}{
		{"entry", FilterEntry, 1, 1},
		{"exit keeps the default filter", FilterExit, 2, 1},
		{"no target means entry", 0, 1, 1},
		{"both", FilterBoth, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(Options{})
			e.AddFilter(noop, FilterBoth)
			e.SetFilter(noop, tt.flags)

			entry, exit := e.FilterCount()
			if entry != tt.wantEntry || exit != tt.wantExit {
				t.Errorf("expected %d/%d filters after SetFilter, got %d/%d", tt.wantEntry, tt.wantExit, entry, exit)
			}
		})
	}
}

func TestSetFilter_ExitOnlyKeepsDefaultFilter(t *testing.T) {
	input := traceOf(
		"TRACE START",
		entryLine(1, 1, "0.000", "100", "{main}", true, "/app/index.php", 0),
		entryLine(2, 2, "0.010", "100", "strlen", false, "/app/index.php", 3),
		exitLine(2, 2, "0.030", "100"),
		entryLine(2, 3, "0.040", "100", "slow", true, "/app/index.php", 4),
		exitLine(2, 3, "0.060", "100"),
		entryLine(2, 4, "0.070", "100", "fast", true, "/app/index.php", 5),
		exitLine(2, 4, "0.0701", "100"),
		"TRACE END",
	)

	e := New(Options{})
	e.SetFilter(FilterFunc(func(rec *EntryRecord, isEntry bool, _ *Engine) Action {
		if dt, ok := rec.DeltaTime(); !ok || dt < 0.001 {
			return Skip
		}
		return 0
	}), FilterExit)

	result, err := e.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	calls := result.Segments[0].Calls
	if len(calls) != 1 || calls[0].Function != "slow" {
		var names []string
		for _, c := range calls {
			names = append(names, c.Function)
		}
		t.Errorf("expected only slow, got %v", names)
	}
}

func TestDefaultFilter(t *testing.T) {
	tests := []struct {
		name    string
		rec     EntryRecord
		disable func(d *DefaultFilter)
	}{
		{"internal", EntryRecord{Function: "strlen", IsInternal: true}, func(d *DefaultFilter) { d.SkipInternals = false }},
		{"own prefix", EntryRecord{Function: `Panel\XDebugTrace->start`}, func(d *DefaultFilter) { d.SkipOwn = false }},
		{"own file", EntryRecord{Function: "x", Filename: "/lib/XDebugTrace.php"}, func(d *DefaultFilter) { d.SkipOwn = false }},
		{"framework", EntryRecord{Function: `Nette\Object->__get`}, func(d *DefaultFilter) { d.SkipFramework = false }},
		{"callback", EntryRecord{Function: "callback"}, func(d *DefaultFilter) { d.SkipClosures = false }},
		{"closure", EntryRecord{Function: "{closure}"}, func(d *DefaultFilter) { d.SkipClosures = false }},
		{"include", EntryRecord{Function: "include", IncludeFile: "/a.php"}, func(d *DefaultFilter) { d.SkipIncludes = false }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDefaultFilter()
			d.OwnFile = "/lib/XDebugTrace.php"
			rec := tt.rec

			if got := d.Filter(&rec, true, nil); got != Skip {
				t.Errorf("expected Skip, got %v", got)
			}
			tt.disable(d)
			if got := d.Filter(&rec, true, nil); got != 0 {
				t.Errorf("expected no opinion once disabled, got %v", got)
			}
		})
	}

	if got := NewDefaultFilter().Filter(&EntryRecord{Function: `App\run`}, true, nil); got != 0 {
		t.Errorf("user function must pass, got %v", got)
	}
}

func TestSkipInternals(t *testing.T) {
	e := New(Options{})
	e.SkipInternals(false)

	result, err := e.Parse(strings.NewReader(sampleTrace))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, ok := result.Segments[0].Lookup(2); !ok {
		t.Error("strlen must be kept when internals are shown")
	}
}

func TestTraceAll(t *testing.T) {
	e := New(Options{})
	e.TraceAll()

	result, err := e.Parse(strings.NewReader(sampleTrace))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if result.Calls() != 4 {
		t.Errorf("expected every call, got %d", result.Calls())
	}
}

var nestedTrace = traceOf(
	"TRACE START",
	entryLine(1, 1, "0.1", "10", "outer", true, "/a.php", 1),
	entryLine(2, 2, "0.2", "10", "target", true, "/a.php", 2),
	entryLine(3, 3, "0.3", "10", "inner", true, "/a.php", 3),
	exitLine(3, 3, "0.4", "10"),
	entryLine(3, 4, "0.5", "10", "count", false, "/a.php", 4),
	exitLine(3, 4, "0.6", "10"),
	exitLine(2, 2, "0.7", "10"),
	entryLine(2, 5, "0.8", "10", "sibling", true, "/a.php", 5),
	exitLine(2, 5, "0.9", "10"),
	exitLine(1, 1, "1.0", "10"),
	"TRACE END",
)

func functionsOf(result *Result) []string {
	var names []string
	for _, seg := range result.Segments {
		for _, call := range seg.Calls {
			names = append(names, call.Function)
		}
	}
	return names
}

func TestTraceFunction(t *testing.T) {
	tests := []struct {
		name          string
		deep          bool
		showInternals bool
		want          []string
	}{
		{"exact only", false, false, []string{"target"}},
		{"deep", true, false, []string{"target", "inner"}},
		{"deep with internals", true, true, []string{"target", "inner", "count"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(Options{})
			e.TraceFunction("target", tt.deep, tt.showInternals)

			result, err := e.Parse(strings.NewReader(nestedTrace))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if got := functionsOf(result); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestTraceFunction_DeepCounterResetsPerSegment(t *testing.T) {
	input := traceOf(
		"TRACE START",
		entryLine(1, 1, "0.1", "10", "target", true, "/a.php", 1),
		"TRACE START",
		entryLine(1, 1, "0.2", "10", "other", true, "/a.php", 1),
		"TRACE END",
	)

	e := New(Options{})
	e.TraceFunction("target", true, false)
	result, err := e.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := functionsOf(result); !reflect.DeepEqual(got, []string{"target"}) {
		t.Errorf("open match must not leak into the next segment, got %v", got)
	}
}

func TestTraceFunctionPattern(t *testing.T) {
	e := New(Options{})
	if err := e.TraceFunctionPattern(`^(target|sibling)$`, false, false); err != nil {
		t.Fatalf("TraceFunctionPattern failed: %v", err)
	}

	result, err := e.Parse(strings.NewReader(nestedTrace))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := functionsOf(result); !reflect.DeepEqual(got, []string{"target", "sibling"}) {
		t.Errorf("expected [target sibling], got %v", got)
	}

	if err := e.TraceFunctionPattern(`(`, false, false); err == nil {
		t.Error("expected an error for an invalid pattern")
	}
}

func TestTraceMinTime_RemovesShortCalls(t *testing.T) {
	e := New(Options{Statistics: true})
	e.TraceAll()
	if err := e.TraceMinTime("150ms"); err != nil {
		t.Fatalf("TraceMinTime failed: %v", err)
	}

	result, err := e.Parse(strings.NewReader(nestedTrace))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := functionsOf(result); !reflect.DeepEqual(got, []string{"outer", "target"}) {
		t.Errorf("expected [outer target], got %v", got)
	}
	if want := map[int]int{1: 0, 2: 1}; !reflect.DeepEqual(result.Segments[0].Indents, want) {
		t.Errorf("discarded calls must not keep an indentation slot, got %v", result.Segments[0].Indents)
	}
	for _, st := range result.Statistics {
		if st.Function == "inner" {
			t.Error("discarded calls must not reach the statistics")
		}
	}
}

func TestTraceMinTime_RejectsUnterminated(t *testing.T) {
	e := New(Options{})
	if err := e.TraceMinTime("1ms"); err != nil {
		t.Fatal(err)
	}

	result, err := e.Parse(strings.NewReader(sampleTrace))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, ok := result.Segments[0].Lookup(0); ok {
		t.Error("unterminated {main} has no delta and must fail a minimum")
	}
	if result.Calls() != 2 {
		t.Errorf("expected App\\run and App\\helper, got %v", functionsOf(result))
	}
}

func TestTraceMaxTimeAndMemory(t *testing.T) {
	e := New(Options{})
	if err := e.TraceMaxTime("3ms"); err != nil {
		t.Fatal(err)
	}
	if err := e.TraceMaxMemory("0"); err != nil {
		t.Fatal(err)
	}

	result, err := e.Parse(strings.NewReader(sampleTrace))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := functionsOf(result); !reflect.DeepEqual(got, []string{"{main}", `App\helper`}) {
		t.Errorf("expected [{main} App\\helper], got %v", got)
	}
}

func TestTraceMinMemory(t *testing.T) {
	e := New(Options{})
	if err := e.TraceMinMemory("1kB"); err != nil {
		t.Fatal(err)
	}

	result, err := e.Parse(strings.NewReader(sampleTrace))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := functionsOf(result); !reflect.DeepEqual(got, []string{`App\run`}) {
		t.Errorf("expected [App\\run], got %v", got)
	}
}

func TestParseThresholds(t *testing.T) {
	tests := []struct {
		input string
		parse func(string) (float64, error)
		want  float64
	}{
		{"15ms", ParseTime, 0.015},
		{"20kB", ParseMemory, 20480},
		{"2MB", ParseMemory, 2097152},
		{"512B", ParseMemory, 512},
		{"250us", ParseTime, 0.00025},
		{"40ns", ParseTime, 0.00000004},
		{"2s", ParseTime, 2},
		{"0.5", ParseTime, 0.5},
		{"1500", ParseMemory, 1500},
		{" 3 ms ", ParseTime, 0.003},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := tt.parse(tt.input)
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if !approx(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	for _, bad := range []string{"", "fast", "15 parsecs", "10kB"} {
		if _, err := ParseTime(bad); err == nil {
			t.Errorf("expected an error for time threshold %q", bad)
		}
	}
	if got, _ := ParseTime("15ms"); got != 0.015 {
		t.Errorf("15ms must be exactly 0.015, got %v", got)
	}
}

func TestStatistics(t *testing.T) {
	input := traceOf(
		"TRACE START",
		entryLine(1, 1, "0.000", "10", "f", true, "/a.php", 1),
		exitLine(1, 1, "0.002", "10"),
		entryLine(1, 2, "0.010", "10", "g", true, "/a.php", 2),
		exitLine(1, 2, "0.015", "10"),
		entryLine(1, 3, "0.020", "10", "f", true, "/a.php", 1),
		exitLine(1, 3, "0.024", "10"),
		entryLine(1, 4, "0.030", "10", "open", true, "/a.php", 3),
		"TRACE END",
	)

	tests := []struct {
		sortBy SortKey
		want   []string
	}{
		{SortCount, []string{"f", "g"}},
		{SortTotalTime, []string{"f", "g"}},
		{SortAverageTime, []string{"g", "f"}},
	}

	for _, tt := range tests {
		t.Run(tt.sortBy.String(), func(t *testing.T) {
			e := New(Options{Statistics: true, SortBy: tt.sortBy})
			result, err := e.Parse(strings.NewReader(input))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}

			var names []string
			for _, st := range result.Statistics {
				names = append(names, st.Function)
			}
			if !reflect.DeepEqual(names, tt.want) {
				t.Fatalf("expected order %v, got %v", tt.want, names)
			}

			f := result.Statistics[0]
			if f.Function != "f" {
				f = result.Statistics[1]
			}
			if f.Count != 2 || !approx(f.DeltaTime, 0.006) || !approx(f.AverageTime, 0.003) {
				t.Errorf("expected {2 0.006 0.003}, got %+v", f)
			}
		})
	}
}

func TestStatistics_Disabled(t *testing.T) {
	result, err := New(Options{}).Parse(strings.NewReader(sampleTrace))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if result.Statistics != nil {
		t.Errorf("statistics must be nil when disabled, got %v", result.Statistics)
	}
}

func TestStatistics_AcrossSegments(t *testing.T) {
	input := traceOf(
		"TRACE START",
		entryLine(1, 1, "0.0", "10", "f", true, "/a.php", 1),
		exitLine(1, 1, "0.1", "10"),
		"TRACE END",
		"TRACE START",
		entryLine(1, 1, "1.0", "10", "f", true, "/a.php", 1),
		exitLine(1, 1, "1.3", "10"),
		"TRACE END",
	)

	e := New(Options{})
	e.SetStatistics(true, SortCount)
	result, err := e.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(result.Statistics) != 1 || result.Statistics[0].Count != 2 {
		t.Fatalf("expected f counted twice, got %+v", result.Statistics)
	}
	if !approx(result.Statistics[0].AverageTime, 0.2) {
		t.Errorf("expected average 0.2, got %v", result.Statistics[0].AverageTime)
	}
}

func TestParseSortKey(t *testing.T) {
	for input, want := range map[string]SortKey{
		"count":       SortCount,
		"totalTime":   SortTotalTime,
		"averageTime": SortAverageTime,
	} {
		got, err := ParseSortKey(input)
		if err != nil || got != want {
			t.Errorf("ParseSortKey(%q) = %v, %v", input, got, err)
		}
	}
	if _, err := ParseSortKey("memory"); err == nil {
		t.Error("expected an error for an unknown key")
	}
}
