package xdebug

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const evalSuffix = "eval()'d code"

var evalRegex = regexp.MustCompile(`^(.*)\(([0-9]+)\) : eval\(\)'d code$`)

// ParseLine converts one tab separated data line into a Record.
//
// Entry lines carry at least 10 fields (level, id, 0, time, memory, function,
// user-defined flag, include file, filename, line); further parameter columns are
// ignored. Exit lines carry 5 fields (level, id, 1, time, memory). A 5 field line
// with an empty level is the summary line written before TRACE END and yields
// ErrSummaryLine.
func ParseLine(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	cols := strings.Split(line, "\t")

	if len(cols) == 5 && cols[0] == "" {
		return nil, ErrSummaryLine
	}

	ev := Event{
		Level:  atoi(cols[0]),
		Time:   atof(colAt(cols, 3)),
		Memory: atof(colAt(cols, 4)),
	}
	ev.ID = int64(atof(colAt(cols, 1)))

	isEntry := atoi(colAt(cols, 2)) == 0
	switch {
	case isEntry && len(cols) >= 10:
		rec := &EntryRecord{
			Event:       ev,
			Function:    cols[5],
			IsInternal:  atoi(cols[6]) == 0,
			IncludeFile: cols[7],
			Filename:    cols[8],
			Line:        atoi(cols[9]),
		}
		decorateEval(rec)
		return rec, nil
	case !isEntry && len(cols) == 5:
		return &ExitRecord{Event: ev}, nil
	}

	return nil, fmt.Errorf("%w: %d fields", ErrMalformedLine, len(cols))
}

// decorateEval replaces "<file>(<line>) : eval()'d code" call sites with the real
// file and line. When the pattern does not match the filename is left as is.
func decorateEval(rec *EntryRecord) {
	if !strings.HasSuffix(rec.Filename, evalSuffix) {
		return
	}

	rec.EvalInfo = fmt.Sprintf("- eval()'d code (%d)", rec.Line)
	if m := evalRegex.FindStringSubmatch(rec.Filename); m != nil {
		rec.Filename = m[1]
		rec.Line = atoi(m[2])
	}
}

func colAt(cols []string, i int) string {
	if i < len(cols) {
		return cols[i]
	}
	return ""
}

// atoi parses permissively, anything unparsable is 0.
func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return int(atof(s))
	}
	return n
}

func atof(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
