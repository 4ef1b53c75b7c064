package xdebug

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

const (
	versionPrefix = "Version: 2."
	formatPrefix  = "File format: 2"
	startPrefix   = "TRACE START"
	endPrefix     = "TRACE END"
)

// ParseFile opens a trace file and parses it. Compressed and zipped traces are
// accepted as well.
func (e *Engine) ParseFile(path string) (*Result, error) {
	src, err := openSource(path)
	if err != nil {
		return nil, &ParseError{Kind: ErrSourceUnavailable, Message: "Cannot open trace file", Path: path, Err: err}
	}
	defer src.Close()

	result, err := e.Parse(src)
	var perr *ParseError
	if errors.As(err, &perr) {
		perr.Path = path
	}
	return result, err
}

// Parse reads a complete trace from r.
func (e *Engine) Parse(r io.Reader) (*Result, error) {
	lr := newLineReader(r, e.opts.MaxLineLength, len(e.opts.Placeholder)+1)

	// The source must hold more than the placeholder written before tracing.
	if _, err := lr.br.Peek(len(e.opts.Placeholder) + 1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, newParseError(ErrEmptySource, "Trace file is empty", nil)
		}
		return nil, newParseError(ErrSourceUnavailable, "Cannot read trace file", err)
	}

	if err := expectHeader(lr, versionPrefix, "Trace file version line mismatch"); err != nil {
		return nil, err
	}
	if err := expectHeader(lr, formatPrefix, "Trace file format line mismatch"); err != nil {
		return nil, err
	}

	c := newCorrelator(e)
	skipped := 0
	lineNo := 2
	for {
		line, err := lr.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, newParseError(ErrSourceUnavailable, "Cannot read trace file", err)
		}
		lineNo++

		switch {
		case strings.HasPrefix(line, startPrefix):
			c.openSegment()
		case strings.HasPrefix(line, endPrefix):
			c.closeSegment()
		case c.isOpen():
			if line == "" {
				continue
			}
			rec, err := ParseLine(line)
			if errors.Is(err, ErrSummaryLine) {
				continue
			}
			if err != nil {
				skipped++
				e.logf("xdebug: skipping line %d: %v", lineNo, err)
				continue
			}
			c.add(rec)
		}
	}

	result := c.result()
	result.SkippedLines = skipped
	return result, nil
}

func expectHeader(lr *lineReader, prefix, message string) error {
	line, err := lr.next()
	if err != nil && !errors.Is(err, io.EOF) {
		return newParseError(ErrSourceUnavailable, "Cannot read trace file", err)
	}
	if !strings.HasPrefix(line, prefix) {
		return newParseError(ErrMalformedHeader, message, nil)
	}
	return nil
}

// lineReader returns lines without their terminator, cut to limit bytes.
type lineReader struct {
	br    *bufio.Reader
	limit int
}

func newLineReader(r io.Reader, limit, peek int) *lineReader {
	size := limit + 2
	if peek > size {
		size = peek
	}
	return &lineReader{br: bufio.NewReaderSize(r, size), limit: limit}
}

// next returns io.EOF only when no further line exists.
func (lr *lineReader) next() (string, error) {
	var sb strings.Builder
	read := false
	for {
		chunk, isPrefix, err := lr.br.ReadLine()
		if err != nil {
			if read && errors.Is(err, io.EOF) {
				return sb.String(), nil
			}
			return sb.String(), err
		}
		read = true

		if room := lr.limit - sb.Len(); room > 0 {
			if len(chunk) > room {
				chunk = chunk[:room]
			}
			sb.Write(chunk)
		}
		if !isPrefix {
			return sb.String(), nil
		}
	}
}
