package config

import (
	"fmt"
	"log"

	"xdebugtrace-mcp/internal/xdebug"
)

// Config contains all the settings used to build a trace engine
type Config struct {
	// Default filter settings
	SkipInternals     bool
	SkipOwn           bool
	OwnFile           string
	SkipFramework     bool
	FrameworkPrefixes []string
	SkipClosures      bool
	SkipIncludes      bool

	// Function selection, replaces the default filter when set
	Function      string
	Pattern       string
	Deep          bool
	ShowInternals bool

	// Thresholds, e.g. "15ms" or "2MB"
	MinTime   string
	MaxTime   string
	MinMemory string
	MaxMemory string

	// Statistics settings
	Statistics bool
	SortBy     string

	// Reader settings
	MaxLineLength int
	Placeholder   string

	Logger *log.Logger
}

// NewDefault returns a new default config
func NewDefault() *Config {
	return &Config{
		SkipInternals:     true,
		SkipOwn:           true,
		SkipFramework:     true,
		FrameworkPrefixes: []string{`Nette\`},
		SkipClosures:      true,
		SkipIncludes:      true,
		Statistics:        true,
		SortBy:            "totalTime",
		MaxLineLength:     xdebug.DefaultMaxLineLength,
	}
}

// Engine builds a trace engine with the configured filters applied
func (c *Config) Engine() (*xdebug.Engine, error) {
	sortBy, err := ParseSortKey(c.SortBy)
	if err != nil {
		return nil, err
	}

	e := xdebug.New(xdebug.Options{
		Statistics:    c.Statistics,
		SortBy:        sortBy,
		MaxLineLength: c.MaxLineLength,
		Placeholder:   c.Placeholder,
		Logger:        c.Logger,
	})

	df := e.DefaultFilter()
	df.SkipInternals = c.SkipInternals
	df.SkipOwn = c.SkipOwn
	df.OwnFile = c.OwnFile
	df.SkipFramework = c.SkipFramework
	df.FrameworkPrefixes = c.FrameworkPrefixes
	df.SkipClosures = c.SkipClosures
	df.SkipIncludes = c.SkipIncludes

	switch {
	case c.Function != "" && c.Pattern != "":
		return nil, fmt.Errorf("function and pattern are mutually exclusive")
	case c.Function != "":
		e.TraceFunction(c.Function, c.Deep, c.ShowInternals)
	case c.Pattern != "":
		if err := e.TraceFunctionPattern(c.Pattern, c.Deep, c.ShowInternals); err != nil {
			return nil, err
		}
	}

	thresholds := []struct {
		value string
		apply func(string) error
	}{
		{c.MinTime, e.TraceMinTime},
		{c.MaxTime, e.TraceMaxTime},
		{c.MinMemory, e.TraceMinMemory},
		{c.MaxMemory, e.TraceMaxMemory},
	}
	for _, th := range thresholds {
		if th.value == "" {
			continue
		}
		if err := th.apply(th.value); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// ParseSortKey maps a sort key name to the statistics ordering
func ParseSortKey(s string) (xdebug.SortKey, error) {
	key, err := xdebug.ParseSortKey(s)
	if err != nil {
		return 0, fmt.Errorf("invalid sort key: %w", err)
	}
	return key, nil
}
