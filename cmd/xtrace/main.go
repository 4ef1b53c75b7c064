package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"xdebugtrace-mcp/internal/analyzer"
	"xdebugtrace-mcp/internal/config"
	"xdebugtrace-mcp/internal/export"
	"xdebugtrace-mcp/internal/xdebug"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "xtrace",
		Short:         "Inspect XDebug computerized trace files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("function", "", "Show only calls of this function.")
	rootCmd.PersistentFlags().String("pattern", "", "Show only calls of functions matching this regular expression.")
	rootCmd.PersistentFlags().Bool("deep", false, "With --function or --pattern, also show calls nested inside the matches.")
	rootCmd.PersistentFlags().String("min-time", "", "Hide calls faster than this, e.g. 15ms.")
	rootCmd.PersistentFlags().String("max-time", "", "Hide calls slower than this.")
	rootCmd.PersistentFlags().String("min-memory", "", "Hide calls allocating less than this, e.g. 20kB.")
	rootCmd.PersistentFlags().String("max-memory", "", "Hide calls allocating more than this.")
	rootCmd.PersistentFlags().Bool("internals", false, "Show interpreter functions.")
	rootCmd.PersistentFlags().String("sort", "totalTime", "Statistics ordering: totalTime, count or averageTime.")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log skipped trace lines to stderr.")

	statsCmd := &cobra.Command{
		Use:   "stats <file>",
		Short: "Print per-function statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := load(cmd, args[0])
			if err != nil {
				return err
			}

			limit, _ := cmd.Flags().GetInt("limit")
			table := result.Statistics
			if limit > 0 && limit < len(table) {
				table = table[:limit]
			}

			rows := make([][]string, 0, len(table))
			for _, st := range table {
				rows = append(rows, []string{
					st.Function,
					strconv.Itoa(st.Count),
					analyzer.FormatTime(st.DeltaTime, 3),
					analyzer.FormatTime(st.AverageTime, 3),
				})
			}

			tw := tablewriter.NewWriter(cmd.OutOrStdout())
			tw.SetAlignment(tablewriter.ALIGN_LEFT)
			tw.SetHeader([]string{"Function", "Calls", "Total Time", "Average Time"})
			tw.AppendBulk(rows)
			tw.Render()

			stats := analyzer.ComputeStatistics(result)
			fmt.Fprintf(cmd.OutOrStdout(), "%d segments, %d calls, %d unterminated, %d skipped lines\n",
				stats.Segments, stats.TotalCalls, stats.UnterminatedCalls, stats.SkippedLines)
			return nil
		},
	}
	statsCmd.Flags().IntP("limit", "n", 20, "Number of functions to print, 0 for all.")

	treeCmd := &cobra.Command{
		Use:   "tree <file>",
		Short: "Print the call tree of every segment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := load(cmd, args[0])
			if err != nil {
				return err
			}

			depth, _ := cmd.Flags().GetInt("depth")
			for i, seg := range result.Segments {
				fmt.Fprintf(cmd.OutOrStdout(), "== segment %d ==\n", i+1)
				fmt.Fprint(cmd.OutOrStdout(), analyzer.FormatCallTree(analyzer.BuildCallTree(seg), depth))
			}
			return nil
		},
	}
	treeCmd.Flags().Int("depth", 0, "Maximum depth to print, 0 for unlimited.")

	pprofCmd := &cobra.Command{
		Use:   "pprof <file>",
		Short: "Convert the retained calls to a pprof profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")

			result, err := load(cmd, args[0])
			if err != nil {
				return err
			}

			return writeProfile(out, result)
		},
	}
	pprofCmd.Flags().StringP("out", "o", "trace.pb.gz", "The file to write the profile to.")

	rootCmd.AddCommand(statsCmd, treeCmd, pprofCmd)
	return rootCmd
}

// load parses path with the filters selected on the command line.
func load(cmd *cobra.Command, path string) (*xdebug.Result, error) {
	flags := cmd.Flags()

	cfg := config.NewDefault()
	cfg.Function, _ = flags.GetString("function")
	cfg.Pattern, _ = flags.GetString("pattern")
	cfg.Deep, _ = flags.GetBool("deep")
	cfg.MinTime, _ = flags.GetString("min-time")
	cfg.MaxTime, _ = flags.GetString("max-time")
	cfg.MinMemory, _ = flags.GetString("min-memory")
	cfg.MaxMemory, _ = flags.GetString("max-memory")
	cfg.SortBy, _ = flags.GetString("sort")

	internals, _ := flags.GetBool("internals")
	cfg.ShowInternals = internals
	cfg.SkipInternals = !internals

	if verbose, _ := flags.GetBool("verbose"); verbose {
		cfg.Logger = log.New(cmd.ErrOrStderr(), "xtrace: ", 0)
	}

	engine, err := cfg.Engine()
	if err != nil {
		return nil, err
	}
	return engine.ParseFile(path)
}

// writeProfile writes the pprof profile of result to path. Nothing is left at
// path when the profile cannot be written.
func writeProfile(path string, result *xdebug.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	err = export.WritePprof(f, result)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return err
	}
	return nil
}
