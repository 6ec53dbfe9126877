package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/heapkit/internal/logger"
	"github.com/joshuapare/heapkit/stdalloc"
)

var (
	// Global flags
	verbose    bool
	quiet      bool
	jsonOut    bool
	configPath string
	backend    string
)

// numbers formats counts and byte sizes with digit grouping.
var numbers = message.NewPrinter(language.English)

var rootCmd = &cobra.Command{
	Use:   "heapctl",
	Short: "Exercise and inspect the heapkit allocator",
	Long: `heapctl drives the heapkit allocator from the command line. It runs
concurrent stress workloads, checks the reference scenarios, and prints JSON
maps of the backing blocks.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", "", "Allocator config file (TOML)")
	rootCmd.PersistentFlags().
		StringVar(&backend, "backend", "", "Override the OS heap backend (default, mmap, filemap, go)")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the allocator config from --config, the environment and
// --backend, and installs the logger it describes.
func loadConfig() (stdalloc.Config, error) {
	var (
		cfg stdalloc.Config
		err error
	)
	if configPath != "" {
		cfg, err = stdalloc.LoadConfig(configPath)
		if err != nil {
			return stdalloc.Config{}, err
		}
	} else {
		cfg = stdalloc.DefaultConfig()
		if err := cfg.ApplyEnv(); err != nil {
			return stdalloc.Config{}, err
		}
	}
	if backend != "" {
		cfg.Backend = backend
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return stdalloc.Config{}, err
	}
	if verbose || cfg.Log.Filename != "" || cfg.Log.Level != "" {
		if err := logger.Init(cfg.Log); err != nil {
			return stdalloc.Config{}, err
		}
	}
	return cfg, nil
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		numbers.Fprintf(os.Stdout, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose && !quiet {
		numbers.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// printStats prints the allocator counters in text form.
func printStats(st stdalloc.Stats) {
	printInfo("  Blocks:        %d small, %d general\n", st.SmallBlocks, st.GeneralBlocks)
	printInfo("  Backing:       %d bytes\n", st.BackingBytes)
	printInfo("  Allocated:     %d bytes\n", st.AllocatedBytes)
	printInfo("  Free:          %d bytes\n", st.FreeBytes)
	printInfo("  Calls:         %d alloc, %d free, %d realloc\n", st.AllocCalls, st.FreeCalls, st.ReAllocCalls)
	printInfo("  Routed:        %d small, %d general\n", st.SmallAllocs, st.GeneralAllocs)
	printInfo("  Cross moves:   %d\n", st.CrossMoves)
	printInfo("  Grows:         %d (%d bytes, %d refused)\n", st.Grows, st.GrowBytes, st.GrowFailures)
	printInfo("  Releases:      %d\n", st.Releases)
	printVerbose("  Splits:        %d\n", st.General.Splits)
	printVerbose("  Absorbs:       %d\n", st.General.Absorbs)
	printVerbose("  Coalesces:     %d forward, %d backward\n", st.General.CoalesceForward, st.General.CoalesceBackward)
	printVerbose("  Probes:        %d\n", st.General.Probes)
	printVerbose("  Fix-ups:       %d\n", st.General.FixUps)
}
