package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/heapkit/stdalloc"
)

func init() {
	rootCmd.AddCommand(newScenariosCmd())
}

func newScenariosCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "Check the reference allocation scenarios",
		Long: `The scenarios command runs the reference scenarios against fresh
allocators built from the current config: distinct allocations, exhaustion of a
fixed heap, shrink in place, emptiness after free, and growth.

Example:
  heapctl scenarios
  heapctl scenarios --backend go --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioCmd()
		},
	}
	return cmd
}

type scenario struct {
	Name        string
	Description string
	Run         func(base stdalloc.Config) error
}

type scenarioResult struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Passed      bool   `json:"passed"`
	Error       string `json:"error,omitempty"`
}

var scenarios = []scenario{
	{
		Name:        "A",
		Description: "two allocations are distinct; a freed slot can be reused",
		Run: func(base stdalloc.Config) error {
			a, err := stdalloc.New(base)
			if err != nil {
				return err
			}
			p1, err := a.Alloc(64, stdalloc.MinAlign)
			if err != nil {
				return err
			}
			p2, err := a.Alloc(64, stdalloc.MinAlign)
			if err != nil {
				return err
			}
			lo, hi := min(p1, p2), max(p1, p2)
			if p1 == 0 || p2 == 0 || hi-lo < 64 {
				return fmt.Errorf("overlapping allocations 0x%X and 0x%X", uint64(p1), uint64(p2))
			}
			if err := a.Free(p1); err != nil {
				return err
			}
			_, err = a.Alloc(64, stdalloc.MinAlign)
			return err
		},
	},
	{
		Name:        "B",
		Description: "a 1 KiB non-growable heap refuses 1,000,000 bytes",
		Run: func(base stdalloc.Config) error {
			cfg := base
			cfg.InitialSize = 1024
			cfg.Growable = false
			a, err := stdalloc.New(cfg)
			if err != nil {
				return err
			}
			p, err := a.Alloc(1_000_000, stdalloc.MinAlign)
			if !errors.Is(err, stdalloc.ErrNoSpace) || p != 0 {
				return fmt.Errorf("got 0x%X, %v; want ErrNoSpace", uint64(p), err)
			}
			return nil
		},
	},
	{
		Name:        "C",
		Description: "shrinking 100 bytes to 50 keeps the pointer",
		Run: func(base stdalloc.Config) error {
			cfg := base
			cfg.StrictDebug = true
			a, err := stdalloc.New(cfg)
			if err != nil {
				return err
			}
			p, err := a.Alloc(100, stdalloc.MinAlign)
			if err != nil {
				return err
			}
			np, err := a.ReAlloc(p, 50)
			if err != nil {
				return err
			}
			if np != p {
				return fmt.Errorf("pointer moved from 0x%X to 0x%X", uint64(p), uint64(np))
			}
			return nil
		},
	},
	{
		Name:        "D",
		Description: "two 16-byte allocations freed leave the heap empty",
		Run: func(base stdalloc.Config) error {
			a, err := stdalloc.New(base)
			if err != nil {
				return err
			}
			p1, err := a.Alloc(16, stdalloc.MinAlign)
			if err != nil {
				return err
			}
			p2, err := a.Alloc(16, stdalloc.MinAlign)
			if err != nil {
				return err
			}
			if err := a.Free(p1); err != nil {
				return err
			}
			if err := a.Free(p2); err != nil {
				return err
			}
			if n := a.GetTotalAllocatedSize(); n != 0 {
				return fmt.Errorf("%d bytes still allocated", n)
			}
			return a.Clear()
		},
	},
	{
		Name:        "E",
		Description: "a request larger than the initial block grows the heap",
		Run: func(base stdalloc.Config) error {
			cfg := base
			cfg.InitialSize = 4096
			cfg.Growable = true
			a, err := stdalloc.New(cfg)
			if err != nil {
				return err
			}
			const big = 1 << 20
			if _, err := a.Alloc(big, stdalloc.MinAlign); err != nil {
				return err
			}
			st := a.Stats()
			if st.GeneralBlocks < 2 || a.GetTotalAllocatedSize() < big {
				return fmt.Errorf("no growth: %d general blocks, %d bytes allocated",
					st.GeneralBlocks, a.GetTotalAllocatedSize())
			}
			return a.VerifyBlocks()
		},
	},
}

func runScenarios(base stdalloc.Config) []scenarioResult {
	results := make([]scenarioResult, 0, len(scenarios))
	for _, s := range scenarios {
		r := scenarioResult{Name: s.Name, Description: s.Description, Passed: true}
		if err := s.Run(base); err != nil {
			r.Passed = false
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	return results
}

func runScenarioCmd() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	results := runScenarios(cfg)

	failed := 0
	for _, r := range results {
		if !r.Passed {
			failed++
		}
	}

	if jsonOut {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		printInfo("\nScenarios:\n")
		for _, r := range results {
			mark := "✓"
			if !r.Passed {
				mark = "✗"
			}
			printInfo("  %s %s: %s\n", mark, r.Name, r.Description)
			if !r.Passed {
				printInfo("      %s\n", r.Error)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(results))
	}
	return nil
}
