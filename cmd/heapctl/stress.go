package main

import (
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/joshuapare/heapkit/stdalloc"
)

var (
	stressWorkers int
	stressOps     int
	stressMaxSize int
	stressSeed    int64
	stressRelease bool
)

func init() {
	cmd := newStressCmd()
	cmd.Flags().IntVarP(&stressWorkers, "workers", "w", runtime.NumCPU(), "Number of concurrent workers")
	cmd.Flags().IntVarP(&stressOps, "ops", "n", 10000, "Operations per worker")
	cmd.Flags().IntVar(&stressMaxSize, "max-size", 4096, "Largest request size in bytes")
	cmd.Flags().Int64Var(&stressSeed, "seed", 1, "Random seed (worker i uses seed+i)")
	cmd.Flags().BoolVar(&stressRelease, "release", true, "Release empty blocks after the run")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run a concurrent alloc/free/realloc workload",
		Long: `The stress command runs a random mix of Alloc, Free and ReAlloc calls
from a pool of workers against one allocator. Every allocation is filled with a
pattern that is checked before it is freed or resized, and the block invariants
are verified at the end.

Example:
  heapctl stress
  heapctl stress --workers 16 --ops 50000 --max-size 65536
  heapctl stress --config heap.toml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress()
		},
	}
	return cmd
}

type stressOptions struct {
	Workers int
	Ops     int
	MaxSize int
	Seed    int64
	Release bool
}

type stressResult struct {
	Workers   int            `json:"workers"`
	Ops       int            `json:"ops"`
	Elapsed   time.Duration  `json:"elapsed_ns"`
	OpsPerSec float64        `json:"ops_per_sec"`
	Released  int            `json:"released"`
	Stats     stdalloc.Stats `json:"stats"`
}

func runStress() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := stdalloc.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create allocator: %w", err)
	}

	printVerbose("Running %d workers x %d ops, sizes 1..%d\n", stressWorkers, stressOps, stressMaxSize)
	res, err := stress(a, stressOptions{
		Workers: stressWorkers,
		Ops:     stressOps,
		MaxSize: stressMaxSize,
		Seed:    stressSeed,
		Release: stressRelease,
	})
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(res)
	}
	printInfo("\nStress run:\n")
	printInfo("  Workers:       %d\n", res.Workers)
	printInfo("  Operations:    %d\n", res.Ops)
	printInfo("  Elapsed:       %s\n", res.Elapsed.Round(time.Microsecond))
	printInfo("  Throughput:    %d ops/s\n", int64(res.OpsPerSec))
	printInfo("  Released:      %d blocks\n", res.Released)
	printStats(res.Stats)
	return nil
}

func stress(a *stdalloc.Allocator, o stressOptions) (stressResult, error) {
	if o.Workers <= 0 || o.Ops < 0 || o.MaxSize <= 0 {
		return stressResult{}, fmt.Errorf("invalid stress options: %+v", o)
	}

	var (
		mu   sync.Mutex
		errs error
	)
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = multierr.Append(errs, err)
		mu.Unlock()
	}

	pool, err := ants.NewPool(o.Workers, ants.WithPanicHandler(func(v any) {
		record(fmt.Errorf("worker panic: %v", v))
	}))
	if err != nil {
		return stressResult{}, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	start := time.Now()
	var wg sync.WaitGroup
	for w := range o.Workers {
		wg.Add(1)
		seed := o.Seed + int64(w)
		if err := pool.Submit(func() {
			defer wg.Done()
			record(stressWorker(a, seed, o.Ops, o.MaxSize))
		}); err != nil {
			wg.Done()
			record(err)
		}
	}
	wg.Wait()
	elapsed := time.Since(start)

	if errs != nil {
		return stressResult{}, errs
	}
	if err := a.VerifyBlocks(); err != nil {
		return stressResult{}, fmt.Errorf("heap corrupted after stress run: %w", err)
	}
	if n := a.GetTotalAllocatedSize(); n != 0 {
		return stressResult{}, fmt.Errorf("%d bytes still allocated after every worker freed its blocks", n)
	}

	res := stressResult{
		Workers: o.Workers,
		Ops:     o.Workers * o.Ops,
		Elapsed: elapsed,
	}
	if elapsed > 0 {
		res.OpsPerSec = float64(res.Ops) / elapsed.Seconds()
	}
	if o.Release {
		res.Released = a.ReleaseEmptyHeaps()
	}
	res.Stats = a.Stats()
	return res, nil
}

type held struct {
	p    stdalloc.Ptr
	n    int
	seed byte
}

func stressWorker(a *stdalloc.Allocator, seed int64, ops, maxSize int) error {
	rng := rand.New(rand.NewSource(seed))
	var live []held

	for i := range ops {
		switch op := rng.Intn(10); {
		case op < 5 || len(live) == 0:
			n := 1 + rng.Intn(maxSize)
			align := stdalloc.MinAlign
			if rng.Intn(4) == 0 {
				align = stdalloc.DoubleAlign
			}
			p, err := a.Alloc(n, align)
			if err != nil {
				return fmt.Errorf("alloc %d: %w", n, err)
			}
			h := held{p: p, n: n, seed: byte(i)}
			if err := fillPattern(a, h); err != nil {
				return err
			}
			live = append(live, h)
		case op < 8:
			j := rng.Intn(len(live))
			h := live[j]
			if err := checkPattern(a, h, h.n); err != nil {
				return err
			}
			if err := a.Free(h.p); err != nil {
				return fmt.Errorf("free 0x%X: %w", uint64(h.p), err)
			}
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
		default:
			j := rng.Intn(len(live))
			h := live[j]
			n := 1 + rng.Intn(maxSize)
			np, err := a.ReAlloc(h.p, n)
			if err != nil {
				return fmt.Errorf("realloc 0x%X to %d: %w", uint64(h.p), n, err)
			}
			moved := held{p: np, n: h.n, seed: h.seed}
			if err := checkPattern(a, moved, min(h.n, n)); err != nil {
				return err
			}
			live[j] = held{p: np, n: n, seed: byte(i)}
			if err := fillPattern(a, live[j]); err != nil {
				return err
			}
		}
	}

	for _, h := range live {
		if err := checkPattern(a, h, h.n); err != nil {
			return err
		}
		if err := a.Free(h.p); err != nil {
			return fmt.Errorf("free 0x%X: %w", uint64(h.p), err)
		}
	}
	return nil
}

func fillPattern(a *stdalloc.Allocator, h held) error {
	b, err := a.Bytes(h.p, h.n)
	if err != nil {
		return err
	}
	for i := range b {
		b[i] = h.seed + byte(i)
	}
	return nil
}

func checkPattern(a *stdalloc.Allocator, h held, n int) error {
	b, err := a.Bytes(h.p, n)
	if err != nil {
		return err
	}
	for i := range b {
		if b[i] != h.seed+byte(i) {
			return fmt.Errorf("0x%X: byte %d is %d, want %d", uint64(h.p), i, b[i], h.seed+byte(i))
		}
	}
	return nil
}
