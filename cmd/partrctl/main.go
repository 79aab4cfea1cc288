// Command partrctl is a small demo CLI for the partr scheduler: it
// spawns a fixed worker pool and runs one of a few canned workloads
// against it, printing the result.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-foundations/partr"
	"github.com/spf13/cobra"
)

var (
	numThreads int
	timeout    time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "partrctl",
		Short: "Exercise the partr cooperative task scheduler",
		Long: `partrctl starts a partr Scheduler and drives a canned workload
against it, for manual inspection and benchmarking.`,
	}
	rootCmd.PersistentFlags().IntVar(&numThreads, "threads", 4, "worker count")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "workload timeout")

	rootCmd.AddCommand(spawnCmd())
	rootCmd.AddCommand(sumCmd())
	rootCmd.AddCommand(pingCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newScheduler(ctx context.Context) *partr.Scheduler {
	sched := partr.New(partr.DefaultConfig(numThreads))
	sched.Start(ctx)
	return sched
}

func spawnCmd() *cobra.Command {
	var arg string
	cmd := &cobra.Command{
		Use:   "spawn",
		Short: "Spawn a single task and wait for its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			sched := newScheduler(ctx)
			defer sched.Shutdown()

			t, err := sched.Spawn(func(h *partr.Handle, args any) (any, error) {
				return fmt.Sprintf("spawned task says: %s", args.(string)), nil
			}, arg, partr.SpawnOpts{})
			if err != nil {
				return fmt.Errorf("spawn: %w", err)
			}

			result, err := sched.Sync(ctx, t)
			if err != nil {
				return fmt.Errorf("spawn: %w", err)
			}
			fmt.Println(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&arg, "arg", "hello", "argument passed to the spawned task")
	return cmd
}

func sumCmd() *cobra.Command {
	var n int
	var grains int
	cmd := &cobra.Command{
		Use:   "sum",
		Short: "Sum [0,n) using a reduced grain family",
		RunE: func(cmd *cobra.Command, args []string) error {
			if grains <= 0 {
				grains = numThreads
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			sched := newScheduler(ctx)
			defer sched.Shutdown()

			start := time.Now()
			parent, err := sched.SpawnMulti(grains, func(h *partr.Handle, start, end int) (any, error) {
				// Grain [start,end) of [0,grains) covers the matching
				// share of [0,n).
				lo, hi := start*n/grains, end*n/grains
				partial := 0
				for i := lo; i < hi; i++ {
					partial += i
				}
				return partial, nil
			}, partr.Reducer{
				Combine: func(a, b any) (any, error) { return a.(int) + b.(int), nil },
			}, partr.SpawnOpts{})
			if err != nil {
				return fmt.Errorf("sum: %w", err)
			}

			result, err := sched.Sync(ctx, parent)
			if err != nil {
				return fmt.Errorf("sum: %w", err)
			}
			fmt.Printf("sum(0..%d) over %d grains = %v (%s)\n", n, grains, result, time.Since(start))
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 1_000_000, "upper bound of the summed range")
	cmd.Flags().IntVar(&grains, "grains", 0, "grain count (default: worker count)")
	return cmd
}

func pingCmd() *cobra.Command {
	var rounds int
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Notify a condition that a spawned task is waiting on",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			sched := newScheduler(ctx)
			defer sched.Shutdown()

			for i := 0; i < rounds; i++ {
				cond := partr.NewCondition()
				t, err := sched.Spawn(func(h *partr.Handle, args any) (any, error) {
					h.Wait(cond)
					return "pong", nil
				}, nil, partr.SpawnOpts{})
				if err != nil {
					return fmt.Errorf("ping round %d: %w", i, err)
				}

				sched.Notify(cond)
				result, err := sched.Sync(ctx, t)
				if err != nil {
					return fmt.Errorf("ping round %d: %w", i, err)
				}
				fmt.Printf("round %d: %v\n", i, result)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&rounds, "rounds", 3, "number of ping/notify rounds to run")
	return cmd
}
