package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/satriahrh/cocoa-fruit/primeworks/adapters/hasher"
	"github.com/satriahrh/cocoa-fruit/primeworks/adapters/sieve"
	"github.com/satriahrh/cocoa-fruit/primeworks/adapters/store"
	"github.com/satriahrh/cocoa-fruit/primeworks/config"
	"github.com/satriahrh/cocoa-fruit/primeworks/usecase"
)

var (
	primesChunkSize int
	primesAll       bool
)

func init() {
	rootCmd.AddCommand(primesCmd)
	rootCmd.AddCommand(hashCmd)

	primesCmd.Flags().IntVarP(&primesChunkSize, "chunk-size", "c", 0, "Sieve positions per chunk (default: PRIMES_CHUNK_SIZE)")
	primesCmd.Flags().BoolVarP(&primesAll, "all", "a", false, "Print every prime instead of the preview")
}

var primesCmd = &cobra.Command{
	Use:   "primes <bound>",
	Short: "Compute every prime up to bound",
	Long: `Runs the sieve locally and prints the count, the SHA-256 digest of the
sequence and a preview of the first primes. Ctrl-C cancels between chunks.

Example:
  primeworks primes 100
  primeworks primes 1000000 --chunk-size 65536
  primeworks primes 50 --all`,
	Args: cobra.ExactArgs(1),
	RunE: runPrimes,
}

var hashCmd = &cobra.Command{
	Use:   "hash <text>",
	Short: "Print the SHA-256 digest of text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := usecase.NewHashService(hasher.New())
		digest, err := svc.Hash(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), digest)
		return nil
	},
}

func runPrimes(cmd *cobra.Command, args []string) error {
	bound, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("bound must be an integer: %q", args[0])
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return printPrimes(ctx, cmd, cfg, bound)
}

func printPrimes(ctx context.Context, cmd *cobra.Command, cfg config.Config, bound int) error {
	svc := usecase.NewPrimeService(
		sieve.New(sieve.Config{MaxBound: cfg.MaxBound, DefaultChunkSize: cfg.ChunkSize}),
		hasher.New(), nil, store.Nop{},
		usecase.PrimeServiceConfig{MemoryBudget: cfg.MemoryBudget},
	)

	start := time.Now()
	job, err := svc.Generate(ctx, bound, primesChunkSize)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "bound:   %d\n", job.Bound)
	fmt.Fprintf(out, "count:   %d\n", job.Count)
	fmt.Fprintf(out, "digest:  %s\n", job.Digest)
	fmt.Fprintf(out, "elapsed: %s\n", time.Since(start).Round(time.Microsecond))
	if primesAll {
		values := make([]string, len(job.Primes))
		for i, p := range job.Primes {
			values[i] = strconv.Itoa(p)
		}
		fmt.Fprintln(out, strings.Join(values, "\n"))
		return nil
	}
	fmt.Fprintf(out, "primes:  %s\n", usecase.Preview(job.Primes, usecase.PreviewLimit))
	return nil
}
