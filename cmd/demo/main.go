package main

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KanavDutta/bitflip/client"
	"github.com/KanavDutta/bitflip/core"
)

var (
	serverURL string
	clients   int
	flips     int
	batchSize int
	rps       float64

	rootCmd = &cobra.Command{
		Use:   "bitflip-demo",
		Short: "Drive concurrent flips against a bitflip server and verify the result",
		Long: `bitflip-demo picks distinct random indices, toggles each exactly once
from many concurrent clients, then checks that the snapshot differs from
the starting snapshot in exactly those bits. Run it against an otherwise
idle server.`,
		SilenceUsage: true,
		RunE:         run,
	}
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&serverURL, "url", "http://localhost:8080", "server base URL")
	flags.IntVar(&clients, "clients", 16, "concurrent clients")
	flags.IntVar(&flips, "flips", 10_000, "distinct bits to toggle")
	flags.IntVar(&batchSize, "batch", 1, "indices per request; 1 uses POST /flip/{index}")
	flags.Float64Var(&rps, "rps", 0, "request rate cap across all clients, 0 means unlimited")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	if clients < 1 || batchSize < 1 || flips < 0 {
		return errors.New("clients and batch must be positive, flips must not be negative")
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	var opts []client.Option
	if rps > 0 {
		opts = append(opts, client.WithRateLimit(rps, clients))
	}
	c := client.New(serverURL, opts...)

	health, err := c.Health(ctx)
	if err != nil {
		return fmt.Errorf("server not reachable: %w", err)
	}
	if uint(flips) > health.Length {
		return fmt.Errorf("cannot toggle %d distinct bits in a vector of %d", flips, health.Length)
	}

	before, err := c.Snapshot(ctx)
	if err != nil {
		return err
	}

	indices := pickDistinct(health.Length, flips)
	logger.Info("starting", "url", serverURL, "length", health.Length, "flips", flips, "clients", clients, "batch", batchSize)

	var requests atomic.Int64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < clients; w++ {
		share := indices[w*len(indices)/clients : (w+1)*len(indices)/clients]
		g.Go(func() error {
			for len(share) > 0 {
				n := min(batchSize, len(share))
				var err error
				if batchSize == 1 {
					err = c.Flip(gctx, share[0])
				} else {
					err = c.FlipBits(gctx, share[:n])
				}
				if err != nil {
					return err
				}
				requests.Add(1)
				share = share[n:]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	after, err := c.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := verify(before, after, indices); err != nil {
		return err
	}

	logger.Info("verified",
		"requests", requests.Load(),
		"elapsed", elapsed.Round(time.Millisecond),
		"req_per_sec", fmt.Sprintf("%.0f", float64(requests.Load())/elapsed.Seconds()),
		"set_bits", after.Count(),
	)
	return nil
}

// pickDistinct returns n distinct indices below length in random order.
func pickDistinct(length uint, n int) []uint {
	seen := make(map[uint]struct{}, n)
	out := make([]uint, 0, n)
	for len(out) < n {
		i := uint(rand.Uint64N(uint64(length)))
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	return out
}

// verify checks that after differs from before in exactly the toggled bits.
func verify(before, after *core.Snapshot, toggled []uint) error {
	if before.Len() != after.Len() {
		return fmt.Errorf("length changed from %d to %d", before.Len(), after.Len())
	}
	expected := make(map[uint]struct{}, len(toggled))
	for _, i := range toggled {
		expected[i] = struct{}{}
	}
	for i := uint(0); i < after.Len(); i++ {
		_, want := expected[i]
		if got := before.Test(i) != after.Test(i); got != want {
			return fmt.Errorf("bit %d: toggled=%t, expected toggled=%t", i, got, want)
		}
	}
	return nil
}
