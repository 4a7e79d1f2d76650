package commands

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/nexus/pkg/registry"
	"github.com/marmos91/nexus/pkg/rpcengine"
	"github.com/marmos91/nexus/pkg/transport/transporttest"
	"github.com/spf13/cobra"
)

var (
	benchRequests int
	benchWindow   int
	benchDropPct  float64
	benchPayload  int
	benchTimeout  time.Duration
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run the packet-loss/retransmission benchmark scenario in-process",
	Long: `bench spins up a client and server RPC instance connected over a
fault-injecting loopback transport and reproduces the packet-loss
scenario: a burst of concurrent requests over a bounded window, with a
configurable fraction of packets silently dropped in both directions.

It reports how many continuations completed and how many failed, and the
wall-clock spent; it does not report retransmit counts. It exercises the same
sliding-window/RTO/congestion-control path a real nexusd <-> nexusd
exchange drives, without needing a second running daemon.

Examples:
  # Default: 33 requests, window 8, 10% drop (spec scenario 4)
  nexusctl bench

  # Heavier loss, larger burst
  nexusctl bench --requests 200 --window 16 --drop 0.25`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().IntVar(&benchRequests, "requests", 33, "Number of concurrent requests to issue")
	benchCmd.Flags().IntVar(&benchWindow, "window", 8, "Session window size (max in-flight requests)")
	benchCmd.Flags().Float64Var(&benchDropPct, "drop", 0.10, "Fraction of packets to drop in each direction, 0..1")
	benchCmd.Flags().IntVar(&benchPayload, "payload", 64, "Request payload size in bytes")
	benchCmd.Flags().DurationVar(&benchTimeout, "timeout", 30*time.Second, "Overall deadline for the run")
}

func runBench(cmd *cobra.Command, args []string) error {
	serverNexus, err := rpcengine.NewNexus(rpcengine.DefaultNexusConfig("bench-server", "127.0.0.1:0"))
	if err != nil {
		return fmt.Errorf("failed to construct server nexus: %w", err)
	}
	clientNexus, err := rpcengine.NewNexus(rpcengine.DefaultNexusConfig("bench-client", "127.0.0.1:0"))
	if err != nil {
		return fmt.Errorf("failed to construct client nexus: %w", err)
	}

	if err := serverNexus.RegisterHandler(1, registry.Inline, func(req []byte) ([]byte, error) {
		out := make([]byte, len(req))
		copy(out, req)
		return out, nil
	}); err != nil {
		return fmt.Errorf("failed to register echo handler: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), benchTimeout)
	defer cancel()

	serverNexus.Start(ctx)
	clientNexus.Start(ctx)
	defer serverNexus.Stop()
	defer clientNexus.Stop()

	clientTr, serverTr := transporttest.NewPair(transporttest.Config{
		DropRate: benchDropPct,
		Rand:     rand.New(rand.NewSource(1)),
	})

	serverInst, err := serverNexus.NewInstance(serverTr, rpcengine.InstanceOptions{WindowSize: benchWindow})
	if err != nil {
		return fmt.Errorf("failed to construct server instance: %w", err)
	}
	clientInst, err := clientNexus.NewInstance(clientTr, rpcengine.InstanceOptions{WindowSize: benchWindow})
	if err != nil {
		return fmt.Errorf("failed to construct client instance: %w", err)
	}
	defer func() { _ = serverInst.Close() }()
	defer func() { _ = clientInst.Close() }()

	stop := make(chan struct{})
	var pumpWg sync.WaitGroup
	pumpWg.Add(2)
	go func() { defer pumpWg.Done(); pumpBench(clientInst, stop) }()
	go func() { defer pumpWg.Done(); pumpBench(serverInst, stop) }()
	defer func() { close(stop); pumpWg.Wait() }()

	session, err := clientInst.Connect(serverNexus.LocalAddr())
	if err != nil {
		return fmt.Errorf("failed to connect session: %w", err)
	}

	payload := make([]byte, benchPayload)
	for i := range payload {
		payload[i] = 0xAA
	}

	var completed, failed int64
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < benchRequests; i++ {
		wg.Add(1)
		clientInst.Defer(func() {
			mb, err := clientInst.AllocMsgBuffer(len(payload))
			if err != nil {
				atomic.AddInt64(&failed, 1)
				wg.Done()
				return
			}
			copy(mb.Payload, payload)

			err = clientInst.EnqueueRequest(session, 1, mb.Payload, func(resp []byte, _ any, err error) {
				defer wg.Done()
				defer clientInst.FreeMsgBuffer(mb)
				if err != nil {
					atomic.AddInt64(&failed, 1)
					return
				}
				atomic.AddInt64(&completed, 1)
			}, nil)
			if err != nil {
				clientInst.FreeMsgBuffer(mb)
				atomic.AddInt64(&failed, 1)
				wg.Done()
			}
		})
	}

	waitDone := make(chan struct{})
	go func() { wg.Wait(); close(waitDone) }()

	select {
	case <-waitDone:
	case <-ctx.Done():
		fmt.Println("bench: deadline exceeded before all continuations fired")
	}

	elapsed := time.Since(start)

	fmt.Println()
	fmt.Println("Packet-loss benchmark")
	fmt.Println("=====================")
	fmt.Printf("  Requests:     %d\n", benchRequests)
	fmt.Printf("  Window:       %d\n", benchWindow)
	fmt.Printf("  Drop rate:    %.0f%%\n", benchDropPct*100)
	fmt.Printf("  Payload size: %d bytes\n", benchPayload)
	fmt.Printf("  Completed:    %d\n", atomic.LoadInt64(&completed))
	fmt.Printf("  Failed:       %d\n", atomic.LoadInt64(&failed))
	fmt.Printf("  Elapsed:      %s\n", elapsed)
	fmt.Println()

	if atomic.LoadInt64(&completed) != int64(benchRequests) {
		return fmt.Errorf("only %d/%d continuations fired", atomic.LoadInt64(&completed), benchRequests)
	}
	return nil
}

// pumpBench drives inst's event loop until stop is closed, mirroring the
// polling cadence the engine's own tests use.
func pumpBench(inst *rpcengine.Instance, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
			inst.RunEventLoopOnce()
			time.Sleep(time.Millisecond)
		}
	}
}
