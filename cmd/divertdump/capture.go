package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/netdivert/divert"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func (a *app) captureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture [filter]",
		Short: "Receive packets matching a filter and print them",
		Example: `  divertdump capture "tcp.DstPort == 443" --count 10
  divertdump capture --layer flow "processId == 4242"`,
		Args: cobra.MaximumNArgs(1),
		RunE: a.capture,
	}

	f := cmd.Flags()
	f.StringP("filter", "f", "true", "WinDivert filter")
	f.StringP("layer", "l", "network", "layer: network, network-forward, flow, socket or reflect")
	f.Int16P("priority", "p", 0, "handle priority")
	f.IntP("batch", "b", 16, "packets per receive")
	f.IntP("count", "n", 0, "stop after count packets, 0 runs until interrupted")
	f.Bool("sniff", true, "copy packets instead of diverting them")
	f.Uint64("queue-length", 0, "driver queue length, 0 keeps the default")
	return cmd
}

func (a *app) capture(cmd *cobra.Command, args []string) error {
	c := a.cfg.Capture
	if len(args) > 0 {
		c.Filter = args[0]
	}
	layer, err := parseLayer(c.Layer)
	if err != nil {
		return err
	}

	flags := divert.RecvOnly
	if c.Sniff {
		flags |= divert.Sniff
	}
	h, err := divert.Open(c.Filter, layer, c.Priority, flags)
	if err != nil {
		return err
	}
	if c.QueueLength != 0 {
		if err := h.SetQueueLength(c.QueueLength); err != nil {
			h.Close()
			return err
		}
	}
	a.log.WithFields(logrus.Fields{
		"filter": c.Filter,
		"layer":  layer,
		"batch":  c.Batch,
	}).Info("divertdump: capturing")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		// unblocks RecvBatch, which then reports ErrClosed
		return h.Close()
	})
	eg.Go(func() error {
		defer cancel()
		return a.receive(h, layer, c, newPrinter(cmd.OutOrStdout()))
	})
	return eg.Wait()
}

func (a *app) receive(h *divert.Handle, layer divert.Layer, c CaptureConfig, p *printer) error {
	var (
		packets = make([]byte, c.Batch*divert.MTUMax)
		addrs   = make([]divert.Address, c.Batch)
		seen    int
	)
	for c.Count == 0 || seen < c.Count {
		n, count, err := h.RecvBatch(packets, addrs)
		if errors.Is(err, divert.ErrClosed{}) {
			break
		} else if err != nil {
			return err
		}
		seen += p.batch(layer, packets[:n], addrs[:count], seen, c.Count)
	}
	a.log.WithField("packets", seen).Info("divertdump: done")
	return nil
}

// batch prints one received batch, numbering from base, and stops once
// limit events were printed in total when limit is not zero. It returns the
// number of events printed.
func (p *printer) batch(layer divert.Layer, packets []byte, addrs []divert.Address, base, limit int) int {
	if layer != divert.Network && layer != divert.NetworkForward {
		for i := range addrs {
			if limit > 0 && base+i >= limit {
				return i
			}
			p.event(base+i, &addrs[i])
		}
		return len(addrs)
	}

	e := divert.NewIndexedPacketEnumerator(packets)
	defer e.Close()

	var n int
	for e.Next() {
		i, r := e.Result()
		if i >= len(addrs) || (limit > 0 && base+i >= limit) {
			break
		}
		p.packet(base+i, &addrs[i], r.PacketBytes(), r.IPv6.Present())
		n++
	}
	return n
}
