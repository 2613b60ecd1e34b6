// Command miknet-echo is the thinnest possible exerciser of the public
// node API: it binds a socket, optionally connects to a peer, and echoes
// every payload it receives back to its sender on the same stream.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/miknet/miknet/pkg/node"
)

type flags struct {
	listen  string
	connect string
	verbose bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	f := &flags{}
	c := &cobra.Command{
		Use:   "miknet-echo",
		Short: "Bind a miknet node and echo received payloads back to their sender",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}
	c.Flags().StringVar(&f.listen, "listen", "127.0.0.1:0", "local address to bind")
	c.Flags().StringVar(&f.connect, "connect", "", "peer address to connect to at startup (optional)")
	c.Flags().BoolVar(&f.verbose, "verbose", false, "enable debug-level logging")
	return c
}

func run(ctx context.Context, f *flags) error {
	logger := logrus.StandardLogger()
	if f.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	ctx = dlog.WithLogger(ctx, dlog.WrapLogrus(logger))

	ctx = dgroup.WithGoroutineName(ctx, "/miknet-echo")
	g := dgroup.NewGroup(ctx, dgroup.GroupConfig{EnableSignalHandling: true})

	n, events, err := node.Bind(ctx, f.listen)
	if err != nil {
		return err
	}
	dlog.Infof(ctx, "listening on %s", n.LocalAddr())

	g.Go("echo", func(ctx context.Context) error {
		for ev := range events {
			switch ev.Kind {
			case node.Connected:
				dlog.Infof(ctx, "connected: %s", ev.Peer)
			case node.Disconnected:
				dlog.Infof(ctx, "disconnected: %s", ev.Peer)
			case node.ConnectTimeout:
				dlog.Warnf(ctx, "connect timed out: %s", ev.Peer)
			case node.CfgMismatch:
				dlog.Warnf(ctx, "peer rejected our configuration: %s", ev.Peer)
			case node.Received:
				dlog.Debugf(ctx, "received %d byte(s) from %s on stream %d", len(ev.Payload), ev.Peer, ev.StreamID)
				if err := n.Send(ev.Peer, ev.StreamID, ev.Payload); err != nil {
					dlog.Errorf(ctx, "echoing to %s: %+v", ev.Peer, err)
				}
			case node.Error:
				dlog.Errorf(ctx, "%s: %s", ev.Peer, ev.Msg)
			case node.Shutdown:
				dlog.Infof(ctx, "node shut down")
			}
		}
		return nil
	})

	if f.connect != "" {
		if err := n.Connect(f.connect); err != nil {
			return err
		}
	}

	g.Go("shutdown-on-cancel", func(ctx context.Context) error {
		<-ctx.Done()
		n.Shutdown()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return n.Wait()
}
