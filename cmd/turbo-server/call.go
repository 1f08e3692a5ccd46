package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"turbo-rpc/client"
	"turbo-rpc/internal/demo"
)

type callOptions struct {
	url     string
	udpAddr string
	timeout time.Duration
	count   int
}

func callCmd() *cobra.Command {
	opts := callOptions{}

	cmd := &cobra.Command{
		Use:   "call <function> [args...]",
		Short: "Call a demo function on a running server",
		Long: `Call a demo function on a running server and print the result as JSON.

  turbo-server call echo hello
  turbo-server call add 3 5
  turbo-server call increment
  turbo-server call whoami
  turbo-server call ticks 100 --count 5`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runCall(ctx, opts, args[0], args[1:])
		},
	}

	cmd.Flags().StringVarP(&opts.url, "url", "u", "ws://localhost:8080/turbocharger_socket", "Server WebSocket URL")
	cmd.Flags().StringVar(&opts.udpAddr, "udp", "", "Call over UDP at this address instead of WebSocket")
	cmd.Flags().DurationVarP(&opts.timeout, "timeout", "t", 10*time.Second, "Call timeout")
	cmd.Flags().IntVarP(&opts.count, "count", "n", 3, "Number of values to take from a stream")

	return cmd
}

func runCall(ctx context.Context, opts callOptions, fn string, args []string) error {
	var (
		c   *client.Client
		err error
	)
	if opts.udpAddr != "" {
		c, err = client.DialUDP(opts.udpAddr, nil, client.WithCallTimeout(opts.timeout))
	} else {
		c, err = client.Dial(ctx, opts.url, nil, client.WithCallTimeout(opts.timeout))
	}
	if err != nil {
		return err
	}
	defer c.Close()

	var result any
	switch fn {
	case "echo":
		if len(args) != 1 {
			return fmt.Errorf("echo takes one argument")
		}
		result, err = client.Call[demo.EchoParams, string](ctx, c, "echo", demo.EchoParams{Msg: args[0]})
	case "add":
		nums, perr := parseInts(args, 2)
		if perr != nil {
			return perr
		}
		result, err = client.Call[demo.AddParams, int64](ctx, c, "add", demo.AddParams{A: nums[0], B: nums[1]})
	case "increment":
		result, err = client.Call[struct{}, int64](ctx, c, "increment", struct{}{})
	case "whoami":
		result, err = client.Call[struct{}, demo.ConnInfo](ctx, c, "whoami", struct{}{})
	case "ticks":
		nums, perr := parseInts(args, 1)
		if perr != nil {
			return perr
		}
		result, err = takeTicks(ctx, c, nums[0], opts)
	default:
		return fmt.Errorf("unknown function %q", fn)
	}
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(result)
}

func takeTicks(ctx context.Context, c *client.Client, intervalMs int64, opts callOptions) ([]int64, error) {
	h := client.Stream[demo.TicksParams, int64](c, "ticks", demo.TicksParams{IntervalMs: intervalMs})

	type tick struct {
		n   int64
		err error
	}
	ch := make(chan tick, opts.count)
	unsubscribe := h.Subscribe(func(n int64, err error) {
		select {
		case ch <- tick{n, err}:
		default:
		}
	})
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	out := make([]int64, 0, opts.count)
	for len(out) < opts.count {
		select {
		case t := <-ch:
			if t.err != nil {
				return out, t.err
			}
			out = append(out, t.n)
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
	return out, nil
}

func parseInts(args []string, n int) ([]int64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("expected %d integer arguments, got %d", n, len(args))
	}
	out := make([]int64, n)
	for i, a := range args {
		v, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}
