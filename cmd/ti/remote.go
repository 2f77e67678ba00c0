package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nainya/timeindex/internal/server"
)

// remoteCommand reads indexes through a running timeindexd
func (a *app) remoteCommand() *cobra.Command {
	var addr string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Read indexes served by timeindexd",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", "localhost:50051", "timeindexd address")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "deadline for the whole command")

	// withView opens path on the server for the duration of fn
	withView := func(cmd *cobra.Command, path string, fn func(context.Context, *server.Client, *server.ViewInfo) error) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return err
		}
		defer conn.Close()
		client := server.NewClient(conn)

		props, err := a.properties(path)
		if err != nil {
			return err
		}
		v, err := client.Open(ctx, props, false)
		if err != nil {
			return err
		}
		defer client.Close(context.Background(), v.Handle)
		return fn(ctx, client, v)
	}

	cat := &cobra.Command{
		Use:   "cat PATH",
		Short: "Print every payload of a served index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withView(cmd, args[0], func(ctx context.Context, c *server.Client, v *server.ViewInfo) error {
				return c.Cat(ctx, v.Handle, func(it *server.ItemInfo) error {
					_, err := fmt.Fprintf(a.out, "%s\n", it.Data)
					return err
				})
			})
		},
	}

	info := &cobra.Command{
		Use:   "info PATH",
		Short: "Describe a served index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withView(cmd, args[0], func(ctx context.Context, c *server.Client, v *server.ViewInfo) error {
				fields, err := c.Info(ctx, v.Handle)
				if err != nil {
					return err
				}
				keys := make([]string, 0, len(fields))
				for k := range fields {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
				for _, k := range keys {
					fmt.Fprintf(tw, "%s\t%v\n", k, fields[k])
				}
				return tw.Flush()
			})
		},
	}

	cmd.AddCommand(cat, info)
	return cmd
}
