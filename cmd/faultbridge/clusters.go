package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cuemby/faultbridge/pkg/client"
	"github.com/spf13/cobra"
)

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "Inspect and control clusters on a running ingester",
}

var clustersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List clusters and their state",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient(cmd)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		views, err := c.ListClusters(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tMODE\tSTATE\tBREAKER\tSTARTED\tHEALTH")
		for _, v := range views {
			started := "-"
			if v.StartedAt != nil {
				started = time.Since(*v.StartedAt).Round(time.Second).String() + " ago"
			}
			hlth := "-"
			if v.Healthy != nil {
				hlth = "healthy"
				if !*v.Healthy {
					hlth = "unhealthy: " + v.Health
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", v.Name, v.Mode, v.State, v.Breaker, started, hlth)
		}
		return w.Flush()
	},
}

func actionCmd(action, short string, run func(*client.Client, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   action + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := run(apiClient(cmd), ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ %s %s accepted\n", action, args[0])
			return nil
		},
	}
}

func apiClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("api")
	return client.NewClient(addr)
}

func init() {
	clustersCmd.PersistentFlags().String("api", "127.0.0.1:9480", "Address of the ingester's HTTP API")

	clustersCmd.AddCommand(clustersListCmd)
	clustersCmd.AddCommand(actionCmd("start", "Start a stopped cluster", (*client.Client).StartCluster))
	clustersCmd.AddCommand(actionCmd("stop", "Stop a cluster until it is started again", (*client.Client).StopCluster))
	clustersCmd.AddCommand(actionCmd("restart", "Restart a cluster", (*client.Client).RestartCluster))
}
