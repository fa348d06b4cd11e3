package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cuemby/faultbridge/pkg/apic"
	"github.com/cuemby/faultbridge/pkg/storage"
	"github.com/spf13/cobra"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect or reset poll checkpoints",
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the stored resume point of every poll cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		cps, err := store.ListCheckpoints()
		if err != nil {
			return err
		}
		if len(cps) == 0 {
			fmt.Println("No checkpoints stored")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CLUSTER\tCLASS\tRESUME FROM\tUPDATED")
		for _, cp := range cps {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", cp.Cluster, cp.Class, apic.FormatTime(cp.Timestamp), cp.UpdatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var checkpointsResetCmd = &cobra.Command{
	Use:   "reset CLUSTER",
	Short: "Forget a cluster's checkpoints so its next poll starts from the lookback window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteCheckpoints(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Checkpoints for %s removed\n", args[0])
		return nil
	},
}

// openStore opens the checkpoint database. bbolt holds an exclusive lock,
// so this fails while the ingester is running.
func openStore(cmd *cobra.Command) (*storage.BoltStore, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	if dataDir == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		dataDir = cfg.DataDir
	}
	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("%w (is faultbridge still running?)", err)
	}
	return store, nil
}

func init() {
	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsResetCmd)

	for _, c := range []*cobra.Command{checkpointsListCmd, checkpointsResetCmd} {
		addConfigFlag(c)
		c.Flags().String("data-dir", "", "Data directory (overrides the config file)")
	}
}
