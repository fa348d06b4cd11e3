package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/faultbridge/pkg/apic"
	"github.com/cuemby/faultbridge/pkg/health"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check [CLUSTER...]",
	Short: "Log in to each configured cluster once and report the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		want := make(map[string]bool, len(args))
		for _, a := range args {
			want[a] = true
		}

		dial := health.APICDialer(apic.Config{TLSConfig: tlsConfig(cfg), Timeout: cfg.Query.Timeout})
		failed := 0
		for _, c := range cfg.Clusters() {
			if len(want) > 0 && !want[c.Name] {
				continue
			}
			delete(want, c.Name)

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Query.Timeout)
			result := health.NewControllerChecker(c, dial).Check(ctx)
			cancel()

			mark := "✓"
			if !result.Healthy {
				mark = "✗"
				failed++
			}
			fmt.Printf("%s %-20s %s (%s)\n", mark, c.Name, result.Message, result.Duration.Round(time.Millisecond))
		}

		for name := range want {
			fmt.Printf("? %-20s not configured\n", name)
			failed++
		}
		if failed > 0 {
			return fmt.Errorf("%d clusters failed", failed)
		}
		return nil
	},
}

func init() {
	addConfigFlag(checkCmd)
}
