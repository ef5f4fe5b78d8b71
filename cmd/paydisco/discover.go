package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"paydisco/internal/modkit/module"
	dmod "paydisco/internal/services/discovery/module"
)

func discoverCmd() *cobra.Command {
	var (
		methods []string
		wait    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Run one discovery pass and print the created apps as JSON",
		Long: `Run one discovery pass against a device registry snapshot.

Examples:
  paydisco discover --registry device.yaml --method https://bobpay.example/pay
  paydisco discover --registry device.yaml --method basic-card --cache sqlite`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := open(ctx, overrides(cmd))
			if err != nil {
				return err
			}
			// cache refreshes outlive the pass; give them a bounded window
			defer func() {
				cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), wait)
				defer cancel()
				a.close(cctx)
			}()

			ports := module.MustPortsOf[dmod.Ports](a.mod)
			apps, err := ports.Discover.Discover(ctx, methods)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(apps)
		},
	}
	cmd.Flags().StringSliceVarP(&methods, "method", "m", nil, "payment method identifier (repeatable)")
	cmd.Flags().DurationVar(&wait, "refresh-wait", 15*time.Second, "how long to wait for background cache refreshes on exit")
	_ = cmd.MarkFlagRequired("method")
	return cmd
}
