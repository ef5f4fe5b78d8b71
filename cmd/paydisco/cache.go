package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"paydisco/internal/modkit/module"
	dmod "paydisco/internal/services/discovery/module"
)

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the manifest cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete every cached method and web app manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := open(ctx, overrides(cmd))
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if err := module.MustPortsOf[dmod.Ports](a.mod).Cache.PurgeCache(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %s cache\n", a.mod.Options().CacheBackend)
			return nil
		},
	})
	return cmd
}
