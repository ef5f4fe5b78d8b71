package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"paydisco/internal/platform/config"
	"paydisco/internal/platform/logger"
	phttp "paydisco/internal/platform/net/http"
	"paydisco/internal/platform/net/middleware"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the discovery HTTP API",
		Long: `Serve the discovery HTTP API.

Reads PAYDISCO_API_* for the listener and CORS, PAYDISCO_* for discovery.

Examples:
  paydisco serve --addr :8080 --registry device.yaml
  paydisco serve --cache redis`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			apiCfg := config.New().Prefix("PAYDISCO_API_")
			if addr == "" {
				addr = apiCfg.MayString("ADDR", ":8080")
			}
			timeout := apiCfg.MayDuration("TIMEOUT", 60*time.Second)
			origins := apiCfg.MayCSV("CORS_ORIGINS", nil)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := open(ctx, overrides(cmd))
			if err != nil {
				return err
			}
			defer func() {
				cctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				a.close(cctx)
			}()

			srv := phttp.NewServer(addr, func(m *chi.Mux) {
				m.Use(middleware.Defaults(timeout)...)
				m.Use(middleware.CORS(middleware.CORSOptions{AllowedOrigins: origins, MaxAge: 300}))
			})
			a.mod.MountRoutes(srv.Router())

			logger.Get().Info().Str("addr", srv.Addr()).Str("module", a.mod.Name()).Msg("serving discovery")
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default PAYDISCO_API_ADDR or :8080)")
	return cmd
}
