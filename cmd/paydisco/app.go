package main

import (
	"context"

	"github.com/spf13/cobra"

	"paydisco/internal/modkit"
	"paydisco/internal/platform/config"
	"paydisco/internal/platform/logger"
	"paydisco/internal/platform/store"
	dmod "paydisco/internal/services/discovery/module"
)

// app is the opened store plus the discovery module built on it
type app struct {
	store *store.Store
	mod   *dmod.Module
}

// overrides reads the persistent flags shared by every command
func overrides(cmd *cobra.Command) dmod.Options {
	backend, _ := cmd.Flags().GetString("cache")
	registry, _ := cmd.Flags().GetString("registry")
	return dmod.Options{CacheBackend: backend, RegistryPath: registry}
}

func open(ctx context.Context, over dmod.Options) (*app, error) {
	root := config.New()
	log := logger.Get()

	backend := over.CacheBackend
	if backend == "" {
		backend = dmod.FromConfig(root).CacheBackend
	}

	st, err := store.Open(ctx, dmod.StoreConfig(root, backend), store.WithLogger(*log))
	if err != nil {
		return nil, err
	}
	m, err := dmod.New(ctx, modkit.Deps{Log: *log, Cfg: root, Store: st}, over)
	if err != nil {
		_ = st.Close(ctx)
		return nil, err
	}
	return &app{store: st, mod: m}, nil
}

// close waits for background cache refreshes before the store goes away
func (a *app) close(ctx context.Context) {
	log := logger.Get()
	if err := a.mod.Close(ctx); err != nil {
		log.Error().Err(err).Msg("failed to close discovery")
	}
	if err := a.store.Close(ctx); err != nil {
		log.Error().Err(err).Msg("failed to close store")
	}
}
