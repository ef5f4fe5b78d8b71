// Package modkit carries the shared dependencies modules are built from
package modkit

import (
	"paydisco/internal/platform/config"
	"paydisco/internal/platform/logger"
	"paydisco/internal/platform/store"
)

// Deps is what main hands to every module constructor
type Deps struct {
	Log   logger.Logger
	Cfg   config.Conf
	Store *store.Store
}
