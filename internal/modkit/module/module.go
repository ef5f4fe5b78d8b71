// Package module defines the contract every paydisco module satisfies
package module

import phttp "paydisco/internal/platform/net/http"

// Module mounts routes and exposes a ports bundle for cross wiring
type Module interface {
	MountRoutes(r phttp.Router)
	Ports() any
	Name() string
}
