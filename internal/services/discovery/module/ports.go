package module

import "paydisco/internal/services/discovery/domain"

// Ports defines discovery module ports exposed via the registry
type Ports struct {
	Discover domain.DiscoverPort
	Cache    domain.CachePort
}
