// Package http provides http transport for discovery
package http

import (
	"context"
	stdhttp "net/http"

	"paydisco/internal/adapters/registry"
	"paydisco/internal/core/version"
	phttp "paydisco/internal/platform/net/http"
	"paydisco/internal/platform/net/http/bind"
	"paydisco/internal/services/discovery/domain"
)

// Service is what the handlers need from discovery
type Service interface {
	domain.DiscoverPort
	domain.CachePort
}

// DiscoverRequest asks for the apps that can handle methods. Apps, when
// given, replaces the configured device registry for this pass
type DiscoverRequest struct {
	Methods []string           `json:"methods" validate:"required,min=1,max=64,dive,required,max=2048"`
	Apps    []registry.AppSpec `json:"apps,omitempty" validate:"omitempty,max=512,dive"`
}

// DiscoverResponse lists the created apps in package order
type DiscoverResponse struct {
	Apps []domain.PaymentApp `json:"apps"`
}

// Register mounts discovery endpoints on the given router
func Register(r phttp.Router, s Service) {
	h := &handlers{svc: s}
	r.Post("/discover", h.discover)
	r.Delete("/cache", h.purge)
}

// RegisterHealth mounts liveness, readiness and build info probes
func RegisterHealth(r phttp.Router, ready func(context.Context) error) {
	r.Get("/healthz", func(w stdhttp.ResponseWriter, req *stdhttp.Request) {
		phttp.RespondOK(w, req, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w stdhttp.ResponseWriter, req *stdhttp.Request) {
		if ready != nil {
			if err := ready(req.Context()); err != nil {
				phttp.RespondError(w, req, err)
				return
			}
		}
		phttp.RespondOK(w, req, map[string]string{"status": "ready"})
	})
	r.Get("/version", func(w stdhttp.ResponseWriter, req *stdhttp.Request) {
		phttp.RespondOK(w, req, version.Info())
	})
}

type handlers struct{ svc Service }

func (h *handlers) discover(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	in, err := bind.ParseJSON[DiscoverRequest](r)
	if err != nil {
		phttp.RespondError(w, r, err)
		return
	}

	var apps []domain.PaymentApp
	if len(in.Apps) > 0 {
		installed, ferr := registry.FromSpecs(in.Apps)
		if ferr != nil {
			phttp.RespondError(w, r, ferr)
			return
		}
		apps, err = h.svc.DiscoverWith(r.Context(), registry.NewStatic(installed), in.Methods)
	} else {
		apps, err = h.svc.Discover(r.Context(), in.Methods)
	}
	if err != nil {
		phttp.RespondError(w, r, err)
		return
	}
	if apps == nil {
		apps = []domain.PaymentApp{}
	}
	phttp.RespondOK(w, r, DiscoverResponse{Apps: apps})
}

func (h *handlers) purge(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	if err := h.svc.PurgeCache(r.Context()); err != nil {
		phttp.RespondError(w, r, err)
		return
	}
	phttp.RespondOK(w, r, map[string]bool{"purged": true})
}
