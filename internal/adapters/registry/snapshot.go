// Package registry provides device registry adapters: YAML snapshots of the
// installed payment handlers and the signing fingerprint primitive
package registry

import (
	"encoding/base64"
	"fmt"
	"strings"

	"paydisco/internal/core/manifest"
	"paydisco/internal/core/method"
	perr "paydisco/internal/platform/errors"
	"paydisco/internal/platform/logger"
	"paydisco/internal/services/discovery/domain"

	"github.com/samber/lo"
	"github.com/samber/mo"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// AppSpec is the wire form of an installed app, shared by snapshot files and
// the HTTP API
type AppSpec struct {
	Package                string   `json:"package" yaml:"package" validate:"required,max=255"`
	Activity               string   `json:"activity,omitempty" yaml:"activity"`
	Label                  string   `json:"label,omitempty" yaml:"label" validate:"max=200"`
	Version                int64    `json:"version" yaml:"version" validate:"min=0"`
	DefaultMethod          string   `json:"default_method,omitempty" yaml:"default_method"`
	AdditionalMethods      []string `json:"additional_methods,omitempty" yaml:"additional_methods" validate:"max=64"`
	SigningFingerprints    []string `json:"signing_fingerprints,omitempty" yaml:"signing_fingerprints"`
	SigningCertificates    []string `json:"signing_certificates,omitempty" yaml:"signing_certificates"`
	PreferredRelatedAppIDs []string `json:"preferred_related_app_ids,omitempty" yaml:"preferred_related_app_ids"`
	AppIDToHide            string   `json:"app_id_to_hide,omitempty" yaml:"app_id_to_hide"`
}

// Snapshot is a device registry dump
type Snapshot struct {
	Device string    `json:"device,omitempty" yaml:"device"`
	Apps   []AppSpec `json:"apps" yaml:"apps" validate:"dive"`
}

// NormalizeLabel folds full-width forms and composes the label to NFC
func NormalizeLabel(s string) string {
	return strings.TrimSpace(norm.NFC.String(width.Fold.String(s)))
}

// ToInstalled converts the wire form. Unknown method names are dropped the
// same way the browser drops them; bad fingerprints or certificates fail
func (a AppSpec) ToInstalled() (domain.InstalledApp, error) {
	app := domain.InstalledApp{
		PackageID:              strings.TrimSpace(a.Package),
		ActivityName:           strings.TrimSpace(a.Activity),
		Label:                  NormalizeLabel(a.Label),
		Version:                a.Version,
		PreferredRelatedAppIDs: lo.Compact(lo.Uniq(a.PreferredRelatedAppIDs)),
		AppIDToHide:            strings.TrimSpace(a.AppIDToHide),
	}
	if app.PackageID == "" {
		return domain.InstalledApp{}, perr.WithField(perr.InvalidArgf("package is required"), "package")
	}

	if a.DefaultMethod != "" {
		if id, ok := method.Classify(a.DefaultMethod); ok {
			app.DefaultMethod = mo.Some(id)
		} else {
			logger.Named("registry").Debug().Str("package", app.PackageID).Str("method", a.DefaultMethod).
				Msg("dropping unrecognized default method")
		}
	}
	for _, s := range a.AdditionalMethods {
		id, ok := method.Classify(s)
		if !ok {
			continue
		}
		if d, has := app.DefaultMethod.Get(); has && d.String() == id.String() {
			continue
		}
		if !app.DeclaresAdditional(id) {
			app.AdditionalMethods = append(app.AdditionalMethods, id)
		}
	}

	for i, fp := range a.SigningFingerprints {
		v, ok := manifest.NormalizeFingerprint(fp)
		if !ok {
			return domain.InstalledApp{}, perr.WithField(perr.InvalidArgf("malformed signing fingerprint %q", fp),
				fmt.Sprintf("signing_fingerprints[%d]", i))
		}
		app.SigningFingerprints = append(app.SigningFingerprints, v)
	}
	for i, c := range a.SigningCertificates {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c))
		if err != nil || len(raw) == 0 {
			return domain.InstalledApp{}, perr.WithField(perr.InvalidArgf("signing certificate is not base64"),
				fmt.Sprintf("signing_certificates[%d]", i))
		}
		app.SigningCertificates = append(app.SigningCertificates, raw)
	}
	return app, nil
}

// FromSpecs converts a list of wire apps. Later duplicates of a package
// replace earlier ones
func FromSpecs(specs []AppSpec) ([]domain.InstalledApp, error) {
	out := make([]domain.InstalledApp, 0, len(specs))
	idx := make(map[string]int, len(specs))
	for i, s := range specs {
		app, err := s.ToInstalled()
		if err != nil {
			return nil, perr.WithOp(err, fmt.Sprintf("apps[%d]", i))
		}
		if j, dup := idx[app.PackageID]; dup {
			out[j] = app
			continue
		}
		idx[app.PackageID] = len(out)
		out = append(out, app)
	}
	return out, nil
}
