package registry

import (
	"context"
	"crypto"
	_ "crypto/sha256" // registers SHA256
	"slices"

	"paydisco/internal/core/manifest"
	"paydisco/internal/services/discovery/domain"
)

// Fingerprinter derives sha256_cert fingerprints from signing certificates
type Fingerprinter struct {
	hash crypto.Hash
}

// NewFingerprinter returns the sha256 fingerprinter
func NewFingerprinter() *Fingerprinter { return &Fingerprinter{hash: crypto.SHA256} }

// Fingerprints returns the sorted distinct fingerprints of app. Pre-resolved
// fingerprints win over certificates
func (f *Fingerprinter) Fingerprints(ctx context.Context, app domain.InstalledApp) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.hash != crypto.SHA256 || !f.hash.Available() {
		return nil, domain.ErrAlgorithmUnavailable
	}
	out := make([]string, 0, len(app.SigningFingerprints)+len(app.SigningCertificates))
	if len(app.SigningFingerprints) > 0 {
		for _, fp := range app.SigningFingerprints {
			if v, ok := manifest.NormalizeFingerprint(fp); ok {
				out = append(out, v)
			}
		}
	} else {
		for _, c := range app.SigningCertificates {
			out = append(out, manifest.Fingerprint(c))
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}
