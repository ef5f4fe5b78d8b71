package manifest

import (
	"crypto/sha256"
	"encoding/hex"

	perr "paydisco/internal/platform/errors"

	"github.com/gowebpki/jcs"
)

// Digest canonicalizes a JSON document (RFC 8785) and returns its hex sha256,
// so reformatted but equal manifests share a digest
func Digest(body []byte) (string, error) {
	canonical, err := jcs.Transform(body)
	if err != nil {
		return "", perr.Wrap(err, perr.ErrorCodeParse, "canonicalize manifest")
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
