package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// FingerprintType is the only fingerprint type web app manifests carry
const FingerprintType = "sha256_cert"

// Fingerprint formats the sha256 of a signing certificate as upper-case
// colon separated hex, the manifest form
func Fingerprint(cert []byte) string {
	sum := sha256.Sum256(cert)
	return FormatFingerprint(sum[:])
}

// FormatFingerprint renders raw digest bytes as AB:CD:...
func FormatFingerprint(b []byte) string {
	h := strings.ToUpper(hex.EncodeToString(b))
	var sb strings.Builder
	sb.Grow(len(h) + len(b))
	for i := 0; i < len(h); i += 2 {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.WriteString(h[i : i+2])
	}
	return sb.String()
}

// NormalizeFingerprint validates a 32 byte colon separated hex fingerprint and
// returns it upper-cased
func NormalizeFingerprint(s string) (string, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != sha256.Size {
		return "", false
	}
	raw := make([]byte, 0, sha256.Size)
	for _, p := range parts {
		if len(p) != 2 {
			return "", false
		}
		b, err := hex.DecodeString(p)
		if err != nil {
			return "", false
		}
		raw = append(raw, b[0])
	}
	return FormatFingerprint(raw), true
}
