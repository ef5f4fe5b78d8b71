package manifestfetch

import (
	"io"
	"net/url"
	"strings"
)

// LinkRel is the relation that points at a payment method manifest
const LinkRel = "payment-method-manifest"

// findManifestLink scans Link header values for rel=payment-method-manifest
// and resolves the target against base
func findManifestLink(values []string, base *url.URL) (*url.URL, bool) {
	for _, v := range values {
		for link := range strings.SplitSeq(v, ",") {
			target, params, ok := splitLink(link)
			if !ok || !hasRel(params, LinkRel) {
				continue
			}
			ref, err := url.Parse(target)
			if err != nil {
				continue
			}
			return base.ResolveReference(ref), true
		}
	}
	return nil, false
}

func splitLink(s string) (target string, params []string, ok bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "<") {
		return "", nil, false
	}
	end := strings.IndexByte(s, '>')
	if end < 0 {
		return "", nil, false
	}
	target = strings.TrimSpace(s[1:end])
	for p := range strings.SplitSeq(s[end+1:], ";") {
		if p = strings.TrimSpace(p); p != "" {
			params = append(params, p)
		}
	}
	return target, params, target != ""
}

func hasRel(params []string, rel string) bool {
	for _, p := range params {
		k, v, ok := strings.Cut(p, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "rel") {
			continue
		}
		v = strings.Trim(strings.TrimSpace(v), `"`)
		for r := range strings.FieldsSeq(v) {
			if strings.EqualFold(r, rel) {
				return true
			}
		}
	}
	return false
}

// drainAndClose reads a little of the body so the connection can be reused
func drainAndClose(rc io.ReadCloser) error {
	_, _ = io.CopyN(io.Discard, rc, 4<<10)
	return rc.Close()
}
