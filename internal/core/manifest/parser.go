package manifest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"paydisco/internal/core/method"
	perr "paydisco/internal/platform/errors"

	"github.com/kaptinlin/jsonschema"
)

// MaxSupportedOrigins caps supported_origins entries
const MaxSupportedOrigins = 100000

const methodSchema = `{
  "type": "object",
  "properties": {
    "default_applications": {"type": "array", "items": {"type": "string"}},
    "supported_origins": {
      "oneOf": [
        {"const": "*"},
        {"type": "array", "items": {"type": "string"}}
      ]
    }
  }
}`

const webAppSchema = `{
  "type": "object",
  "properties": {
    "related_applications": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["platform"],
        "properties": {
          "platform": {"type": "string"},
          "id": {"type": "string"},
          "min_version": {"type": "string"},
          "fingerprints": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["type", "value"],
              "properties": {
                "type": {"type": "string"},
                "value": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`

// Parser turns manifest bodies into typed manifests. Bodies are checked
// against a JSON schema before their contents are validated
type Parser struct {
	method *jsonschema.Schema
	webApp *jsonschema.Schema
}

var compiled = sync.OnceValues(func() (*Parser, error) {
	m, err := jsonschema.NewCompiler().Compile([]byte(methodSchema))
	if err != nil {
		return nil, fmt.Errorf("compile method manifest schema: %w", err)
	}
	w, err := jsonschema.NewCompiler().Compile([]byte(webAppSchema))
	if err != nil {
		return nil, fmt.Errorf("compile web app manifest schema: %w", err)
	}
	return &Parser{method: m, webApp: w}, nil
})

// NewParser returns the shared parser
func NewParser() (*Parser, error) { return compiled() }

func checkSchema(s *jsonschema.Schema, kind string, body []byte) error {
	if !json.Valid(body) {
		return perr.Parsef("%s is not valid JSON", kind)
	}
	if res := s.ValidateJSON(body); !res.IsValid() {
		return perr.Parsef("%s failed schema validation: %v", kind, res.Errors)
	}
	return nil
}

type methodWire struct {
	DefaultApplications []string        `json:"default_applications"`
	SupportedOrigins    json.RawMessage `json:"supported_origins"`
}

// ParseMethodManifest parses a payment method manifest fetched from base.
// Relative default_applications entries resolve against base
func (p *Parser) ParseMethodManifest(base *url.URL, body []byte) (MethodManifest, error) {
	if err := checkSchema(p.method, "payment method manifest", body); err != nil {
		return MethodManifest{}, err
	}
	var w methodWire
	if err := json.Unmarshal(body, &w); err != nil {
		return MethodManifest{}, perr.Wrap(err, perr.ErrorCodeParse, "decode payment method manifest")
	}
	if len(w.DefaultApplications) > MaxWebAppManifests {
		return MethodManifest{}, perr.Parsef("default_applications has %d entries, max %d",
			len(w.DefaultApplications), MaxWebAppManifests)
	}

	var out MethodManifest
	for _, raw := range w.DefaultApplications {
		u, err := resolveManifestURL(base, raw)
		if err != nil {
			return MethodManifest{}, err
		}
		out.WebAppManifestURLs = append(out.WebAppManifestURLs, u)
	}

	if len(w.SupportedOrigins) > 0 && string(w.SupportedOrigins) != "null" {
		var star string
		if json.Unmarshal(w.SupportedOrigins, &star) == nil {
			out.AllOriginsSupported = star == AllOrigins
		} else {
			var list []string
			if err := json.Unmarshal(w.SupportedOrigins, &list); err != nil {
				return MethodManifest{}, perr.Wrap(err, perr.ErrorCodeParse, "decode supported_origins")
			}
			if len(list) > MaxSupportedOrigins {
				return MethodManifest{}, perr.Parsef("supported_origins has %d entries, max %d", len(list), MaxSupportedOrigins)
			}
			for _, s := range list {
				o, err := parseSupportedOrigin(s)
				if err != nil {
					return MethodManifest{}, err
				}
				out.SupportedOrigins = append(out.SupportedOrigins, o)
			}
		}
	}

	d, err := Digest(body)
	if err != nil {
		return MethodManifest{}, err
	}
	out.Digest = d
	return out, nil
}

func resolveManifestURL(base *url.URL, raw string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || raw == "" {
		return nil, perr.Parsef("invalid web app manifest URL %q", raw)
	}
	u := ref
	if base != nil {
		u = base.ResolveReference(ref)
	}
	if !u.IsAbs() || u.Host == "" || u.User != nil {
		return nil, perr.Parsef("web app manifest URL %q is not absolute", raw)
	}
	if u.Scheme != "https" && !(u.Scheme == "http" && method.IsLoopback(u.Hostname())) {
		return nil, perr.Parsef("web app manifest URL %q must be https", raw)
	}
	return u, nil
}

func parseSupportedOrigin(s string) (method.Origin, error) {
	u, err := url.Parse(s)
	if err != nil || (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return "", perr.Parsef("supported origin %q is not an origin", s)
	}
	if u.Scheme != "https" && !(u.Scheme == "http" && method.IsLoopback(u.Hostname())) {
		return "", perr.Parsef("supported origin %q must be https", s)
	}
	o, ok := method.OriginOf(u)
	if !ok {
		return "", perr.Parsef("supported origin %q is not an origin", s)
	}
	return o, nil
}

type webAppWire struct {
	RelatedApplications []struct {
		Platform     string `json:"platform"`
		ID           string `json:"id"`
		MinVersion   string `json:"min_version"`
		Fingerprints []struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		} `json:"fingerprints"`
	} `json:"related_applications"`
}

// PlayPlatform marks the related_applications entries that are native apps
const PlayPlatform = "play"

// ParseWebAppManifest extracts play-platform sections. Any malformed play
// entry fails the whole manifest
func (p *Parser) ParseWebAppManifest(body []byte) ([]WebAppSection, error) {
	if err := checkSchema(p.webApp, "web app manifest", body); err != nil {
		return nil, err
	}
	var w webAppWire
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeParse, "decode web app manifest")
	}
	var out []WebAppSection
	for i, ra := range w.RelatedApplications {
		if ra.Platform != PlayPlatform {
			continue
		}
		field := fmt.Sprintf("related_applications[%d]", i)
		if strings.TrimSpace(ra.ID) == "" {
			return nil, perr.WithField(perr.Parsef("missing id"), field)
		}
		minVersion, err := strconv.ParseInt(strings.TrimSpace(ra.MinVersion), 10, 64)
		if err != nil || minVersion < 0 {
			return nil, perr.WithField(perr.Parsef("invalid min_version %q", ra.MinVersion), field)
		}
		if len(ra.Fingerprints) == 0 {
			return nil, perr.WithField(perr.Parsef("missing fingerprints"), field)
		}
		sec := WebAppSection{ID: ra.ID, MinVersion: minVersion}
		for _, fp := range ra.Fingerprints {
			if fp.Type != FingerprintType {
				return nil, perr.WithField(perr.Parsef("unsupported fingerprint type %q", fp.Type), field)
			}
			v, ok := NormalizeFingerprint(fp.Value)
			if !ok {
				return nil, perr.WithField(perr.Parsef("malformed fingerprint %q", fp.Value), field)
			}
			sec.Fingerprints = append(sec.Fingerprints, v)
		}
		out = append(out, sec)
	}
	return out, nil
}
