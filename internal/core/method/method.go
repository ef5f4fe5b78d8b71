// Package method classifies payment method identifiers and derives the origin
// of URL-based methods
package method

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// Kind tells a fixed token from a URL method
type Kind uint8

const (
	// KindToken is a fixed vocabulary method such as basic-card
	KindToken Kind = iota + 1
	// KindURI is an absolute URL method owned by an origin
	KindURI
)

// Origin is scheme://host[:port] with no trailing slash
type Origin string

// Identifier is an immutable method identifier. The zero value is invalid
type Identifier struct {
	kind   Kind
	name   string
	origin Origin
	uri    *url.URL
}

// Tokens lists the non-URL method names accepted without a manifest
var Tokens = map[string]struct{}{
	"basic-card":            {},
	"interledger":           {},
	"payee-credit-transfer": {},
	"payer-credit-transfer": {},
	"tokenized-card":        {},
}

// Token builds a token identifier. It does not check the whitelist
func Token(name string) Identifier { return Identifier{kind: KindToken, name: name} }

// Kind returns the identifier kind
func (id Identifier) Kind() Kind { return id.kind }

// IsURI reports whether id is a URL method
func (id Identifier) IsURI() bool { return id.kind == KindURI }

// Valid reports whether id was built by Classify, Token or ParseURI
func (id Identifier) Valid() bool { return id.kind != 0 }

// String returns the method name exactly as classified
func (id Identifier) String() string { return id.name }

// Origin returns the owning origin of a URL method, "" for tokens
func (id Identifier) Origin() Origin { return id.origin }

// URL returns a copy of the method URL, nil for tokens
func (id Identifier) URL() *url.URL {
	if id.uri == nil {
		return nil
	}
	u := *id.uri
	return &u
}

// Classify returns the identifier for s, or false when s is neither an
// allowed URL nor a whitelisted token
func Classify(s string) (Identifier, bool) {
	s = strings.TrimSpace(s)
	if id, ok := ParseURI(s); ok {
		return id, true
	}
	if _, ok := Tokens[s]; ok {
		return Token(s), true
	}
	return Identifier{}, false
}

// ParseURI accepts https URLs, and http only for loopback hosts. The name
// carries the origin's scheme and host, so case, default ports and IDN
// spellings of one URL give one identifier
func ParseURI(s string) (Identifier, bool) {
	if !strings.HasPrefix(s, "https://") && !strings.HasPrefix(s, "http://") {
		return Identifier{}, false
	}
	u, err := url.Parse(s)
	if err != nil || !u.IsAbs() || u.Host == "" || u.User != nil {
		return Identifier{}, false
	}
	if u.Scheme == "http" && !IsLoopback(u.Hostname()) {
		return Identifier{}, false
	}
	o, ok := OriginOf(u)
	if !ok {
		return Identifier{}, false
	}
	ou, err := url.Parse(string(o))
	if err != nil {
		return Identifier{}, false
	}
	u.Scheme, u.Host = ou.Scheme, ou.Host
	return Identifier{kind: KindURI, name: u.String(), origin: o, uri: u}, true
}

// IsLoopback reports whether host is localhost or a loopback IP
func IsLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// OriginOf resolves u against "/" and strips the trailing slash. The host is
// lower-cased and converted to its ASCII form
func OriginOf(u *url.URL) (Origin, bool) {
	if u == nil || !u.IsAbs() || u.Host == "" {
		return "", false
	}
	root := u.ResolveReference(&url.URL{Path: "/"})
	host := strings.ToLower(root.Hostname())
	if ip := net.ParseIP(host); ip != nil {
		if ip.To4() == nil {
			host = "[" + host + "]"
		}
	} else {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil || ascii == "" {
			return "", false
		}
		host = ascii
	}
	if p := root.Port(); p != "" && !isDefaultPort(root.Scheme, p) {
		host += ":" + p
	}
	root.Host = host
	return Origin(strings.TrimSuffix(strings.ToLower(root.Scheme)+"://"+root.Host+root.Path, "/")), true
}

// ParseOrigin normalizes an origin string the way OriginOf does
func ParseOrigin(s string) (Origin, bool) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return OriginOf(u)
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "https" && port == "443") || (scheme == "http" && port == "80")
}
