// Package origin checks browser Origin headers on WebSocket upgrades.
package origin

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Self matches an origin whose host[:port] equals the request Host header.
const Self = "self"

// Policy decides which browser origins may open a signaling socket.
//
// An empty policy allows every origin. Requests without an Origin header are
// always allowed since they do not come from a browser.
type Policy struct {
	allowAny  bool
	allowSelf bool
	origins   map[string]struct{}
}

// NewPolicy builds a policy from entries that are "*", "self", "null" or full
// origins like https://example.com.
func NewPolicy(entries []string) (*Policy, error) {
	p := &Policy{origins: make(map[string]struct{}, len(entries))}
	if len(entries) == 0 {
		p.allowAny = true
		return p, nil
	}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		switch entry {
		case "":
			continue
		case "*":
			p.allowAny = true
			continue
		case Self:
			p.allowSelf = true
			continue
		}
		normalized, _, ok := NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		p.origins[normalized] = struct{}{}
	}
	return p, nil
}

// CheckRequest matches the signature of websocket.Upgrader.CheckOrigin.
func (p *Policy) CheckRequest(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		return true
	}
	return p.Allows(header, r.Host)
}

func (p *Policy) Allows(originHeader, requestHost string) bool {
	if p == nil || p.allowAny {
		return true
	}
	normalized, host, ok := NormalizeHeader(originHeader)
	if !ok {
		return false
	}
	if _, ok := p.origins[normalized]; ok {
		return true
	}
	if !p.allowSelf || normalized == "null" {
		return false
	}
	// Scheme is not compared: a TLS-terminating proxy turns https into http.
	scheme := normalized[:strings.Index(normalized, "://")]
	reqHost, ok := normalizeHost(requestHost, scheme)
	return ok && reqHost == host
}

// NormalizeHeader validates and normalizes a browser Origin header.
//
// It returns the normalized origin (scheme://host[:port]) and the host[:port]
// portion. The special Origin value "null" is returned as-is.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}
	host, ok = normalizeHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// normalizeHost lowercases host[:port], brackets IPv6 literals and drops the
// scheme's default port.
func normalizeHost(rawHost, scheme string) (string, bool) {
	rawHostname, rawPort, ok := splitHostPort(strings.TrimSpace(rawHost))
	if !ok {
		return "", false
	}
	hostname := strings.ToLower(rawHostname)
	if hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

func splitHostPort(rawHost string) (hostname, port string, ok bool) {
	if rawHost == "" {
		return "", "", false
	}

	if strings.HasPrefix(rawHost, "[") {
		end := strings.IndexByte(rawHost, ']')
		if end < 0 {
			return "", "", false
		}
		hostname = rawHost[1:end]
		rest := rawHost[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		if !strings.HasPrefix(rest, ":") || len(rest) == 1 {
			return "", "", false
		}
		return hostname, rest[1:], true
	}

	switch strings.Count(rawHost, ":") {
	case 0:
		return rawHost, "", true
	case 1:
		hostname, port, _ = strings.Cut(rawHost, ":")
		if hostname == "" || port == "" {
			return "", "", false
		}
		return hostname, port, true
	default:
		// Unbracketed IPv6 literals are not valid in the authority component.
		return "", "", false
	}
}
