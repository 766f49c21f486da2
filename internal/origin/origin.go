// Package origin checks browser Origin headers for the HTTP and WebSocket
// endpoints.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// NormalizeHeader validates a browser Origin header and returns it as
// scheme://host[:port] together with its host[:port] part. Default ports are
// dropped. The opaque origin "null" is returned as-is with an empty host.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.User != nil || u.Opaque != "" {
		return "", "", false
	}
	if u.RawQuery != "" || u.ForceQuery || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = canonicalHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// IsAllowed reports whether a normalized origin may call a server reached
// at requestHost. A non-empty allowedOrigins is an exact-match list in which
// "*" matches everything. Otherwise only same-host requests pass; the scheme
// is not compared so TLS can terminate in front of the server.
func IsAllowed(normalizedOrigin, originHost, requestHost string, allowedOrigins []string) bool {
	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == normalizedOrigin {
				return true
			}
		}
		return false
	}

	scheme, _, found := strings.Cut(normalizedOrigin, "://")
	if !found || (scheme != "http" && scheme != "https") {
		return false
	}
	want, ok := canonicalHost(requestHost, scheme)
	return ok && originHost == want
}

// canonicalHost lower-cases authority, validates its port and drops the
// scheme's default port. IPv6 literals keep their brackets.
func canonicalHost(authority, scheme string) (string, bool) {
	hostname, port, ok := splitHostPort(strings.ToLower(strings.TrimSpace(authority)))
	if !ok || !validHostname(hostname) {
		return "", false
	}
	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = strconv.FormatUint(n, 10)
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			port = ""
		}
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != "" {
		host += ":" + port
	}
	return host, true
}

// splitHostPort splits host[:port]. Brackets are stripped from IPv6
// literals; unbracketed IPv6 is rejected.
func splitHostPort(authority string) (hostname, port string, ok bool) {
	if rest, found := strings.CutPrefix(authority, "["); found {
		hostname, rest, found = strings.Cut(rest, "]")
		if !found || hostname == "" {
			return "", "", false
		}
		if rest == "" {
			return hostname, "", true
		}
		port, found = strings.CutPrefix(rest, ":")
		return hostname, port, found && port != ""
	}

	hostname, port, found := strings.Cut(authority, ":")
	if hostname == "" || strings.Contains(port, ":") || (found && port == "") {
		return "", "", false
	}
	return hostname, port, true
}

func validHostname(h string) bool {
	if h == "" {
		return false
	}
	for _, r := range h {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == ':', r == '_':
		default:
			return false
		}
	}
	return true
}
