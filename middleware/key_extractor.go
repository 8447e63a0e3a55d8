package middleware

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	// ErrKeyExtractionFailed is returned when no rate limit key can be derived from a request
	ErrKeyExtractionFailed = errors.New("failed to extract key from request")

	// ErrInvalidExtractor is returned by ParseKeyExtractor for unknown or malformed specs
	ErrInvalidExtractor = errors.New("invalid key extractor")
)

// KeyExtractor derives the rate limit key that identifies the caller of a
// request (IP address, API key, session, ...).
type KeyExtractor func(*http.Request) (string, error)

// ExtractIP keys requests by the connection's remote IP.
func ExtractIP() KeyExtractor {
	return func(r *http.Request) (string, error) {
		ip := remoteIP(r)
		if ip == "" {
			return "", fmt.Errorf("%w: empty IP address", ErrKeyExtractionFailed)
		}
		return "ip:" + ip, nil
	}
}

// ExtractIPWithProxy keys requests by the client IP reported by a reverse
// proxy: the first valid address of X-Forwarded-For, then X-Real-IP, then
// the remote address. Only use it behind a proxy that sets these headers.
func ExtractIPWithProxy() KeyExtractor {
	return func(r *http.Request) (string, error) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return "ip:" + ip.String(), nil
			}
		}

		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return "ip:" + ip.String(), nil
		}

		ip := remoteIP(r)
		if ip == "" {
			return "", fmt.Errorf("%w: empty IP address", ErrKeyExtractionFailed)
		}
		return "ip:" + ip, nil
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr without a port
		host = r.RemoteAddr
	}
	return host
}

// ExtractHeader keys requests by the value of a header, e.g. "X-API-Key".
func ExtractHeader(name string) KeyExtractor {
	return func(r *http.Request) (string, error) {
		value := r.Header.Get(name)
		if value == "" {
			return "", fmt.Errorf("%w: header %s not found or empty", ErrKeyExtractionFailed, name)
		}
		return "header:" + name + ":" + value, nil
	}
}

// ExtractBearer keys requests by the token of an "Authorization: Bearer" header.
func ExtractBearer() KeyExtractor {
	return func(r *http.Request) (string, error) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			return "", fmt.Errorf("%w: Authorization header not found", ErrKeyExtractionFailed)
		}

		scheme, token, ok := strings.Cut(auth, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return "", fmt.Errorf("%w: invalid Authorization header format", ErrKeyExtractionFailed)
		}
		if token = strings.TrimSpace(token); token == "" {
			return "", fmt.Errorf("%w: empty bearer token", ErrKeyExtractionFailed)
		}
		return "bearer:" + token, nil
	}
}

// ExtractCookie keys requests by a cookie value, e.g. "session_id".
func ExtractCookie(name string) KeyExtractor {
	return func(r *http.Request) (string, error) {
		cookie, err := r.Cookie(name)
		if err != nil {
			return "", fmt.Errorf("%w: cookie %s not found: %v", ErrKeyExtractionFailed, name, err)
		}
		if cookie.Value == "" {
			return "", fmt.Errorf("%w: cookie %s has empty value", ErrKeyExtractionFailed, name)
		}
		return "cookie:" + name + ":" + cookie.Value, nil
	}
}

// ExtractStatic puts every request in one shared bucket (a global limit).
func ExtractStatic(key string) KeyExtractor {
	return func(*http.Request) (string, error) {
		if key == "" {
			return "", fmt.Errorf("%w: static key is empty", ErrKeyExtractionFailed)
		}
		return key, nil
	}
}

// ExtractComposite returns the key of the first extractor that succeeds.
//
//	ExtractComposite(
//	    ExtractHeader("X-API-Key"),
//	    ExtractIPWithProxy(), // no API key
//	)
func ExtractComposite(extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) (string, error) {
		if len(extractors) == 0 {
			return "", fmt.Errorf("%w: no extractors provided", ErrKeyExtractionFailed)
		}

		errs := make([]error, 0, len(extractors))
		for _, extract := range extractors {
			key, err := extract(r)
			if err == nil && key != "" {
				return key, nil
			}
			errs = append(errs, err)
		}
		return "", fmt.Errorf("%w: all extractors failed: %w", ErrKeyExtractionFailed, errors.Join(errs...))
	}
}

// ParseKeyExtractor builds a KeyExtractor from a spec string:
//
//	ip                  ExtractIP()
//	ip-proxy            ExtractIPWithProxy()
//	header:X-API-Key    ExtractHeader("X-API-Key")
//	bearer              ExtractBearer()
//	cookie:session_id   ExtractCookie("session_id")
//	static:global       ExtractStatic("global")
//
// Specs joined with '|' are tried in order: "header:X-API-Key|ip-proxy".
func ParseKeyExtractor(spec string) (KeyExtractor, error) {
	if strings.Contains(spec, "|") {
		parts := strings.Split(spec, "|")
		extractors := make([]KeyExtractor, 0, len(parts))
		for _, part := range parts {
			e, err := ParseKeyExtractor(part)
			if err != nil {
				return nil, err
			}
			extractors = append(extractors, e)
		}
		return ExtractComposite(extractors...), nil
	}

	kind, arg, hasArg := strings.Cut(strings.TrimSpace(spec), ":")
	needArg := func() error {
		if !hasArg || arg == "" {
			return fmt.Errorf("%w: %s extractor requires format '%s:value'", ErrInvalidExtractor, kind, kind)
		}
		return nil
	}

	switch kind {
	case "ip":
		return ExtractIP(), nil
	case "ip-proxy":
		return ExtractIPWithProxy(), nil
	case "bearer":
		return ExtractBearer(), nil
	case "header":
		if err := needArg(); err != nil {
			return nil, err
		}
		return ExtractHeader(arg), nil
	case "cookie":
		if err := needArg(); err != nil {
			return nil, err
		}
		return ExtractCookie(arg), nil
	case "static":
		if err := needArg(); err != nil {
			return nil, err
		}
		return ExtractStatic(arg), nil
	default:
		return nil, fmt.Errorf("%w: unknown key extractor type: %q", ErrInvalidExtractor, kind)
	}
}
