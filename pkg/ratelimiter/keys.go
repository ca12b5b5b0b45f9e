package ratelimiter

import (
	"hash/fnv"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// maxKeyLength bounds storage key size; longer composite keys are hashed.
const maxKeyLength = 64

// KeyFunc extracts a rate limit key from the request.
type KeyFunc func(r *http.Request) string

// Composite joins the non-empty keys of several key functions.
// Keys longer than 64 chars are hashed with FNV-1a.
func Composite(keyFuncs ...KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		parts := make([]string, 0, len(keyFuncs))
		for _, fn := range keyFuncs {
			if key := fn(r); key != "" {
				parts = append(parts, key)
			}
		}
		if len(parts) == 0 {
			return ""
		}

		combined := strings.Join(parts, ":")
		if len(combined) > maxKeyLength {
			h := fnv.New64a()
			h.Write([]byte(combined))
			return strconv.FormatUint(h.Sum64(), 36)
		}
		return combined
	}
}

// Static returns a constant key part, used to namespace buckets per route.
func Static(key string) KeyFunc {
	return func(*http.Request) string { return key }
}

// ClientIP keys by the caller's address. Proxy headers are honoured only
// when trustProxy is set, otherwise any client could pick its own bucket.
func ClientIP(trustProxy bool) KeyFunc {
	return func(r *http.Request) string {
		if trustProxy {
			if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
				if parsed := parseIP(ip); parsed != "" {
					return parsed
				}
			}
			for ip := range strings.SplitSeq(r.Header.Get("X-Forwarded-For"), ",") {
				if parsed := parseIP(ip); parsed != "" {
					return parsed
				}
			}
			if parsed := parseIP(r.Header.Get("X-Real-IP")); parsed != "" {
				return parsed
			}
		}

		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return parseIP(r.RemoteAddr)
		}
		return parseIP(host)
	}
}

func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
