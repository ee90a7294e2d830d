package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// GlobalScope is the endpoint scope used when a limit applies to every route.
const GlobalScope = "global"

// IdentityHash returns the first eight hex characters of sha256(apiKey or ip).
// Raw credentials never reach the shared store.
func IdentityHash(apiKey, ip string) string {
	source := apiKey
	if source == "" {
		source = ip
	}
	return shortHash([]byte(source))
}

// QueryHash hashes the query parameters as JSON with sorted keys so parameter
// order does not produce distinct cache entries.
func QueryHash(query url.Values) string {
	normalized := make(map[string][]string, len(query))
	for key, values := range query {
		sorted := append([]string(nil), values...)
		sort.Strings(sorted)
		normalized[key] = sorted
	}
	// encoding/json writes map keys in sorted order.
	data, err := json.Marshal(normalized)
	if err != nil {
		data = []byte(query.Encode())
	}
	return shortHash(data)
}

func shortHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:8]
}

// ClientIP returns the caller address without its port. Proxy headers are
// only reflected here when the router trusts them and rewrites RemoteAddr.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// RequestIdentity hashes the API key carried in header, or the client IP when
// the header is absent.
func RequestIdentity(r *http.Request, header string) string {
	var apiKey string
	if header != "" {
		apiKey = strings.TrimSpace(r.Header.Get(header))
	}
	return IdentityHash(apiKey, ClientIP(r))
}
