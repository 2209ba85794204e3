package deduplication

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"

	"newsindex/types"
)

const (
	keyPrefixID  = "id:"
	keyPrefixURL = "url:"
)

// IdentityKey is the provider-native identity of an item: its native id when
// the provider has one, otherwise its normalized URL.
func IdentityKey(nativeID, rawURL string) string {
	if id := strings.TrimSpace(nativeID); id != "" {
		return keyPrefixID + id
	}
	return keyPrefixURL + normalizeURL(rawURL)
}

// Fingerprint hashes an article's identity. Native ids are scoped by source;
// URL identities are not, so the same link from two feeds collapses.
func Fingerprint(a *types.Article) string {
	key := a.NativeID
	if !strings.HasPrefix(key, keyPrefixURL) {
		key = strings.ToLower(strings.TrimSpace(a.SourceName)) + "|" + key
	}
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// normalizeURL lowercases scheme and host, drops the fragment and tracking
// parameters (utm_*, fbclid, gclid) and trims a trailing slash.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return strings.ToLower(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for k := range q {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "utm_") || lk == "fbclid" || lk == "gclid" {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()

	return strings.TrimRight(u.String(), "/")
}
