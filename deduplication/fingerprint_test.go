package deduplication

import (
	"testing"

	"newsindex/types"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want string
	}{
		{"simple", "https://example.com/path", "https://example.com/path"},
		{"utm and fragment", "https://example.com/path?utm_source=feed#section", "https://example.com/path"},
		{"uppercase host", "HTTP://Example.COM/", "http://example.com"},
		{"tracking params", "https://example.com/?fbclid=XYZ&gclid=ABC&utm_medium=1", "https://example.com"},
		{"keeps real params", "https://example.com/a?id=7&utm_campaign=x", "https://example.com/a?id=7"},
		{"empty", "  ", ""},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, normalizeURL(c.url))
		})
	}
}

func TestIdentityKey(t *testing.T) {
	assert.Equal(t, "id:abc", IdentityKey(" abc ", "https://x.com/a"))
	assert.Equal(t, "url:https://x.com/a", IdentityKey("", "https://X.com/a/?utm_source=rss"))
}

func TestFingerprintStable(t *testing.T) {
	a := &types.Article{SourceName: "Wire", NativeID: IdentityKey("n-1", "")}
	b := &types.Article{SourceName: "wire ", NativeID: IdentityKey("n-1", "https://other")}
	c := &types.Article{SourceName: "Other", NativeID: IdentityKey("n-1", "")}

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
	assert.Len(t, Fingerprint(a), 64)
}

func TestFingerprintURLIdentityIgnoresSource(t *testing.T) {
	a := &types.Article{SourceName: "Wire", NativeID: IdentityKey("", "https://x.com/story?utm_source=a")}
	b := &types.Article{SourceName: "Feed", NativeID: IdentityKey("", "https://x.com/story")}
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}
