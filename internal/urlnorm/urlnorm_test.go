package urlnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-search/lodestone/internal/engine"
)

func TestNormalizeEquivalentFormsShareOneKey(t *testing.T) {
	variants := []string{
		"https://Example.COM/docs/guide",
		"https://example.com:443/docs/guide",
		"https://example.com/docs/guide#section-2",
		"https://example.com/docs/./guide",
		"https://example.com/docs/extra/../guide",
		"  https://example.com/docs/guide  ",
	}

	first, err := Normalize(variants[0])
	require.NoError(t, err)
	for _, v := range variants[1:] {
		got, err := Normalize(v)
		require.NoError(t, err)
		assert.Equal(t, first.Key(), got.Key(), "variant %q", v)
	}
	assert.Equal(t, "https://example.com/docs/guide", first.Key())
}

func TestNormalizeIsIdempotent(t *testing.T) {
	c, err := Normalize("https://Example.com:8443/a/b?z=1&a=2#frag")
	require.NoError(t, err)
	again, err := Normalize(c.Key())
	require.NoError(t, err)
	assert.Equal(t, c, again)
}

func TestNormalizeFields(t *testing.T) {
	c, err := Normalize("https://user@example.com:8443/a/b/c?b=2&a=1")
	require.NoError(t, err)
	assert.Equal(t, "https", c.Scheme)
	assert.Equal(t, "user", c.UserInfo)
	assert.Equal(t, "example.com", c.Host)
	assert.Equal(t, 8443, c.Port)
	assert.Equal(t, []string{"a", "b", "c"}, c.PathSegments)
	assert.Equal(t, 3, c.PathLength)
	assert.Equal(t, "a=1&b=2", c.Query)
}

func TestNormalizeRejectsBadInput(t *testing.T) {
	for _, raw := range []string{
		"",
		"example.com/no-scheme",
		"ftp://example.com/file",
		"https:///no-host",
		"https://example.com:99999/",
	} {
		_, err := Normalize(raw)
		assert.ErrorIs(t, err, engine.ErrInvalidURI, "input %q", raw)
	}
}

func TestResolve(t *testing.T) {
	got, err := Resolve("https://example.com/docs/guide", "../api/ref#anchor")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/api/ref", got)

	got, err = Resolve("https://example.com/docs/", "https://other.example.org/x")
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.org/x", got)
}
