package directory

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdao.co/channels/identity"
)

func TestCodeOfWrapped(t *testing.T) {
	base := Errorf(CodeNotFound, "probe", "No such channel")
	wrapped := fmt.Errorf("reconcile: %w", base)

	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, CodeNotFound))
	assert.False(t, IsCode(wrapped, CodeUnauthorized))
	assert.Equal(t, "No such channel", MessageOf(wrapped))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.False(t, IsCode(nil, ""))
	assert.Contains(t, base.Error(), "probe")
}

func TestCodesValid(t *testing.T) {
	for _, c := range Codes {
		assert.True(t, c.Valid(), c)
	}
	assert.False(t, Code("teapot").Valid())
}

func TestTokenHash(t *testing.T) {
	a, err := NewTokenHash(bytes.NewReader(bytes.Repeat([]byte{1}, 32)))
	require.NoError(t, err)
	b, err := NewTokenHash(nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, TokenPrefix))
	assert.NotEqual(t, a, b)

	tok, err := ParseToken("  " + a + "\n")
	require.NoError(t, err)
	assert.Equal(t, a, tok.Hash)

	_, err = ParseToken("XYZ")
	assert.Error(t, err)
	_, err = ParseToken(TokenPrefix)
	assert.Error(t, err)
}

func TestPageURL(t *testing.T) {
	id, err := identity.FromSeed(identity.Ed25519, bytes.Repeat([]byte{9}, identity.SeedSize))
	require.NoError(t, err)

	url := PageURL("https://c3.example.net/", id.Handle(), 8, "index.html")
	prefix := id.Handle().PagePrefix(8)
	assert.Equal(t, "https://c3.example.net/api/v2/page/"+prefix+"/index.html", url)

	// Zero prefix length falls back to the default.
	assert.Equal(t, url, PageURL("https://c3.example.net", id.Handle(), 0, "/index.html"))
}
