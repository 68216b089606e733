package dispatch_test

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridprotocol/newsletter/internal/dispatch"
	"github.com/hybridprotocol/newsletter/pkg/signer"
)

func TestLinks(t *testing.T) {
	t.Parallel()

	l, err := dispatch.NewLinks(dispatch.LinkConfig{
		BaseURL:           "https://api.example.com/",
		PublicFrontendURL: "https://example.com/",
		ViewPath:          "/newsletter/",
		UnsubscribeSecret: testSecret,
	})
	require.NoError(t, err)

	u := l.Unsubscribe(7)
	require.True(t, strings.HasPrefix(u, "https://api.example.com/unsubscribe/?t="), u)

	parsed, err := url.Parse(u)
	require.NoError(t, err)
	rid, err := l.VerifyUnsubscribe(parsed.Query().Get("t"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), rid)

	assert.Equal(t, u, l.Unsubscribe(7), "tokens are deterministic")
	assert.NotEqual(t, u, l.Unsubscribe(8))

	assert.Equal(t, "https://example.com/newsletter/spring-issue", l.View("spring-issue"))
	assert.Empty(t, l.View(""))
}

func TestLinks_ViewWithoutFrontend(t *testing.T) {
	t.Parallel()

	l, err := dispatch.NewLinks(dispatch.LinkConfig{BaseURL: "https://api.example.com", UnsubscribeSecret: testSecret})
	require.NoError(t, err)
	assert.Empty(t, l.View("issue"))
}

func TestLinks_RejectsTamperedToken(t *testing.T) {
	t.Parallel()

	l, err := dispatch.NewLinks(dispatch.LinkConfig{BaseURL: "https://api.example.com", UnsubscribeSecret: testSecret})
	require.NoError(t, err)

	other, err := dispatch.NewLinks(dispatch.LinkConfig{BaseURL: "https://api.example.com", UnsubscribeSecret: strings.Repeat("x", 32)})
	require.NoError(t, err)

	parsed, err := url.Parse(other.Unsubscribe(7))
	require.NoError(t, err)

	_, err = l.VerifyUnsubscribe(parsed.Query().Get("t"))
	require.ErrorIs(t, err, signer.ErrBadSig)
}

func TestNewLinks_ShortSecret(t *testing.T) {
	t.Parallel()

	_, err := dispatch.NewLinks(dispatch.LinkConfig{BaseURL: "https://api.example.com", UnsubscribeSecret: "short"})
	require.ErrorIs(t, err, signer.ErrBadSecret)
}
