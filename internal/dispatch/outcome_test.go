package dispatch_test

import (
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridprotocol/newsletter/internal/dispatch"
	"github.com/hybridprotocol/newsletter/internal/newsletter"
)

func TestOutcome_Entry(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sent := dispatch.Sent("re_123").Entry(1, 2, at)
	require.NoError(t, sent.Validate())
	assert.Equal(t, newsletter.StatusSent, sent.Status)
	assert.Equal(t, "re_123", sent.ProviderMessageID)
	assert.Empty(t, sent.Error)
	assert.Equal(t, at, sent.CreatedAt)
	assert.NotEmpty(t, sent.ID)

	failed := dispatch.Failed("timeout").Entry(1, 2, at)
	require.NoError(t, failed.Validate())
	assert.Equal(t, newsletter.StatusFailed, failed.Status)
	assert.Equal(t, "timeout", failed.Error)
	assert.Empty(t, failed.ProviderMessageID)
	assert.NotEqual(t, sent.ID, failed.ID)
}

func TestFailed_EmptyReason(t *testing.T) {
	t.Parallel()

	o := dispatch.Failed("")
	assert.Equal(t, "unknown error", o.Reason())
	require.NoError(t, o.Entry(1, 1, time.Now()).Validate())
}

func TestFailed_SanitizesReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		reason string
		want   string
	}{
		{name: "plain", reason: "550 mailbox unavailable", want: "550 mailbox unavailable"},
		{name: "nul bytes", reason: "bad\x00gateway\x00", want: "badgateway"},
		{name: "invalid utf8", reason: "upstream \xff\xfe said no", want: "upstream � said no"},
		{name: "only nul", reason: "\x00\x00", want: "unknown error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			o := dispatch.Failed(tt.reason)
			assert.Equal(t, tt.want, o.Reason())
			assert.True(t, utf8.ValidString(o.Reason()))
			assert.NotContains(t, o.Reason(), "\x00")
		})
	}
}
