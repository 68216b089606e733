package templates_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridprotocol/newsletter/internal/templates"
	"github.com/hybridprotocol/newsletter/pkg/mailer"
)

func TestNewsletterLayout(t *testing.T) {
	t.Parallel()

	r := mailer.NewRenderer(templates.FS)
	out, err := r.Render("newsletter.html", mailer.Content{
		Subject:        "Spring issue",
		Preheader:      "What changed this season",
		Body:           "## News\n\n[!cta|Read more](https://example.com/post)",
		ViewURL:        "https://example.com/newsletter/spring",
		UnsubscribeURL: "__UNSUB__",
		Year:           2026,
	})
	require.NoError(t, err)

	assert.Contains(t, out.HTML, `class="preheader"`)
	assert.Contains(t, out.HTML, `href="https://example.com/newsletter/spring"`)
	assert.Contains(t, out.HTML, `href="__UNSUB__"`)
	assert.Contains(t, out.HTML, `class="cta"`)
	assert.Contains(t, out.HTML, "2026")

	assert.Contains(t, out.Text, "Unsubscribe (__UNSUB__)")
	assert.Contains(t, out.Text, "Read more (https://example.com/post)")
	assert.NotContains(t, out.Text, "<style")
}

func TestNewsletterLayout_OptionalParts(t *testing.T) {
	t.Parallel()

	r := mailer.NewRenderer(templates.FS)
	out, err := r.Render("newsletter.html", mailer.Content{Subject: "Plain", Body: "Hi", UnsubscribeURL: "__UNSUB__"})
	require.NoError(t, err)
	assert.NotContains(t, out.HTML, `class="preheader"`)
	assert.NotContains(t, out.HTML, "View this email in your browser")
}
