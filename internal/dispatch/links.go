package dispatch

import (
	"net/url"
	"strings"

	"github.com/hybridprotocol/newsletter/pkg/signer"
)

// Placeholder stands in for the unsubscribe URL in the rendered base message
// and is replaced per recipient.
const Placeholder = "__UNSUB__"

// UnsubscribePath is served by the admin HTTP server.
const UnsubscribePath = "/unsubscribe/"

const unsubscribeSalt = "newsletter.unsubscribe"

// Links builds per-recipient and per-issue URLs.
type Links struct {
	signer   *signer.Signer
	base     string
	frontend string
	viewPath string
}

// NewLinks validates the secret and returns a link builder.
func NewLinks(cfg LinkConfig) (*Links, error) {
	s, err := signer.New(cfg.UnsubscribeSecret, unsubscribeSalt)
	if err != nil {
		return nil, err
	}
	return &Links{
		signer:   s,
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		frontend: strings.TrimRight(cfg.PublicFrontendURL, "/"),
		viewPath: strings.Trim(cfg.ViewPath, "/"),
	}, nil
}

// Unsubscribe returns BASE_URL/unsubscribe/?t=<token>. Tokens never expire.
func (l *Links) Unsubscribe(recipientID int64) string {
	return l.base + UnsubscribePath + "?t=" + url.QueryEscape(l.signer.SignRecipient(recipientID))
}

// VerifyUnsubscribe returns the recipient id carried by an unsubscribe token.
func (l *Links) VerifyUnsubscribe(token string) (int64, error) {
	return l.signer.VerifyRecipient(token)
}

// View returns the web version URL of an issue, or "" when no frontend is configured.
func (l *Links) View(slug string) string {
	if l.frontend == "" || slug == "" {
		return ""
	}
	if l.viewPath == "" {
		return l.frontend + "/" + url.PathEscape(slug)
	}
	return l.frontend + "/" + l.viewPath + "/" + url.PathEscape(slug)
}
