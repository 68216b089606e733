package mailer

import "fmt"

// Tags represents email tags/categories that can be either presence-only
// (using struct{}{}) or key-value pairs (using string values).
// Providers convert them to their own format (Resend uses name-value pairs,
// presence-only tags become name="true").
type Tags map[string]any

// SimpleTags creates presence-only tags from a list of tag names.
func SimpleTags(names ...string) Tags {
	t := make(Tags, len(names))
	for _, n := range names {
		t[n] = struct{}{}
	}
	return t
}

// Address formats a name and email into RFC 5322 address format.
// Returns "Name <email>" if name is provided, otherwise just email.
func Address(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}

// Email represents a fully-prepared message for a single recipient.
type Email struct {
	Headers map[string]string // Custom headers (List-Unsubscribe etc.)
	Tags    Tags              // Provider-specific tags/categories
	To      string            // Recipient address
	From    string            // Sender address; provider default when empty
	ReplyTo string            // Optional reply-to address
	Subject string
	HTML    string
	Text    string // Plain text alternative
}

// Validate reports whether the email has everything a provider needs.
func (e *Email) Validate() error {
	switch {
	case e == nil || e.To == "":
		return ErrNoRecipient
	case e.Subject == "":
		return ErrNoSubject
	case e.HTML == "":
		return ErrNoContent
	}
	return nil
}
