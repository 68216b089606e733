package resend

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/resend/resend-go/v3"

	"github.com/hybridprotocol/newsletter/pkg/mailer"
)

// ErrEmptyMessageID is returned when Resend accepts a message without an id.
var ErrEmptyMessageID = errors.New("resend: empty message id in response")

// emailsAPI is the subset of the Resend client the sender uses.
type emailsAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Sender implements mailer.Sender using the Resend API.
type Sender struct {
	emails  emailsAPI
	config  Config
	timeout time.Duration
}

// Option configures the Sender.
type Option func(*Sender)

// WithTimeout bounds every provider call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Sender) {
		if d >= 0 {
			s.timeout = d
		}
	}
}

// New creates a new Resend sender.
func New(cfg Config, opts ...Option) *Sender {
	s := &Sender{
		emails: resend.NewClient(cfg.APIKey).Emails,
		config: cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send implements mailer.Sender and returns the Resend email id.
func (s *Sender) Send(ctx context.Context, email *mailer.Email) (string, error) {
	if err := email.Validate(); err != nil {
		return "", err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req := &resend.SendEmailRequest{
		From:    s.from(email),
		To:      []string{email.To},
		Subject: email.Subject,
		Html:    email.HTML,
		Text:    email.Text,
		ReplyTo: email.ReplyTo,
		Headers: email.Headers,
	}

	if len(email.Tags) > 0 {
		req.Tags = convertTags(email.Tags)
	}

	resp, err := s.emails.SendWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("resend: failed to send email: %w", err)
	}
	if resp == nil || resp.Id == "" {
		return "", ErrEmptyMessageID
	}

	return resp.Id, nil
}

func (s *Sender) from(email *mailer.Email) string {
	if email.From != "" {
		return email.From
	}
	return mailer.Address(s.config.SenderName, s.config.SenderEmail)
}

func convertTags(tags mailer.Tags) []resend.Tag {
	result := make([]resend.Tag, 0, len(tags))
	for name, value := range tags {
		result = append(result, resend.Tag{
			Name:  name,
			Value: tagValue(value),
		})
	}
	return result
}

// tagValue converts any value to a string for Resend's tag API.
// Presence-only tags (struct{}{}) become "true".
func tagValue(v any) string {
	switch val := v.(type) {
	case nil, struct{}:
		return "true"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
