// Package mailer defines the email transport boundary and the newsletter
// content renderer.
//
// # Architecture
//
//   - Sender: interface every provider implements; returns the provider message id
//   - Email: a fully-prepared single-recipient message
//   - Renderer: markdown (goldmark) to sanitized HTML (bluemonday), wrapped in an
//     html/template layout, plus a plain text alternative
//
// Providers live in sub-packages: [github.com/hybridprotocol/newsletter/pkg/mailer/resend]
// for production and [github.com/hybridprotocol/newsletter/pkg/mailer/logsender] for
// development.
//
// # Usage
//
//	renderer := mailer.NewRenderer(templates.FS)
//	result, err := renderer.Render("newsletter.html", mailer.Content{
//		Subject:        n.Subject,
//		Body:           n.Body,
//		UnsubscribeURL: "__UNSUB__",
//	})
//	if err != nil {
//		return err
//	}
//
//	msgID, err := sender.Send(ctx, &mailer.Email{
//		To:      "user@example.com",
//		Subject: n.Subject,
//		HTML:    result.HTML,
//		Text:    result.Text,
//	})
//
// # Layouts
//
// Layouts are html/template files read from the configured directory
// ("layouts" by default). They receive Subject, Preheader, Content (trusted HTML),
// ViewURL, UnsubscribeURL and Year.
//
// Bodies may contain call-to-action links, [!cta|Label](https://...), rendered
// as <a class="cta"> so layouts can style them as buttons.
//
// # Errors
//
//   - ErrNoRecipient, ErrNoSubject, ErrNoContent: invalid Email
//   - ErrLayoutNotFound: layout file missing
//   - ErrRenderFailed: markdown conversion or layout execution failed
//   - ErrSendFailed: provider failure (wrapped by callers)
package mailer
