package mailer

import "time"

// Config holds provider-independent transport settings.
// Embed this in your app config for env parsing with caarlos0/env.
type Config struct {
	// Provider selects the Sender implementation ("resend" or "log").
	Provider string `env:"MAILER_PROVIDER" envDefault:"log" yaml:"provider"`
	// From is the sender address used for newsletters.
	From string `env:"EMAIL_FROM" yaml:"from"`
	// ReplyTo is optional.
	ReplyTo string `env:"EMAIL_REPLY_TO" yaml:"reply_to"`
	// Layout is the layout file used for newsletter bodies.
	Layout string `env:"MAILER_LAYOUT" envDefault:"newsletter.html" yaml:"layout"`
	// SendTimeout bounds a single provider call.
	SendTimeout time.Duration `env:"MAILER_SEND_TIMEOUT" envDefault:"15s" yaml:"send_timeout"`
}
