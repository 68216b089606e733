// Package transport selects the email provider the process sends through.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hybridprotocol/newsletter/pkg/mailer"
	"github.com/hybridprotocol/newsletter/pkg/mailer/logsender"
	"github.com/hybridprotocol/newsletter/pkg/mailer/resend"
)

const (
	ProviderResend = "resend"
	ProviderLog    = "log"
)

var (
	ErrUnknownProvider = errors.New("transport: unknown provider")
	ErrMissingAPIKey   = errors.New("transport: resend api key is required")
)

// New builds the Sender named by cfg.Provider. It is called once per process
// and the result is shared by every dispatch.
func New(cfg mailer.Config, rc resend.Config, log *slog.Logger) (mailer.Sender, error) {
	switch p := strings.ToLower(strings.TrimSpace(cfg.Provider)); p {
	case ProviderResend:
		if rc.APIKey == "" {
			return nil, ErrMissingAPIKey
		}
		return resend.New(rc, resend.WithTimeout(cfg.SendTimeout)), nil
	case ProviderLog, "":
		return logsender.New(log.With(slog.String("component", "logsender"))), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, p)
	}
}
