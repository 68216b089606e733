package mailer

import "errors"

var (
	// ErrNoRecipient indicates no recipient was specified.
	ErrNoRecipient = errors.New("mailer: email must have a recipient")

	// ErrNoSubject indicates no subject was provided.
	ErrNoSubject = errors.New("mailer: email must have a subject")

	// ErrNoContent indicates no HTML content was provided.
	ErrNoContent = errors.New("mailer: email must have HTML content")

	// ErrLayoutNotFound indicates the layout file was not found.
	ErrLayoutNotFound = errors.New("mailer: layout not found")

	// ErrRenderFailed indicates markdown conversion or layout execution failed.
	ErrRenderFailed = errors.New("mailer: failed to render content")

	// ErrSendFailed indicates the provider rejected or could not deliver the email.
	ErrSendFailed = errors.New("mailer: failed to send email")
)
