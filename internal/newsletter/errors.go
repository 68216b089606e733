package newsletter

import "errors"

var (
	ErrNewsletterNotFound = errors.New("newsletter: not found")
	ErrRecipientNotFound  = errors.New("newsletter: recipient not found")
	ErrAlreadySent        = errors.New("newsletter: already sent")
	ErrEntryExists        = errors.New("newsletter: delivery already recorded")
	ErrInvalidEntry       = errors.New("newsletter: invalid delivery entry")
)
