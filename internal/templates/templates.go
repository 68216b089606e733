// Package templates embeds the email layouts rendered by pkg/mailer.
package templates

import "embed"

// FS holds layouts/*.html.
//
//go:embed layouts/*.html
var FS embed.FS
