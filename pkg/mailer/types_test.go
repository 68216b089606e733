package mailer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSimpleTags(t *testing.T) {
	t.Parallel()

	tags := SimpleTags("newsletter", "bulk")
	require.Len(t, tags, 2)
	require.Equal(t, struct{}{}, tags["newsletter"])
	require.Empty(t, SimpleTags())
}

func TestAddress(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Team <team@example.com>", Address("Team", "team@example.com"))
	require.Equal(t, "team@example.com", Address("", "team@example.com"))
}

func TestEmail_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		email *Email
		want  error
	}{
		{name: "nil", email: nil, want: ErrNoRecipient},
		{name: "no recipient", email: &Email{Subject: "s", HTML: "h"}, want: ErrNoRecipient},
		{name: "no subject", email: &Email{To: "a@x.com", HTML: "h"}, want: ErrNoSubject},
		{name: "no content", email: &Email{To: "a@x.com", Subject: "s"}, want: ErrNoContent},
		{name: "valid", email: &Email{To: "a@x.com", Subject: "s", HTML: "h"}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.email.Validate()
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}
