package outreach

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractContactName(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"jane.doe@acme.example", "Jane"},
		{"JEAN_PIERRE@acme.example", "Jean"},
		{"marc-antoine@acme.example", "Marc"},
		{"info@acme.example", ""},
		{"contact.us@acme.example", ""},
		{"sales@acme.example", ""},
		{"jo@acme.example", ""},
		{"jd.smith@acme.example", ""},
		{"user123@acme.example", ""},
		{"not-an-email", ""},
		{"@acme.example", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractContactName(tt.email))
		})
	}
}
