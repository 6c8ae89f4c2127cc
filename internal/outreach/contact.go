package outreach

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var localPartSep = regexp.MustCompile(`[._\-+]`)

// roleWords are mailbox names that never belong to a person.
var roleWords = map[string]bool{
	"info":    true,
	"contact": true,
	"hello":   true,
	"support": true,
	"admin":   true,
	"sales":   true,
	"office":  true,
	"bonjour": true,
	"noreply": true,
}

// ExtractContactName guesses a first name from an email address. It returns
// "" when the local part looks like a role mailbox or is too short.
func ExtractContactName(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return ""
	}
	local := strings.ToLower(email[:at])

	first := localPartSep.Split(local, -1)[0]
	if len([]rune(first)) <= 2 || roleWords[first] {
		return ""
	}
	for _, r := range first {
		if r >= '0' && r <= '9' {
			return ""
		}
	}
	return cases.Title(language.Und).String(first)
}
