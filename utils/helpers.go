package utils

import (
	"strings"
)

// MaskEmail hides most of the local part for logging: "ana.souza@x.com"
// becomes "a***a@x.com". Short or malformed input is returned unchanged.
func MaskEmail(email string) string {
	if len(email) < 5 {
		return email
	}

	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}

	username := []rune(email[:at])
	domain := email[at+1:]

	if len(username) > 2 {
		return string(username[0]) + "***" + string(username[len(username)-1]) + "@" + domain
	}

	return string(username) + "@" + domain
}
