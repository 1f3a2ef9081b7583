package game

import (
	"strings"
)

const ANONYMOUS_LABEL = "Player"

// MaskLabel hides a player's contact behind a short public label. Emails keep
// their first character and the character before '@'; phones keep two digits at
// each end.
func MaskLabel(c *Contact) string {
	if c == nil {
		return ANONYMOUS_LABEL
	}

	if email := strings.TrimSpace(c.Email); email != "" {
		r := []rune(email)
		at := strings.IndexRune(email, '@')
		if at > 1 {
			local := []rune(email[:at])
			return string(r[0]) + "***" + string(local[len(local)-1])
		}
		return string(r[0]) + "***"
	}

	if phone := strings.TrimSpace(c.Phone); phone != "" {
		r := []rune(phone)
		if len(r) >= 4 {
			return string(r[:2]) + "***" + string(r[len(r)-2:])
		}
		return string(r[0]) + "***"
	}

	return ANONYMOUS_LABEL
}
