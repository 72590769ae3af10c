package auth

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const maxNameLength = 100

var namePolicy = bluemonday.StrictPolicy()

// SanitizeName strips markup from a display name and bounds its length
func SanitizeName(name string) string {
	clean := html.UnescapeString(namePolicy.Sanitize(name))
	clean = strings.Join(strings.Fields(clean), " ")

	if utf8.RuneCountInString(clean) > maxNameLength {
		clean = string([]rune(clean)[:maxNameLength])
	}
	return clean
}
