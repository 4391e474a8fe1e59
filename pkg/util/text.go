package util

import "strings"

// SafeText makes s storable in a Postgres TEXT column: invalid UTF-8 becomes
// U+FFFD and NUL bytes are dropped.
func SafeText(s string) string {
	s = strings.ToValidUTF8(s, "�")
	return strings.ReplaceAll(s, "\x00", "")
}
