package filterql

import "strings"

// EscapeLiteral doubles single quotes in s so it can be embedded as a
// filter string literal without being interpreted as the literal's
// terminator (spec §6).
func EscapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
