package util

import "strings"

// ShellQuote wraps s in single quotes for use in a POSIX shell command line.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
