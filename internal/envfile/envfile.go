// Package envfile renders shell-sourceable files containing only variable
// assignments, like the build environment file exported to in-image
// scripts.
package envfile

import (
	"strings"
)

// Entry is a single NAME=value assignment.
type Entry struct {
	Name  string
	Value string
}

// quote wraps a value for safe shell consumption. Values land between
// single quotes with embedded single quotes escaped.
func quote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

// Format renders the assignments in order, one per line.
func Format(entries []Entry) string {
	builder := strings.Builder{}
	for _, entry := range entries {
		builder.WriteString(entry.Name)
		builder.WriteString("=")
		builder.WriteString(quote(entry.Value))
		builder.WriteString("\n")
	}
	return builder.String()
}
