package util

import "strings"

func StringPtr(s string) *string {
	return &s
}

func IntPtr(i int) *int {
	return &i
}

// SplitCSV splits a comma separated list, dropping blanks.
func SplitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
