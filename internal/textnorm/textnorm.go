// Package textnorm normalizes "smart" quotation marks to their ASCII
// equivalents at the command-parser boundary, shared by the
// session command processor and the public command parser so both accept
// text pasted from editors that auto-curl quotes.
package textnorm

import "strings"

var replacer = strings.NewReplacer(
	"‘", "'", // LEFT SINGLE QUOTATION MARK
	"’", "'", // RIGHT SINGLE QUOTATION MARK
	"“", "\"", // LEFT DOUBLE QUOTATION MARK
	"”", "\"", // RIGHT DOUBLE QUOTATION MARK
)

// Normalize rewrites smart quotes to ASCII quotes, leaving all other
// valid UTF-8 untouched.
func Normalize(s string) string { return replacer.Replace(s) }
