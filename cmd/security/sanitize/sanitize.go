// Package sanitize redacts credential-looking fragments from process output and
// command text before they reach clients, subscribers, the audit trail or logs.
//
// Redaction is pattern based. It catches the common key=value, key: value and
// Authorization header shapes; it does not guarantee that every secret format
// is recognized.
package sanitize

import (
	"regexp"
	"strings"
)

// Marker replaces every redacted value.
const Marker = "***REDACTED***"

type rule struct {
	re   *regexp.Regexp
	repl string
}

// Rules run in order. Keys, separators and auth schemes are kept so the
// redacted line stays readable.
var lineRules = []rule{
	{re: regexp.MustCompile(`(?i)(password|passwd|pwd)([=:\s]+)\S+`), repl: "${1}${2}" + Marker},
	{re: regexp.MustCompile(`(?i)(api[_-]?key|token|secret)([=:\s]+)\S+`), repl: "${1}${2}" + Marker},
	{re: regexp.MustCompile(`(?i)(authorization|bearer)([:\s]+)((?:bearer|basic|token)\s+)?\S+`), repl: "${1}${2}${3}" + Marker},
}

// Flag-style secrets only appear in command text.
var flagRule = rule{
	re:   regexp.MustCompile(`(^|\s)(-p|--password|--passwd)(\s+)\S+`),
	repl: "${1}${2}${3}" + Marker,
}

// Redact returns line with every matching secret value replaced by Marker.
func Redact(line string) string {
	if line == "" {
		return line
	}
	for _, r := range lineRules {
		line = r.re.ReplaceAllString(line, r.repl)
	}
	return line
}

// RedactCommand redacts a command string, including -p/--password flag values.
func RedactCommand(cmd string) string {
	return Redact(flagRule.re.ReplaceAllString(cmd, flagRule.repl))
}

// RedactArgv joins argv with spaces and redacts the result.
func RedactArgv(argv []string) string {
	return RedactCommand(strings.Join(argv, " "))
}

// SecretKey reports whether a map key names a credential and must not be echoed or stored.
func SecretKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range []string{"password", "passwd", "secret", "token", "api_key", "apikey", "authorization"} {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
