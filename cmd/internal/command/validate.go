// Package command turns untrusted command text into an argv that is safe to
// exec, and runs that argv with merged, line-streamed output.
package command

import (
	"strings"
	"unicode/utf8"

	shellquote "github.com/kballard/go-shellquote"

	"netreaper/cmd/internal/fault"
)

// Gateway limits for interactive commands.
const (
	DefaultMaxLength = 240
	DefaultMaxArgs   = 25
)

// Rejection reasons. They are advisory and safe to send to the client.
const (
	ReasonEmptyOrTooLong  = "Command is empty or exceeds maximum length."
	ReasonEmptyAfterParse = "Command is empty after parsing."
	ReasonTooManyArgs     = "Command has too many arguments."
	ReasonMetachar        = "Shell metacharacters are not permitted."
	ReasonTraversal       = "Path traversal tokens are not permitted."
)

const shellMetachars = ";&|`$()<>"

// AllowedRoots is the set of executables a command may start with.
type AllowedRoots map[string]struct{}

// NewAllowedRoots builds a root set, skipping blanks.
func NewAllowedRoots(roots ...string) AllowedRoots {
	out := make(AllowedRoots, len(roots))
	for _, r := range roots {
		if r = strings.TrimSpace(r); r != "" {
			out[r] = struct{}{}
		}
	}
	return out
}

// Permits reports whether root equals an allowed root or ends with one.
// The suffix form lets an absolute path to an allowed binary through.
func (a AllowedRoots) Permits(root string) bool {
	if _, ok := a[root]; ok {
		return true
	}
	for allowed := range a {
		if strings.HasSuffix(root, allowed) {
			return true
		}
	}
	return false
}

// Validate splits raw into an argv and checks it, stopping at the first failure.
// The returned argv is meant for direct exec; it is never re-joined for a shell.
func Validate(raw string, roots AllowedRoots, maxLength, maxArgs int) ([]string, error) {
	if raw == "" || utf8.RuneCountInString(raw) > maxLength {
		return nil, fault.Reject(ReasonEmptyOrTooLong)
	}

	argv, err := shellquote.Split(raw)
	if err != nil {
		return nil, fault.Reject("Command parsing failed: %v", err)
	}
	if len(argv) == 0 {
		return nil, fault.Reject(ReasonEmptyAfterParse)
	}
	if len(argv) > maxArgs {
		return nil, fault.Reject(ReasonTooManyArgs)
	}
	if !roots.Permits(argv[0]) {
		return nil, fault.Reject("Command not permitted: %s", argv[0])
	}
	if err := CheckTokens(argv...); err != nil {
		return nil, err
	}
	return argv, nil
}

// CheckTokens applies the metacharacter and traversal checks to each token.
// Scan targets go through the same checks as interactive argv.
func CheckTokens(tokens ...string) error {
	for _, t := range tokens {
		if strings.ContainsAny(t, shellMetachars) {
			return fault.Reject(ReasonMetachar)
		}
	}
	for _, t := range tokens {
		if strings.Contains(t, "..") || strings.Contains(t, "~") {
			return fault.Reject(ReasonTraversal)
		}
	}
	return nil
}
