package password

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// Scheme names the storage form of the configured operator password.
type Scheme string

const (
	SchemePlain    Scheme = "plain"
	SchemeArgon2id Scheme = "argon2id"
	SchemeBcrypt   Scheme = "bcrypt"
)

// DetectScheme classifies a stored password value.
func DetectScheme(stored string) Scheme {
	switch {
	case strings.HasPrefix(stored, "$argon2id$"):
		return SchemeArgon2id
	case strings.HasPrefix(stored, "$2a$"), strings.HasPrefix(stored, "$2b$"), strings.HasPrefix(stored, "$2y$"):
		return SchemeBcrypt
	default:
		return SchemePlain
	}
}

// Verifier checks login attempts against the configured operator password.
type Verifier struct {
	cfg    Config
	scheme Scheme
	stored string
	digest [sha256.Size]byte
}

// NewVerifier validates the stored value up front so a malformed hash fails at startup.
func NewVerifier(stored string, cfg Config) (*Verifier, error) {
	if stored == "" {
		return nil, ErrNoPassword
	}

	v := &Verifier{cfg: cfg, scheme: DetectScheme(stored), stored: stored}
	switch v.scheme {
	case SchemeArgon2id:
		params, _, _, err := decodeArgon2id(stored)
		if err != nil {
			return nil, err
		}
		if !withinBounds(params, cfg.Params) {
			return nil, ErrInvalidHash
		}
	case SchemeBcrypt:
		if _, err := bcrypt.Cost([]byte(stored)); err != nil {
			return nil, ErrInvalidHash
		}
	case SchemePlain:
		v.digest = sha256.Sum256([]byte(stored))
	}
	return v, nil
}

// Scheme reports the storage form the verifier was built with.
func (v *Verifier) Scheme() Scheme { return v.scheme }

// Verify reports whether candidate matches. Oversized candidates are rejected
// before any hashing so a single request cannot buy unbounded CPU.
func (v *Verifier) Verify(candidate string) bool {
	if candidate == "" || utf8.RuneCountInString(candidate) > v.cfg.Policy.MaxLength {
		return false
	}

	switch v.scheme {
	case SchemeArgon2id:
		ok, err := v.cfg.VerifyArgon2id(v.stored, candidate)
		return err == nil && ok
	case SchemeBcrypt:
		err := bcrypt.CompareHashAndPassword([]byte(v.stored), []byte(candidate))
		return err == nil
	default:
		got := sha256.Sum256([]byte(candidate))
		return subtle.ConstantTimeCompare(got[:], v.digest[:]) == 1
	}
}

// IsHashed reports whether the stored value is a hash rather than plain text.
func (v *Verifier) IsHashed() bool { return v.scheme != SchemePlain }

// HashBcrypt is offered for operators migrating from bcrypt-based tooling.
func (c Config) HashBcrypt(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrPasswordTooLong
		}
		return "", err
	}
	return string(b), nil
}
