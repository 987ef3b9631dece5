package session

import (
	"crypto/sha256"
	"fmt"
	"io"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"golang.org/x/crypto/hkdf"

	"netreaper/cmd/internal/ids"
	"netreaper/cmd/security/token"
)

const (
	tokenPrefix = "v4.local."
	hkdfInfo    = "netreaper session token v4.local"
	claimRole   = "role"
)

// Claims is the identity envelope recovered from a verified token.
type Claims struct {
	Subject   string
	Role      string
	ID        string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issued is a freshly minted token with its metadata.
type Issued struct {
	Token     string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IssueOption customizes a single Issue call.
type IssueOption func(*issueOptions)

type issueOptions struct {
	ttl time.Duration
}

// WithTTL overrides the configured lifetime for one token.
func WithTTL(d time.Duration) IssueOption {
	return func(o *issueOptions) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// TokenService issues and verifies session tokens.
type TokenService struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration
	key       paseto.V4SymmetricKey
}

// NewTokenService derives the token key from cfg.Secret. A secret shorter than
// token.MinKeyBytes is a configuration error.
func NewTokenService(cfg Config) (*TokenService, error) {
	if len(cfg.Secret) < token.MinKeyBytes {
		return nil, fmt.Errorf("%w: secret must be at least %d bytes", ErrConfig, token.MinKeyBytes)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultConfig().Issuer
	}

	raw := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, cfg.Secret, nil, []byte(hkdfInfo)), raw); err != nil {
		return nil, fmt.Errorf("%w: derive key: %v", ErrConfig, err)
	}
	key, err := paseto.V4SymmetricKeyFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	return &TokenService{
		issuer:    cfg.Issuer,
		ttl:       cfg.TTL,
		clockSkew: cfg.ClockSkew,
		key:       key,
	}, nil
}

// TTL returns the default token lifetime.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Issue mints a token for subject with the given role.
func (s *TokenService) Issue(subject, role string, now time.Time, opts ...IssueOption) (Issued, error) {
	if strings.TrimSpace(subject) == "" {
		return Issued{}, errEmptySubject
	}
	o := issueOptions{ttl: s.ttl}
	for _, opt := range opts {
		opt(&o)
	}

	now = now.UTC().Truncate(time.Second)
	exp := now.Add(o.ttl)
	jti, err := ids.NewULID(now)
	if err != nil {
		return Issued{}, err
	}

	tok := paseto.NewToken()
	tok.SetIssuer(s.issuer)
	tok.SetSubject(subject)
	tok.SetJti(jti)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	tok.SetString(claimRole, role)

	return Issued{
		Token:     tok.V4Encrypt(s.key, nil),
		ID:        jti,
		IssuedAt:  now,
		ExpiresAt: exp,
	}, nil
}

// Verify decrypts token and checks its claims at now. Every failure unwraps
// to ErrUnauthorized; the specific reason is for logs only.
func (s *TokenService) Verify(tokenStr string, now time.Time) (Claims, error) {
	if !strings.HasPrefix(tokenStr, tokenPrefix) || len(tokenStr) == len(tokenPrefix) {
		return Claims{}, ErrMalformedToken
	}

	// Time rules are applied below against the injected clock.
	p := paseto.NewParserWithoutExpiryCheck()
	parsed, err := p.ParseV4Local(s.key, tokenStr, nil)
	if err != nil {
		return Claims{}, ErrInvalidSignature
	}

	iss, err := parsed.GetIssuer()
	if err != nil || iss != s.issuer {
		return Claims{}, ErrInvalidClaims
	}
	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, ErrInvalidClaims
	}
	jti, err := parsed.GetJti()
	if err != nil || jti == "" {
		return Claims{}, ErrInvalidClaims
	}
	role, err := parsed.GetString(claimRole)
	if err != nil {
		return Claims{}, ErrInvalidClaims
	}
	// iat and exp are required; a token without them is malformed.
	iat, err := parsed.GetIssuedAt()
	if err != nil {
		return Claims{}, ErrMalformedToken
	}
	nbf, err := parsed.GetNotBefore()
	if err != nil {
		return Claims{}, ErrInvalidClaims
	}
	exp, err := parsed.GetExpiration()
	if err != nil {
		return Claims{}, ErrMalformedToken
	}

	if now.Add(s.clockSkew).Before(nbf) {
		return Claims{}, ErrInvalidClaims
	}
	if !now.Add(-s.clockSkew).Before(exp) {
		return Claims{}, ErrExpired
	}

	return Claims{
		Subject:   sub,
		Role:      role,
		ID:        jti,
		Issuer:    iss,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}, nil
}
