// Package pairing issues short codes that bind a device to a role so a second
// client can join the operator's session.
package pairing

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
	"time"
)

const (
	defaultCodeBytes = 8
	defaultTTL       = 24 * time.Hour
	maxDeviceIDLen   = 128
	maxCreateRetries = 3
)

// Roles a device can pair as.
const (
	RoleRemote = "remote"
	RoleGUI    = "gui"
)

// StatusPaired is the only status a stored session has.
const StatusPaired = "paired"

var codePattern = regexp.MustCompile(`^[A-Z0-9_-]{8,16}$`)

// Session is a stored pairing.
type Session struct {
	Code      string    `json:"pair_code"`
	DeviceID  string    `json:"device_id"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PairInput describes a pairing request.
type PairInput struct {
	DeviceID  string
	Role      string
	CreatedBy string
	Now       time.Time
}

// Service manages pairing creation and lookup.
type Service struct {
	store     Store
	ttl       time.Duration
	codeBytes int
}

// Option configures the Service.
type Option func(*Service) error

// WithTTL sets how long a pairing stays resolvable.
func WithTTL(d time.Duration) Option {
	return func(s *Service) error {
		if d <= 0 {
			return ErrInvalidInput
		}
		s.ttl = d
		return nil
	}
}

// WithCodeBytes sets the entropy of generated codes. The encoded code must
// still fit the 8..16 character lookup format.
func WithCodeBytes(n int) Option {
	return func(s *Service) error {
		if n < 6 || n > 12 {
			return ErrInvalidInput
		}
		s.codeBytes = n
		return nil
	}
}

// NewService constructs a Service with safe defaults.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{store: store, ttl: defaultTTL, codeBytes: defaultCodeBytes}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Pair creates a pairing session for a device.
func (s *Service) Pair(ctx context.Context, in PairInput) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	deviceID := strings.TrimSpace(in.DeviceID)
	if deviceID == "" || len(deviceID) > maxDeviceIDLen {
		return Session{}, ErrInvalidInput
	}
	role := strings.ToLower(strings.TrimSpace(in.Role))
	if role != RoleRemote && role != RoleGUI {
		return Session{}, ErrInvalidInput
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	for attempt := 0; ; attempt++ {
		code, err := newCode(s.codeBytes)
		if err != nil {
			return Session{}, err
		}
		sess := Session{
			Code:      code,
			DeviceID:  deviceID,
			Role:      role,
			Status:    StatusPaired,
			CreatedBy: strings.TrimSpace(in.CreatedBy),
			CreatedAt: now,
			ExpiresAt: now.Add(s.ttl),
		}
		err = s.store.Create(ctx, sess)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, ErrConflict) || attempt+1 >= maxCreateRetries {
			return Session{}, err
		}
	}
}

// Lookup resolves a code. Malformed codes are rejected before the store is queried.
func (s *Service) Lookup(ctx context.Context, code string, now time.Time) (Session, error) {
	if !ValidCode(code) {
		return Session{}, ErrInvalidCode
	}
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	sess, err := s.store.Get(ctx, code)
	if err != nil {
		return Session{}, err
	}
	if !sess.ExpiresAt.After(now) {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

// PurgeExpired removes sessions whose expiry is at or before now.
func (s *Service) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	return s.store.DeleteExpired(ctx, now)
}

// ValidCode reports whether code has the pairing code format.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

func newCode(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(base64.RawURLEncoding.EncodeToString(b)), nil
}
