package password

import (
	"errors"
	"testing"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func TestHashAndVerifyArgon2id(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()

	h, err := cfg.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := cfg.VerifyArgon2id(h, "correct horse battery staple")
	if err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}
	ok, err = cfg.VerifyArgon2id(h, "wrong horse battery staple")
	if err != nil || ok {
		t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
	}
}

func TestVerifyArgon2id_InvalidHash(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()

	for _, h := range []string{
		"not-a-hash",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2hoYXNoaGFzaA",
		"$argon2id$v=19$m=99999999,t=1,p=1$c2FsdHNhbHRzYWx0$aGFzaGhhc2hoYXNoaGFzaA",
	} {
		if ok, err := cfg.VerifyArgon2id(h, "whatever"); !errors.Is(err, ErrInvalidHash) || ok {
			t.Fatalf("hash %q: ok=%v err=%v", h, ok, err)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Policy.MaxLength = 20

	cases := []struct {
		pw   string
		want error
	}{
		{pw: "short", want: ErrPasswordTooShort},
		{pw: "this password is definitely too long", want: ErrPasswordTooLong},
		{pw: "aaaaaaaaaaaaaa", want: ErrWeakPassword},
		{pw: "12345678901234", want: ErrWeakPassword},
		{pw: "NetReaper123", want: ErrWeakPassword},
		{pw: "scan-the-lan-42", want: nil},
	}
	for _, tc := range cases {
		if err := cfg.Validate(tc.pw); !errors.Is(err, tc.want) {
			t.Fatalf("Validate(%q)=%v want %v", tc.pw, err, tc.want)
		}
	}
}
