package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Env resolves settings: the process environment wins, then values from the
// --config file, then the caller's default.
type Env struct {
	getenv func(string) string
	file   map[string]string
}

// NewEnv returns an Env over getenv (os.Getenv when nil) and optional file values.
func NewEnv(getenv func(string) string, file map[string]string) Env {
	if getenv == nil {
		getenv = os.Getenv
	}
	return Env{getenv: getenv, file: file}
}

// Lookup returns the raw value for key, or "".
func (e Env) Lookup(key string) string {
	if e.getenv == nil {
		e.getenv = os.Getenv
	}
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(e.file[key])
}

// String reads a string setting with a default.
func (e Env) String(key, def string) string {
	if v := e.Lookup(key); v != "" {
		return v
	}
	return def
}

// Bool reads a bool setting with a default.
func (e Env) Bool(key string, def bool) bool {
	v := e.Lookup(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Int reads a positive int setting with a default.
func (e Env) Int(key string, def int) int {
	v := e.Lookup(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// Int32 reads a non-negative int32 setting with a default.
func (e Env) Int32(key string, def int32) int32 {
	v := e.Lookup(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil || n < 0 {
		return def
	}
	return int32(n)
}

// Duration reads a positive duration setting with a default.
func (e Env) Duration(key string, def time.Duration) time.Duration {
	v := e.Lookup(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// CSV reads a comma-separated list, dropping blanks.
func (e Env) CSV(key string) []string {
	v := e.Lookup(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
