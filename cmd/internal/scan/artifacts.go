package scan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// LatestArtifact returns the newest regular file in dir matching pattern.
// Matches are resolved with securejoin so a symlink cannot point the report
// outside dir. Equal mtimes fall back to the lexically greater name.
func LatestArtifact(dir, pattern string) (string, bool, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", false, err
	}

	var (
		best    string
		bestMod time.Time
	)
	for _, m := range matches {
		resolved, err := securejoin.SecureJoin(dir, filepath.Base(m))
		if err != nil {
			continue
		}
		fi, err := os.Stat(resolved)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		mod := fi.ModTime()
		if best == "" || mod.After(bestMod) || (mod.Equal(bestMod) && resolved > best) {
			best, bestMod = resolved, mod
		}
	}
	return best, best != "", nil
}

// ResolveBinary locates bin, joining a relative path under root without
// letting it escape. The result must be an executable regular file.
func ResolveBinary(root, bin string) (string, error) {
	bin = strings.TrimSpace(bin)
	if bin == "" {
		return "", ErrBinaryMissing
	}
	path := bin
	if !filepath.IsAbs(bin) {
		p, err := securejoin.SecureJoin(root, bin)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrBinaryMissing, err)
		}
		path = p
	}
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrBinaryMissing, path)
	}
	if !fi.Mode().IsRegular() || fi.Mode().Perm()&0o111 == 0 {
		return "", fmt.Errorf("%w: %s is not executable", ErrBinaryMissing, path)
	}
	return path, nil
}
