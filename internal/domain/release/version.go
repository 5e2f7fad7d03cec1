package release

import (
	"errors"
	"fmt"
	"strings"

	debversion "github.com/knqyf263/go-deb-version"
)

// ErrInvalidVersion is returned for strings that are not package versions.
var ErrInvalidVersion = errors.New("invalid package version")

// ParseVersion parses a dpkg version. A leading "v" used by release tags is dropped.
func ParseVersion(s string) (debversion.Version, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "v"), "V")

	v, err := debversion.NewVersion(s)
	if err != nil {
		return debversion.Version{}, fmt.Errorf("%q: %w: %w", s, ErrInvalidVersion, err)
	}

	return v, nil
}

// IsNewer reports whether candidate is strictly greater than installed
// under dpkg ordering. An empty installed version is always older.
func IsNewer(installed, candidate string) (bool, error) {
	c, err := ParseVersion(candidate)
	if err != nil {
		return false, err
	}

	if strings.TrimSpace(installed) == "" {
		return true, nil
	}

	i, err := ParseVersion(installed)
	if err != nil {
		return false, err
	}

	return c.GreaterThan(i), nil
}
