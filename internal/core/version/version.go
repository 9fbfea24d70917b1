// Package version implements semantic version rules and the per-repository
// version file formats used across the VabHub repositories.
package version

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Validate reports whether v is a strict semantic version (MAJOR.MINOR.PATCH
// with optional prerelease and build metadata).
func Validate(v string) error {
	if _, err := semver.StrictNewVersion(v); err != nil {
		return fmt.Errorf("invalid version %q: %w", v, err)
	}
	return nil
}

// IsPrerelease reports whether v carries a prerelease tag (e.g. 2.0.0-rc.1).
func IsPrerelease(v string) bool {
	sv, err := semver.StrictNewVersion(v)
	if err != nil {
		return false
	}
	return sv.Prerelease() != ""
}

// Compare returns -1, 0, or 1 ordering a against b by semver precedence.
func Compare(a, b string) (int, error) {
	va, err := semver.StrictNewVersion(a)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", a, err)
	}
	vb, err := semver.StrictNewVersion(b)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", b, err)
	}
	return va.Compare(vb), nil
}

// Compatible reports whether moving from current to target stays within the
// same major version. Releases that cross a major boundary require explicit
// operator confirmation.
func Compatible(current, target string) (bool, error) {
	vc, err := semver.StrictNewVersion(current)
	if err != nil {
		return false, fmt.Errorf("invalid version %q: %w", current, err)
	}
	vt, err := semver.StrictNewVersion(target)
	if err != nil {
		return false, fmt.Errorf("invalid version %q: %w", target, err)
	}
	return vc.Major() == vt.Major(), nil
}

// MajorDelta returns the absolute difference between the major versions of
// a and b. Used for rollback risk assessment.
func MajorDelta(a, b string) (uint64, error) {
	va, err := semver.StrictNewVersion(a)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", a, err)
	}
	vb, err := semver.StrictNewVersion(b)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", b, err)
	}
	if va.Major() > vb.Major() {
		return va.Major() - vb.Major(), nil
	}
	return vb.Major() - va.Major(), nil
}

// SatisfiesConstraint reports whether v satisfies a semver constraint
// expression such as "^2.1.0" (caret pins used in package.json dependency
// declarations between VabHub repositories).
func SatisfiesConstraint(v, constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("invalid constraint %q: %w", constraint, err)
	}
	sv, err := semver.StrictNewVersion(v)
	if err != nil {
		return false, fmt.Errorf("invalid version %q: %w", v, err)
	}
	return c.Check(sv), nil
}
