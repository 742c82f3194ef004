// Package models provides core data structures for the update distribution service.
// This file contains semantic version parsing and comparison used by the update
// coordinator when deciding whether a client is behind the latest release.
package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Version represents a parsed semantic version.
//
// Major/Minor/Patch are compared numerically. Pre-release identifiers have
// lower precedence than the corresponding release and are compared lexically.
// Build metadata is preserved but ignored for precedence. Raw keeps the
// original string for exact echo back to clients.
type Version struct {
	Major int    `json:"major"`
	Minor int    `json:"minor"`
	Patch int    `json:"patch"`
	Pre   string `json:"pre,omitempty"`
	Build string `json:"build,omitempty"`
	Raw   string `json:"raw"`
}

// ParseVersion parses a version string into a Version.
//
// Accepted forms: "2.1.0", "2.1", "2", "2.1.0-beta.1", "2.1.0+build.7".
// Missing trailing components default to 0.
func ParseVersion(v string) (*Version, error) {
	if v == "" {
		return nil, errors.New("version string cannot be empty")
	}

	version := &Version{Raw: v}

	mainVersion := v
	if idx := strings.Index(v, "+"); idx != -1 {
		version.Build = v[idx+1:]
		mainVersion = v[:idx]
	}
	if idx := strings.Index(mainVersion, "-"); idx != -1 {
		version.Pre = mainVersion[idx+1:]
		mainVersion = mainVersion[:idx]
	}

	parts := strings.Split(mainVersion, ".")
	if len(parts) < 1 || len(parts) > 3 {
		return nil, fmt.Errorf("invalid version format: %s", v)
	}

	var err error
	version.Major, err = strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid major version: %s", parts[0])
	}

	if len(parts) > 1 {
		version.Minor, err = strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid minor version: %s", parts[1])
		}
	}

	if len(parts) > 2 {
		version.Patch, err = strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("invalid patch version: %s", parts[2])
		}
	}

	return version, nil
}

func (v *Version) String() string {
	if v.Raw != "" {
		return v.Raw
	}

	result := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Pre != "" {
		result += "-" + v.Pre
	}
	if v.Build != "" {
		result += "+" + v.Build
	}
	return result
}

// Compare compares two versions according to semantic versioning precedence.
//
// Returns -1 if v < other, 0 if equal, +1 if v > other.
// A pre-release sorts below the corresponding release; two pre-releases of
// the same base version are compared lexically.
func (v *Version) Compare(other *Version) int {
	if v.Major != other.Major {
		return compareInt(v.Major, other.Major)
	}
	if v.Minor != other.Minor {
		return compareInt(v.Minor, other.Minor)
	}
	if v.Patch != other.Patch {
		return compareInt(v.Patch, other.Patch)
	}

	if v.Pre == "" && other.Pre != "" {
		return 1
	}
	if v.Pre != "" && other.Pre == "" {
		return -1
	}
	if v.Pre != "" && other.Pre != "" {
		return strings.Compare(v.Pre, other.Pre)
	}

	return 0
}

func (v *Version) Equal(other *Version) bool {
	return v.Compare(other) == 0
}

func (v *Version) GreaterThan(other *Version) bool {
	return v.Compare(other) > 0
}

func (v *Version) LessThan(other *Version) bool {
	return v.Compare(other) < 0
}

func (v *Version) GreaterThanOrEqual(other *Version) bool {
	return v.Compare(other) >= 0
}

// CompareVersions compares two version strings.
//
// Each dot component is parsed as an integer; missing trailing components are
// treated as 0. When either string does not parse numerically, both are
// compared as plain strings. This degraded mode keeps checks working for
// custom version schemes, at the cost of lexical ordering.
func CompareVersions(a, b string) int {
	av, errA := ParseVersion(a)
	bv, errB := ParseVersion(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return av.Compare(bv)
}

func compareInt(a, b int) int {
	if a > b {
		return 1
	}
	if a < b {
		return -1
	}
	return 0
}
