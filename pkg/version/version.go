// Package version provides middleware API version parsing, comparison and
// URL path helpers.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// API is the middleware API version this client speaks.
const API = "0.1.0"

// APIVersion represents a parsed "major.minor[.patch]" API version.
type APIVersion struct {
	Major uint16
	Minor uint16
	Patch uint16
}

// Current returns API parsed.
func Current() APIVersion {
	v, _ := Parse(API)
	return v
}

// Parse parses a "major.minor" or "major.minor.patch" version string.
func Parse(s string) (APIVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 && len(parts) != 3 {
		return APIVersion{}, fmt.Errorf("invalid version %q: expected major.minor[.patch]", s)
	}

	var nums [3]uint16
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil || p == "" {
			return APIVersion{}, fmt.Errorf("invalid version %q: bad component %q", s, p)
		}
		nums[i] = uint16(n)
	}

	return APIVersion{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// String returns the version as "major.minor.patch".
func (v APIVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compatible reports whether a gateway speaking other accepts requests
// built for v. Majors must match; below 1.0 the minor must match too.
func (v APIVersion) Compatible(other APIVersion) bool {
	if v.Major != other.Major {
		return false
	}
	return v.Major != 0 || v.Minor == other.Minor
}

// PathPrefix returns the URL path prefix for v: "api/major.minor.patch/".
func (v APIVersion) PathPrefix() string {
	return "api/" + v.String() + "/"
}

// CompatibleWith reports whether the advertised version s can be used by
// this client. An empty string is assumed compatible.
func CompatibleWith(s string) (bool, error) {
	if s == "" {
		return true, nil
	}
	other, err := Parse(s)
	if err != nil {
		return false, err
	}
	return Current().Compatible(other), nil
}
