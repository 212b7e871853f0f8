package core

import (
	"fmt"
	"strings"
)

// FormatVersion is a comparable MDF format version. The value is the
// version string scaled by 100, e.g. "4.10" -> 410. Using an integer
// instead of the on-disk string keeps version comparisons out of the
// structural algorithms.
type FormatVersion uint16

const (
	V2_00 FormatVersion = 200
	V2_10 FormatVersion = 210
	V2_14 FormatVersion = 214
	V3_00 FormatVersion = 300
	V3_10 FormatVersion = 310
	V3_20 FormatVersion = 320
	V3_30 FormatVersion = 330
	V4_00 FormatVersion = 400
	V4_10 FormatVersion = 410
	V4_11 FormatVersion = 411
	V4_20 FormatVersion = 420
)

// SupportedVersions lists every version accepted by ParseVersion, oldest first.
var SupportedVersions = []FormatVersion{
	V2_00, V2_10, V2_14,
	V3_00, V3_10, V3_20, V3_30,
	V4_00, V4_10, V4_11, V4_20,
}

// ParseVersion converts an on-disk version string ("4.10", "330",
// possibly space or NUL padded) into a FormatVersion.
func ParseVersion(s string) (FormatVersion, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "\x00")
	s = strings.TrimSpace(s)
	digits := strings.ReplaceAll(s, ".", "")
	if len(digits) != 3 {
		return 0, &FormatError{Message: fmt.Sprintf("invalid version string %q", s)}
	}
	var v FormatVersion
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, &FormatError{Message: fmt.Sprintf("invalid version string %q", s)}
		}
		v = v*10 + FormatVersion(c-'0')
	}
	for _, known := range SupportedVersions {
		if v == known {
			return v, nil
		}
	}
	return 0, &FormatError{Message: fmt.Sprintf("unsupported MDF version %q", s)}
}

// String renders the canonical dotted form, e.g. "4.10".
func (v FormatVersion) String() string {
	return fmt.Sprintf("%d.%02d", v/100, v%100)
}

// Major returns the major version number (2, 3 or 4).
func (v FormatVersion) Major() int { return int(v / 100) }

// IsV4 reports whether the version belongs to the 4.00+ block family.
func (v FormatVersion) IsV4() bool { return v >= V4_00 }

// AtLeast reports whether v is other or newer.
func (v FormatVersion) AtLeast(other FormatVersion) bool { return v >= other }
