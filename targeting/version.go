package targeting

import (
	"fmt"
	"math"
	"strings"
)

// VersionError reports a version string that can't be parsed.
type VersionError struct {
	Version string
	Msg     string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("version %q: %s", e.Version, e.Msg)
}

// versionPart is one dot-separated part of a version, which has the
// form <number-a><string-b><number-c><extra-d>.  Each piece is
// optional.
type versionPart struct {
	a int32
	b string
	c int32
	d string
}

// Version is a parsed Firefox-style version like "120.0b3" or "4.*".
type Version []versionPart

// ParseVersion parses a version string.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(s, ".")
	v := make(Version, 0, len(parts))
	for _, p := range parts {
		vp, err := parseVersionPart(p)
		if err != nil {
			return nil, &VersionError{Version: s, Msg: err.Error()}
		}
		v = append(v, vp)
	}
	return v, nil
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}

func isNumC(c byte) bool {
	return isDigit(c) || c == '+' || c == '-'
}

func parseNum(s string, i int, n *int32) (int, error) {
	for ; i < len(s) && isDigit(s[i]); i++ {
		x := int64(*n)*10 + int64(s[i]-'0')
		if x > math.MaxInt32 {
			return i, fmt.Errorf("number in %q overflows", s)
		}
		*n = int32(x)
	}
	return i, nil
}

func parseVersionPart(s string) (versionPart, error) {
	var vp versionPart
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return vp, fmt.Errorf("%q contains non-ascii characters", s)
		}
	}
	switch s {
	case "":
		return vp, nil
	case "*":
		vp.a = math.MaxInt32
		return vp, nil
	}

	i, err := parseNum(s, 0, &vp.a)
	if err != nil || i == len(s) {
		return vp, err
	}
	if s[i] == '+' {
		vp.a++
		vp.b = "pre"
		return vp, nil
	}

	j := i
	for j < len(s) && !isNumC(s[j]) {
		j++
	}
	vp.b = s[i:j]
	if j == len(s) {
		return vp, nil
	}

	k, err := parseNum(s, j, &vp.c)
	if err != nil {
		return vp, err
	}
	vp.d = s[k:]
	return vp, nil
}

// compareStrings orders an empty string after any non-empty one.
func compareStrings(x, y string) int {
	switch {
	case x == y:
		return 0
	case x == "":
		return 1
	case y == "":
		return -1
	}
	return strings.Compare(x, y)
}

func compareInts(x, y int32) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func (p versionPart) compare(q versionPart) int {
	if c := compareInts(p.a, q.a); c != 0 {
		return c
	}
	if c := compareStrings(p.b, q.b); c != 0 {
		return c
	}
	if c := compareInts(p.c, q.c); c != 0 {
		return c
	}
	return compareStrings(p.d, q.d)
}

// Compare returns -1, 0 or 1.  Missing parts compare as "0".
func (v Version) Compare(w Version) int {
	n := len(v)
	if len(w) > n {
		n = len(w)
	}
	for i := 0; i < n; i++ {
		var p, q versionPart
		if i < len(v) {
			p = v[i]
		}
		if i < len(w) {
			q = w[i]
		}
		if c := p.compare(q); c != 0 {
			return c
		}
	}
	return 0
}

// CompareVersions parses and compares two version strings.
func CompareVersions(x, y string) (int, error) {
	v, err := ParseVersion(x)
	if err != nil {
		return 0, err
	}
	w, err := ParseVersion(y)
	if err != nil {
		return 0, err
	}
	return v.Compare(w), nil
}
