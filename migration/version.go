package migration

import (
	"errors"
	"fmt"
	"strings"
)

type versionKind uint8

const (
	versionUndefined versionKind = iota
	versionNumbered
	versionCurrent
)

// Version identifies a migration. Versions are ordered segment by segment:
// numeric segments compare numerically, anything else lexically, and a numeric
// segment sorts before an alphanumeric one. Missing trailing segments count
// as zero, so "1.0" and "1.0.0" are the same version.
//
// The zero value is Undefined.
type Version struct {
	kind  versionKind
	text  string
	parts []string
}

var (
	// Undefined sorts below every parsed version.
	Undefined = Version{kind: versionUndefined}

	// Current stands for the highest successfully applied version. It is
	// never stored and sorts above every parsed version.
	Current = Version{kind: versionCurrent}
)

var ErrInvalidVersion = errors.New("invalid version")

type ParseError struct {
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrInvalidVersion, e.Text, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrInvalidVersion
}

// ---

func ParseVersion(text string) (Version, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Undefined, &ParseError{Text: text, Reason: "empty version"}
	}

	parts := strings.FieldsFunc(trimmed, isVersionSeparator)
	if len(parts) == 0 || strings.Count(trimmed, ".")+strings.Count(trimmed, "-")+1 != len(parts) {
		return Undefined, &ParseError{Text: text, Reason: "empty segment"}
	}

	for _, part := range parts {
		for _, c := range part {
			if !isVersionRune(c) {
				return Undefined, &ParseError{
					Text:   text,
					Reason: fmt.Sprintf("symbol %q is not allowed", c),
				}
			}
		}
	}

	return Version{kind: versionNumbered, text: trimmed, parts: parts}, nil
}

func MustParseVersion(text string) Version {
	v, err := ParseVersion(text)
	if err != nil {
		panic(err)
	}
	return v
}

func isVersionSeparator(c rune) bool {
	return c == '.' || c == '-'
}

func isVersionRune(c rune) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// ---

func (v Version) IsUndefined() bool {
	return v.kind == versionUndefined
}

func (v Version) IsCurrent() bool {
	return v.kind == versionCurrent
}

func (v Version) String() string {
	switch v.kind {
	case versionUndefined:
		return "<< undefined >>"
	case versionCurrent:
		return "<< current >>"
	default:
		return v.text
	}
}

// Key is a canonical form of the version suitable for map keys: versions
// that compare equal have equal keys.
func (v Version) Key() string {
	switch v.kind {
	case versionUndefined:
		return ""
	case versionCurrent:
		return "~current"
	}

	parts := make([]string, len(v.parts))
	for i, part := range v.parts {
		if isNumeric(part) {
			parts[i] = trimZeros(part)
		} else {
			parts[i] = part
		}
	}

	end := len(parts)
	for end > 1 && parts[end-1] == "0" {
		end--
	}

	return strings.Join(parts[:end], ".")
}

func (v Version) Equal(other Version) bool {
	return v.Compare(other) == 0
}

func (v Version) Less(other Version) bool {
	return v.Compare(other) < 0
}

func (v Version) Compare(other Version) int {
	if v.kind != other.kind {
		return compareKinds(v.kind, other.kind)
	}
	if v.kind != versionNumbered {
		return 0
	}

	n := len(v.parts)
	if len(other.parts) > n {
		n = len(other.parts)
	}

	for i := 0; i < n; i++ {
		if c := compareSegments(segment(v.parts, i), segment(other.parts, i)); c != 0 {
			return c
		}
	}

	return 0
}

func (v Version) MarshalText() ([]byte, error) {
	if v.kind != versionNumbered {
		return []byte{}, nil
	}
	return []byte(v.text), nil
}

func (v *Version) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*v = Undefined
		return nil
	}
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ---

func compareKinds(a, b versionKind) int {
	rank := func(k versionKind) int {
		switch k {
		case versionUndefined:
			return 0
		case versionNumbered:
			return 1
		default:
			return 2
		}
	}
	if rank(a) < rank(b) {
		return -1
	}
	return 1
}

func segment(parts []string, i int) string {
	if i < len(parts) {
		return parts[i]
	}
	return "0"
}

func compareSegments(a, b string) int {
	aNum, bNum := isNumeric(a), isNumeric(b)

	switch {
	case aNum && bNum:
		a, b = trimZeros(a), trimZeros(b)
		if len(a) != len(b) {
			if len(a) < len(b) {
				return -1
			}
			return 1
		}
		return strings.Compare(a, b)
	case aNum:
		return -1
	case bNum:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func trimZeros(s string) string {
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}
