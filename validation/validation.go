package validation

import (
	"regexp"
	"strings"

	"github.com/nijaru/yt-transcript/errors"
)

// Policy decides what happens when no known video reference shape matches.
type Policy int

const (
	// Strict rejects unrecognized input with an InvalidReference error.
	Strict Policy = iota
	// Permissive returns unrecognized input unchanged.
	Permissive
)

func (p Policy) String() string {
	if p == Permissive {
		return "permissive"
	}
	return "strict"
}

const idPattern = `[A-Za-z0-9_-]{11}`

var (
	bareID = regexp.MustCompile(`^` + idPattern + `$`)

	// Tried in order after the bare ID check; first match wins.
	referenceShapes = []*regexp.Regexp{
		regexp.MustCompile(`[?&]v=(` + idPattern + `)`),
		regexp.MustCompile(`youtu\.be/(` + idPattern + `)`),
		regexp.MustCompile(`youtube\.com/embed/(` + idPattern + `)`),
		regexp.MustCompile(`youtube\.com/v/(` + idPattern + `)`),
	}

	languageCode = regexp.MustCompile(`^[A-Za-z]{2,3}(-[A-Za-z0-9]{1,8})*$`)
)

// IsVideoID reports whether s is already a canonical video ID.
func IsVideoID(s string) bool {
	return bareID.MatchString(s)
}

// ExtractVideoID canonicalizes a bare ID, watch URL, short link or embed link
// into the 11 character video ID.
func ExtractVideoID(input string, policy Policy) (string, error) {
	const op = "validation.ExtractVideoID"

	ref := strings.TrimSpace(input)
	if bareID.MatchString(ref) {
		return ref, nil
	}
	for _, shape := range referenceShapes {
		if m := shape.FindStringSubmatch(ref); m != nil {
			return m[1], nil
		}
	}

	if policy == Permissive {
		return input, nil
	}
	return "", errors.InvalidReference(op, input)
}

// Canonicalize applies the Strict policy.
func Canonicalize(input string) (string, error) {
	return ExtractVideoID(input, Strict)
}

// CanonicalizePermissive applies the Permissive policy.
func CanonicalizePermissive(input string) string {
	id, _ := ExtractVideoID(input, Permissive)
	return id
}

// ValidateLanguage checks a BCP 47 style language code such as "en" or "pt-BR".
func ValidateLanguage(lang string) error {
	const op = "validation.ValidateLanguage"

	if lang == "" {
		return errors.InvalidInput(op, nil, "Language code is required")
	}
	if !languageCode.MatchString(lang) {
		return errors.InvalidInput(op, nil, "Invalid language code: "+lang)
	}
	return nil
}
