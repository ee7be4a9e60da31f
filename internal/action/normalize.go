package action

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrInvalidAction is returned when an action identifier normalizes to nothing.
var ErrInvalidAction = errors.New("invalid action identifier")

// Canonical is the normalized form of an action identifier and the only key
// the registry accepts.
type Canonical string

func (c Canonical) String() string { return string(c) }

// Normalize lower-cases raw and strips '-', '_' and whitespace, so that
// "openSettings", "open-settings", "OPEN_SETTINGS" and "opensettings" all map
// to the same Canonical. Normalizing a Canonical again returns it unchanged.
func Normalize(raw string) (Canonical, error) {
	lower := cases.Lower(language.Und).String(raw)

	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if r == '-' || r == '_' || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}

	if b.Len() == 0 {
		return "", ErrInvalidAction
	}
	return Canonical(b.String()), nil
}

// MustNormalize is Normalize for identifiers known at compile time.
func MustNormalize(raw string) Canonical {
	c, err := Normalize(raw)
	if err != nil {
		panic("action: " + err.Error() + ": " + raw)
	}
	return c
}
