package config

import (
	"fmt"
	"strings"
)

// ValidationKind classifies a rejected field value.
type ValidationKind string

const (
	InvalidAeTitle              ValidationKind = "invalid_ae_title"
	InvalidPort                 ValidationKind = "invalid_port"
	NegativeValue               ValidationKind = "negative_value"
	OutOfRange                  ValidationKind = "out_of_range"
	InconsistentRetentionPolicy ValidationKind = "inconsistent_retention_policy"
	InvalidChoice               ValidationKind = "invalid_choice"
	InvalidNumber               ValidationKind = "invalid_number"
	InvalidBool                 ValidationKind = "invalid_bool"
	Required                    ValidationKind = "required"
)

// ValidationError reports a field that failed its invariant. The model keeps
// the previous value of that field.
type ValidationError struct {
	Field string
	Kind  ValidationKind
	Value interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Kind, e.Value)
}

// Is lets errors.Is match on kind: errors.Is(err, &ValidationError{Kind: InvalidPort}).
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	if !ok {
		return false
	}
	return (t.Kind == "" || t.Kind == e.Kind) && (t.Field == "" || t.Field == e.Field)
}

func invalid(field string, kind ValidationKind, value interface{}) error {
	return &ValidationError{Field: field, Kind: kind, Value: value}
}

const maxAETitleLen = 16

// CheckAETitle validates an application entity title and returns it with
// surrounding spaces removed.
func CheckAETitle(field, v string) (string, error) {
	t := strings.TrimSpace(v)
	if t == "" || len(t) > maxAETitleLen {
		return "", invalid(field, InvalidAeTitle, v)
	}
	for _, r := range t {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == ' ', r == '_', r == '-', r == '.':
		default:
			return "", invalid(field, InvalidAeTitle, v)
		}
	}
	return t, nil
}

// CheckPort validates a TCP port.
func CheckPort(field string, v int) error {
	if v < 1 || v > 65535 {
		return invalid(field, InvalidPort, v)
	}
	return nil
}

func checkNonNegative(field string, v int) error {
	if v < 0 {
		return invalid(field, NegativeValue, v)
	}
	return nil
}

func checkRange(field string, v, lo, hi int) error {
	if v < lo || v > hi {
		return invalid(field, OutOfRange, v)
	}
	return nil
}

func checkChoice(field, v string, allowed []string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return invalid(field, InvalidChoice, v)
}

func checkRequired(field, v string) (string, error) {
	t := strings.TrimSpace(v)
	if t == "" {
		return "", invalid(field, Required, v)
	}
	return t, nil
}
