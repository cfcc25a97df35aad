package shop

import (
	"strings"

	"github.com/omarrsalif594/sibyl-sub000/pkg/errors"
)

// Reference identifies a technique implementation:
// "category.technique:implementation". The implementation is optional.
type Reference struct {
	Category       string `json:"category"`
	Technique      string `json:"technique"`
	Implementation string `json:"implementation,omitempty"`
}

// ParseReference parses a technique reference. Malformed references return
// a *errors.ResolutionError of kind "reference".
func ParseReference(s string) (Reference, error) {
	malformed := func(reason string) (Reference, error) {
		return Reference{}, &errors.ResolutionError{Kind: "reference", Name: s, Reason: reason}
	}

	key, impl, hasImpl := strings.Cut(strings.TrimSpace(s), ":")
	if hasImpl && (impl == "" || strings.Contains(impl, ":")) {
		return malformed("implementation must be a single non-empty name after ':'")
	}

	category, technique, ok := strings.Cut(key, ".")
	if !ok || category == "" || technique == "" || strings.Contains(technique, ".") {
		return malformed("expected category.technique[:implementation]")
	}

	return Reference{Category: category, Technique: technique, Implementation: impl}, nil
}

// Key is the registry key, "category.technique".
func (r Reference) Key() string {
	return r.Category + "." + r.Technique
}

// String formats the reference in its parseable form.
func (r Reference) String() string {
	if r.Implementation == "" {
		return r.Key()
	}
	return r.Key() + ":" + r.Implementation
}
