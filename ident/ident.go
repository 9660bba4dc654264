// Package ident mints and validates entry identifiers and maps them onto
// storage keys under a fixed namespace prefix.
//
// Identifiers are UUID-shaped (canonical 8-4-4-4-12 hex form). A key is the
// prefix followed by the identifier; the two are never interchangeable.
package ident

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidIdentifier is returned when a client-supplied id is not UUID-shaped.
var ErrInvalidIdentifier = errors.New("capcache: invalid identifier")

// InvalidError carries the rejected candidate.
type InvalidError struct {
	Candidate string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("capcache: invalid identifier %q: expected uuid", e.Candidate)
}

func (e *InvalidError) Unwrap() error { return ErrInvalidIdentifier }

// Service is safe for concurrent use. The prefix is fixed at construction.
type Service struct {
	prefix string
}

func New(prefix string) *Service {
	return &Service{prefix: prefix}
}

func (s *Service) Prefix() string { return s.prefix }

// Generate returns a fresh random (v4) identifier.
func (s *Service) Generate() string {
	return uuid.NewString()
}

// Validate accepts only the canonical 36-char form and returns it lower-cased.
// uuid.Parse alone also takes urn:uuid:, braced and undashed forms, which
// would let two spellings of one uuid map to different keys.
func (s *Service) Validate(candidate string) (string, error) {
	if len(candidate) != 36 {
		return "", &InvalidError{Candidate: candidate}
	}
	if _, err := uuid.Parse(candidate); err != nil {
		return "", &InvalidError{Candidate: candidate}
	}
	return strings.ToLower(candidate), nil
}

// Resolve generates an id when candidate is empty and validates it otherwise.
func (s *Service) Resolve(candidate string) (string, error) {
	if candidate == "" {
		return s.Generate(), nil
	}
	return s.Validate(candidate)
}

// DeriveKey returns prefix + id, with the id lower-cased so every hex
// spelling of one uuid lands on the same key.
func (s *Service) DeriveKey(id string) string {
	return s.prefix + strings.ToLower(id)
}
