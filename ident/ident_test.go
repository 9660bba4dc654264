package ident

import (
	"errors"
	"strings"
	"testing"
)

func TestGenerateIsValidAndUnique(t *testing.T) {
	s := New("p:")
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := s.Generate()
		if _, err := s.Validate(id); err != nil {
			t.Fatalf("generated id %q failed validation: %v", id, err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestValidateRejectsNonCanonical(t *testing.T) {
	s := New("")
	bad := []string{
		"",
		"not-a-uuid",
		"6ba7b8109dad11d180b400c04fd430c8",
		"{6ba7b810-9dad-11d1-80b4-00c04fd430c8}",
		"urn:uuid:6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		"6ba7b810-9dad-11d1-80b4-00c04fd430cz",
		"6ba7b810x9dad-11d1-80b4-00c04fd430c8",
	}
	for _, c := range bad {
		_, err := s.Validate(c)
		if !errors.Is(err, ErrInvalidIdentifier) {
			t.Fatalf("Validate(%q): want ErrInvalidIdentifier, got %v", c, err)
		}
		var ie *InvalidError
		if !errors.As(err, &ie) || ie.Candidate != c {
			t.Fatalf("Validate(%q): missing candidate in error: %v", c, err)
		}
	}
}

func TestCaseSpellingsShareOneKey(t *testing.T) {
	s := New("p:")
	upper := "6BA7B810-9DAD-11D1-80B4-00C04FD430C8"
	lower := "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	got, err := s.Validate(upper)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got != lower {
		t.Fatalf("got %q want %q", got, lower)
	}
	if s.DeriveKey(upper) != s.DeriveKey(lower) {
		t.Fatalf("keys differ: %q vs %q", s.DeriveKey(upper), s.DeriveKey(lower))
	}
}

func TestResolve(t *testing.T) {
	s := New("")
	id, err := s.Resolve("")
	if err != nil || len(id) != 36 {
		t.Fatalf("Resolve(empty) = %q, %v", id, err)
	}
	if _, err := s.Resolve("nope"); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("Resolve(nope): %v", err)
	}
}

func TestDeriveKey(t *testing.T) {
	s := New("tenant-a:")
	id := s.Generate()
	k := s.DeriveKey(id)
	if k != "tenant-a:"+id || !strings.HasSuffix(k, id) {
		t.Fatalf("DeriveKey = %q", k)
	}
	if New("").DeriveKey(id) != id {
		t.Fatalf("empty prefix must yield the bare id")
	}
}
