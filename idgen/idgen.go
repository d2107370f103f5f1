// Package idgen produces run identifiers. IDs are UUID v7 (time-sortable)
// with a short prefix naming the kind of run, e.g. "cap_0193...".
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every ID from gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is the base generator the prefixed ones build on. Tests may swap it.
var Default Generator = UUIDv7()

// Run-kind generators.
var (
	Capture = Prefixed("cap_", func() string { return Default() })
	Images  = Prefixed("img_", func() string { return Default() })
	Archive = Prefixed("arc_", func() string { return Default() })
)

// New produces an unprefixed ID from Default.
func New() string {
	return Default()
}

// Valid reports whether id is a prefixed run ID with a well-formed UUID.
func Valid(id string) bool {
	_, rest, ok := strings.Cut(id, "_")
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
