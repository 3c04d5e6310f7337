// Package uuid provides cycle and message ID generation.
package uuid

import (
	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 strings so cycle ids sort by start
// time in logs.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string, or a random v4 when the v7 clock read fails.
func (Generator) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
