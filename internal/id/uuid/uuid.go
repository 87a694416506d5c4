// Package uuid generates session and request identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator issues time-ordered UUIDv7 values so session ids sort by start.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewSessionID returns a UUIDv7 for a crawl session.
func (Generator) NewSessionID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate session id: %w", err)
	}
	return id, nil
}

// NewRequestID returns a UUIDv7 string for a queued crawl request.
func (g Generator) NewRequestID() (string, error) {
	id, err := g.NewSessionID()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
