// Package uuidx creates the time-ordered identifiers used for jobs and
// subscriptions.
package uuidx

import "github.com/google/uuid"

// New returns a fresh v7 UUID. v7 IDs carry a timestamp prefix, so they sort
// by creation time. Panics when the system's randomness source fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns a fresh v7 UUID in its string form.
func NewString() string {
	return New().String()
}
