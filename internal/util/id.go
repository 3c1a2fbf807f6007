package util

import "github.com/google/uuid"

// NewID returns a random v4 UUID string. Every entity ID in the system
// (works, infringements, users) comes from here.
func NewID() string {
	return uuid.NewString()
}
