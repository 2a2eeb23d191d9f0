// Package uuid wraps the upstream UUID library behind the one function
// the rest of the codebase needs.
package uuid

import "github.com/google/uuid"

// New returns a random (version 4) UUID string.
func New() string {
	return uuid.NewString()
}
