// Package session generates the opaque identifier that correlates one
// browser visit across the sign-in and queue-membership calls.
package session

import (
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewID returns a fresh session identifier. A random UUID when the secure
// random source cooperates, otherwise a timestamp plus random base36 noise.
// Either way the value is an opaque correlation key, never ordered.
func NewID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	return fallbackID()
}

func fallbackID() string {
	now := strconv.FormatInt(time.Now().UnixNano(), 36)
	a := strconv.FormatUint(rand.Uint64(), 36)
	b := strconv.FormatUint(rand.Uint64(), 36)
	return now + a + b
}
