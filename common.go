package mls

import (
	"crypto/subtle"
	"errors"
	"fmt"
)

// Error kinds surfaced by this package.  Callers match them with
// errors.Is; the wrapping message carries the specific context.
var (
	ErrUnsupported             = errors.New("mls: unsupported algorithm")
	ErrInvalidParameter        = errors.New("mls: invalid parameter")
	ErrWelcomeDecryptionFailed = errors.New("mls: welcome decryption failed")
	ErrProtocol                = errors.New("mls: protocol error")
)

func dup(in []byte) []byte {
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func validateEnum(v interface{}, known ...interface{}) error {
	for _, kv := range known {
		if v == kv {
			return nil
		}
	}
	return fmt.Errorf("Unknown enum value: %v", v)
}

func zeroize(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// constantTimeEq compares equal-length byte strings without leaking a
// mismatch position.  Unequal lengths compare unequal immediately;
// length is not secret for the tags this package compares.
func constantTimeEq(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
