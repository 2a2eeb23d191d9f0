package vault

import "errors"

var (
	// ErrEmptyValue indicates an attempt to store an empty secret value.
	ErrEmptyValue = errors.New("secret value must not be empty")
	// ErrEmptyKeyName indicates a missing key name.
	ErrEmptyKeyName = errors.New("key name must not be empty")
	// ErrDecryptFailed indicates an authentication-tag failure: the
	// stored ciphertext was tampered with or was sealed under a
	// different key. Callers must not treat this as absence.
	ErrDecryptFailed = errors.New("secret decryption failed")
)
