package mfa

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/jmcleod/aegis/internal/util"
)

const (
	// recoveryCodeCount is the number of one-time codes per batch.
	recoveryCodeCount = 10
	// recoveryCodeBytes gives 80 bits of entropy per code, hex-encoded.
	recoveryCodeBytes = 10
)

// generateRecoveryCodes creates a batch of single-use recovery codes,
// returning the plaintext codes (shown to the user once) and their
// SHA-256 hashes (the only form persisted after enrollment completes).
func generateRecoveryCodes(count int) (plaintext, hashed []string, err error) {
	plaintext = make([]string, count)
	hashed = make([]string, count)
	for i := 0; i < count; i++ {
		code, err := util.RandomHex(recoveryCodeBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("generating recovery code: %w", err)
		}
		// Group as xxxx-xxxx-xxxx-xxxx-xxxx for readability.
		var parts []string
		for j := 0; j < len(code); j += 4 {
			parts = append(parts, code[j:j+4])
		}
		plaintext[i] = strings.Join(parts, "-")
		hashed[i] = hashRecoveryCode(plaintext[i])
	}
	return plaintext, hashed, nil
}

// hashRecoveryCode computes the hex SHA-256 of a code normalized to
// lowercase with separators removed.
func hashRecoveryCode(code string) string {
	normalized := strings.ToLower(strings.ReplaceAll(code, "-", ""))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// matchRecoveryCode finds input among the remaining hashed codes using
// constant-time comparison. It returns the matching index, or -1.
func matchRecoveryCode(hashed []string, input string) int {
	candidate := []byte(hashRecoveryCode(input))
	for i, h := range hashed {
		if subtle.ConstantTimeCompare(candidate, []byte(h)) == 1 {
			return i
		}
	}
	return -1
}
