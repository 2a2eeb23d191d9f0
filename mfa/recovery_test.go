package mfa

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRecoveryCodes(t *testing.T) {
	plaintext, hashed, err := generateRecoveryCodes(recoveryCodeCount)
	require.NoError(t, err)
	require.Len(t, plaintext, recoveryCodeCount)
	require.Len(t, hashed, recoveryCodeCount)

	seen := make(map[string]bool)
	for i, code := range plaintext {
		parts := strings.Split(code, "-")
		assert.Len(t, parts, 5)
		for _, p := range parts {
			assert.Len(t, p, 4)
		}
		assert.Equal(t, hashRecoveryCode(code), hashed[i])
		assert.False(t, seen[code], "codes must be unique")
		seen[code] = true
	}
}

func TestMatchRecoveryCode(t *testing.T) {
	plaintext, hashed, err := generateRecoveryCodes(3)
	require.NoError(t, err)

	assert.Equal(t, 1, matchRecoveryCode(hashed, plaintext[1]))
	assert.Equal(t, -1, matchRecoveryCode(hashed, "0000-0000-0000-0000-0000"))
}

func TestMatchRecoveryCode_IgnoresCaseAndDashes(t *testing.T) {
	plaintext, hashed, err := generateRecoveryCodes(1)
	require.NoError(t, err)

	bare := strings.ReplaceAll(plaintext[0], "-", "")
	assert.Equal(t, 0, matchRecoveryCode(hashed, strings.ToUpper(bare)))
}
